package gamestate

import (
	"context"
	"errors"
	"testing"

	"scenekeeper.ai/internal/engine"
	"scenekeeper.ai/internal/events"
	"scenekeeper.ai/internal/scene/active"
	"scenekeeper.ai/internal/scene/loader"
	"scenekeeper.ai/internal/scene/node"
)

const menuYAML = `
root:
  name: Menu
  kind: group
  children:
    - {name: World, kind: group, children: [{name: Backdrop, kind: canvas_item}]}
    - name: Gui
      kind: canvas_layer
      children:
        - {name: Start, kind: control}
`

const levelYAML = `
root:
  name: LevelB
  kind: group
  children:
    - name: World
      kind: group
      children:
        - {name: Player, kind: canvas_item}
        - {name: Floor, kind: collision_shape}
    - name: Gui
      kind: canvas_layer
      children:
        - {name: Health, kind: control}
`

const noGuiYAML = `
root:
  name: Broken
  kind: group
  children:
    - {name: World, kind: group}
    - {name: Hud, kind: canvas_layer}
`

type fixture struct {
	eng *engine.Engine
	bus *events.Bus
	rec *events.Recorder
	c   *Coordinator
}

func newFixture(t *testing.T, withFirstScene bool) *fixture {
	t.Helper()
	res := loader.MapResolver{Scenes: map[string][]byte{
		"menu":     []byte(menuYAML),
		"level_b":  []byte(levelYAML),
		"no_gui":   []byte(noGuiYAML),
		"corrupt":  []byte("root: {name: X, kind: teapot}"),
		"level_b2": []byte(levelYAML),
	}}
	eng := engine.New(engine.Config{})
	if withFirstScene {
		root, err := loader.LoadNow(context.Background(), res, "menu", loader.Options{})
		if err != nil {
			t.Fatalf("LoadNow: %v", err)
		}
		if err := eng.AddChild(root); err != nil {
			t.Fatal(err)
		}
	}
	bus := events.NewBus(nil)
	rec := &events.Recorder{}
	bus.Subscribe(rec)
	c, err := New(Config{Host: eng, Bus: bus, Resolver: res, LoaderOptions: loader.Options{ReadBytesPerStep: 64}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.AddTask(c)
	return &fixture{eng: eng, bus: bus, rec: rec, c: c}
}

func (f *fixture) settle(t *testing.T, op *LoadOp) {
	t.Helper()
	for i := 0; i < 500; i++ {
		select {
		case <-op.Done():
			return
		default:
		}
		f.eng.StepOnce()
	}
	t.Fatalf("load %s did not settle", op.Identifier)
}

func lifecycle(rec *events.Recorder) []events.Kind {
	var out []events.Kind
	for _, k := range rec.Kinds() {
		if k != events.GameStateChanged {
			out = append(out, k)
		}
	}
	return out
}

func sameKinds(a, b []events.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStart_AdoptsFirstChild(t *testing.T) {
	f := newFixture(t, true)
	if err := f.c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.c.CurrentScene() == nil || f.c.CurrentScene().Name() != "Menu" {
		t.Fatalf("current scene not adopted")
	}
	if f.c.WorldState() != Play || f.c.GuiState() != Play || f.c.GlobalPaused() || f.c.LoadInProgress() {
		t.Fatalf("initial state: %+v", f.c.Status())
	}
	if f.eng.Paused() || f.eng.GuiInputDisabled() {
		t.Fatalf("engine should be running")
	}
}

func TestStart_FirstSceneMissingIsAWarning(t *testing.T) {
	f := newFixture(t, false)
	if err := f.eng.AddChild(node.NewGroup("Splash")); err != nil {
		t.Fatal(err)
	}
	err := f.c.Start()
	if !errors.Is(err, ErrFirstSceneMissing) {
		t.Fatalf("expected ErrFirstSceneMissing, got %v", err)
	}
	if f.c.CurrentScene() != nil {
		t.Fatalf("no scene should be active")
	}
	if !sameKinds(lifecycle(f.rec), []events.Kind{events.FirstSceneMissing}) {
		t.Fatalf("events: %v", f.rec.Kinds())
	}

	// The coordinator stays usable.
	op, err := f.c.LoadScene("menu")
	if err != nil {
		t.Fatalf("LoadScene: %v", err)
	}
	f.settle(t, op)
	if op.Err() != nil || f.c.CurrentScene() == nil {
		t.Fatalf("load after missing first scene: %v", op.Err())
	}
}

func TestLoadScene_HappyPathOrdering(t *testing.T) {
	f := newFixture(t, true)
	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	old := f.c.CurrentScene().Root()

	var trace []string
	f.bus.Subscribe(events.ListenerFunc(func(ev events.Event) {
		switch ev.Kind {
		case events.SceneUnloaded:
			if f.c.WorldState() != Pause || f.c.GuiState() != Pause {
				t.Errorf("scene unloaded before pausing")
			}
			if !f.eng.IsInstanceValid(old) {
				t.Errorf("old scene freed before SceneUnloaded")
			}
			trace = append(trace, "unloaded")
		case events.SceneLoaded:
			if f.eng.IsInstanceValid(old) {
				t.Errorf("old scene still alive at SceneLoaded")
			}
			cur := f.c.CurrentScene()
			if cur == nil || !f.eng.IsInsideTree(cur.Root()) {
				t.Errorf("new scene not attached at SceneLoaded")
			}
			if f.c.WorldState() != Pause {
				t.Errorf("state restored before SceneLoaded")
			}
			trace = append(trace, "loaded")
		}
	}))

	op, err := f.c.LoadScene("res://level_b")
	if err != nil {
		t.Fatalf("LoadScene: %v", err)
	}
	if !f.c.LoadInProgress() || op.ID.String() == "" || op.Identifier != "level_b" {
		t.Fatalf("load not tracked: %+v", f.c.Status())
	}
	if op.Err() != nil || op.Scene() != nil {
		t.Fatalf("op settled early")
	}
	f.settle(t, op)

	if op.Err() != nil {
		t.Fatalf("load failed: %v", op.Err())
	}
	if len(trace) != 2 || trace[0] != "unloaded" || trace[1] != "loaded" {
		t.Fatalf("trace: %v", trace)
	}
	if f.c.WorldState() != Play || f.c.GuiState() != Play || f.c.LoadInProgress() {
		t.Fatalf("final state: %+v", f.c.Status())
	}
	if op.Scene() != f.c.CurrentScene() || f.c.CurrentScene().Name() != "LevelB" {
		t.Fatalf("op scene mismatch")
	}
	if kids := f.eng.Root().Children(); len(kids) != 1 || kids[0].Name() != "LevelB" {
		t.Fatalf("root children: %v", kids)
	}

	evs := f.rec.Events()
	var loaded events.Event
	for _, ev := range evs {
		if ev.Kind == events.SceneLoaded {
			loaded = ev
		}
	}
	if loaded.Scene != "level_b" || loaded.LoadID != op.ID.String() {
		t.Fatalf("SceneLoaded payload: %+v", loaded)
	}
}

func TestLoadScene_TeardownTakesAtLeastOneTick(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	old := f.c.CurrentScene().Root()

	if _, err := f.c.LoadScene("level_b"); err != nil {
		t.Fatal(err)
	}
	if !f.eng.IsInstanceValid(old) {
		t.Fatalf("old scene freed synchronously")
	}
	if f.c.CurrentScene() != nil {
		t.Fatalf("old scene should be released once teardown begins")
	}
	f.eng.StepOnce()
	if f.eng.IsInstanceValid(old) || f.eng.IsInsideTree(old) {
		t.Fatalf("old scene should be gone after one tick")
	}
}

func TestLoadScene_MutualExclusion(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()

	opA, err := f.c.LoadScene("level_b")
	if err != nil {
		t.Fatal(err)
	}
	f.eng.StepOnce()
	opB, err := f.c.LoadScene("menu")
	if !errors.Is(err, ErrLoadAlreadyInProgress) || opB != nil {
		t.Fatalf("second load: op=%v err=%v", opB, err)
	}
	if !f.c.LoadInProgress() {
		t.Fatalf("in-flight load must be unaffected")
	}

	f.settle(t, opA)
	if opA.Err() != nil || f.c.CurrentScene().Name() != "LevelB" {
		t.Fatalf("scene A did not complete: %v", opA.Err())
	}
	want := []events.Kind{events.SceneUnloaded, events.LoadAlreadyInProgress, events.SceneLoaded}
	if got := lifecycle(f.rec); !sameKinds(got, want) {
		t.Fatalf("events: got %v want %v", got, want)
	}
}

func TestLoadScene_InvalidResourceLeavesSceneUntouched(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	before := f.c.CurrentScene()
	f.rec.Reset()

	op, err := f.c.LoadScene("missing")
	if !errors.Is(err, loader.ErrInvalidResource) || op != nil {
		t.Fatalf("expected ErrInvalidResource, got %v", err)
	}
	if f.c.LoadInProgress() {
		t.Fatalf("LoadInProgress set by a failed resolution")
	}
	if f.c.CurrentScene() != before || !f.eng.IsInsideTree(before.Root()) {
		t.Fatalf("previous scene disturbed")
	}
	if f.c.WorldState() != Play || f.c.GuiState() != Play {
		t.Fatalf("state changed on invalid resource")
	}
	if got := f.rec.Kinds(); !sameKinds(got, []events.Kind{events.InvalidResource}) {
		t.Fatalf("events: %v", got)
	}
}

func TestLoadScene_ShapeViolation(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()

	op, err := f.c.LoadScene("no_gui")
	if err != nil {
		t.Fatal(err)
	}
	f.settle(t, op)
	if !errors.Is(op.Err(), active.ErrInvalidSceneShape) {
		t.Fatalf("expected ErrInvalidSceneShape, got %v", op.Err())
	}
	if f.c.CurrentScene() != nil || f.c.LoadInProgress() {
		t.Fatalf("coordinator should end with no scene and no load")
	}
	f.eng.StepOnce()
	if n := len(f.eng.Root().Children()); n != 0 {
		t.Fatalf("payload attached: %d root children", n)
	}
	want := []events.Kind{events.SceneUnloaded, events.InvalidSceneShape}
	if got := lifecycle(f.rec); !sameKinds(got, want) {
		t.Fatalf("events: got %v want %v", got, want)
	}
}

func TestLoadScene_LoadFailureLeavesNoScene(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()

	op, err := f.c.LoadScene("corrupt")
	if err != nil {
		t.Fatal(err)
	}
	f.settle(t, op)
	if !errors.Is(op.Err(), loader.ErrResourceLoadFailed) {
		t.Fatalf("expected ErrResourceLoadFailed, got %v", op.Err())
	}
	if f.c.CurrentScene() != nil || f.c.LoadInProgress() {
		t.Fatalf("degraded state expected")
	}
	want := []events.Kind{events.SceneUnloaded, events.SceneLoadFailed}
	if got := lifecycle(f.rec); !sameKinds(got, want) {
		t.Fatalf("events: got %v want %v", got, want)
	}

	op, err = f.c.LoadScene("level_b2")
	if err != nil {
		t.Fatal(err)
	}
	f.settle(t, op)
	if op.Err() != nil || f.c.WorldState() != Play {
		t.Fatalf("recovery load: %v", op.Err())
	}
}

func TestSetGameState_PausePropagation(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	scene := f.c.CurrentScene()

	if err := f.c.SetGameState(Pause, Play); err != nil {
		t.Fatal(err)
	}
	if !f.c.GlobalPaused() || !f.eng.Paused() {
		t.Fatalf("global pause flag not set")
	}
	if f.eng.CanProcess(scene.World()) {
		t.Fatalf("world should be stopped")
	}
	if !f.eng.CanProcess(scene.Gui()) || f.eng.GuiInputDisabled() {
		t.Fatalf("gui should keep processing and input")
	}
	if !f.eng.PhysicsActive() {
		t.Fatalf("physics must be forced active while paused")
	}

	if err := f.c.SetGameState(Play, Pause); err != nil {
		t.Fatal(err)
	}
	if !f.eng.CanProcess(scene.World()) || f.eng.CanProcess(scene.Gui()) || !f.eng.GuiInputDisabled() {
		t.Fatalf("gui pause not applied")
	}
}

func TestSetGameState_GlobalPauseInvariant(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	for _, w := range []State{Play, Pause} {
		for _, g := range []State{Play, Pause} {
			if err := f.c.SetGameState(w, g); err != nil {
				t.Fatal(err)
			}
			want := w == Pause || g == Pause
			if f.c.GlobalPaused() != want || f.eng.Paused() != want {
				t.Fatalf("world=%s gui=%s: paused=%t engine=%t want %t", w, g, f.c.GlobalPaused(), f.eng.Paused(), want)
			}
			if f.c.WorldState() != w || f.c.GuiState() != g {
				t.Fatalf("states not persisted")
			}
		}
	}
}

func TestSetGameState_MidLoadAndWithoutScene(t *testing.T) {
	f := newFixture(t, false)
	if err := f.c.SetGameState(Pause, Play); err != nil {
		t.Fatalf("no scene: %v", err)
	}
	op, err := f.c.LoadScene("menu")
	if err != nil {
		t.Fatal(err)
	}
	f.eng.StepOnce()
	if err := f.c.SetGameState(Play, Pause); err != nil {
		t.Fatal(err)
	}
	if f.c.GuiState() != Pause || !f.eng.GuiInputDisabled() {
		t.Fatalf("mid-load state not applied immediately")
	}
	f.settle(t, op)
	if f.c.WorldState() != Play || f.c.GuiState() != Play {
		t.Fatalf("completed load should restore play")
	}
}

func TestSetNodeActive(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	if err := f.c.SetNodeActive("World/Backdrop", false); err != nil {
		t.Fatal(err)
	}
	backdrop := node.FindChild(f.c.CurrentScene().World(), "Backdrop").(node.Renderable)
	if backdrop.IsVisible() {
		t.Fatalf("backdrop should be hidden")
	}
	if err := f.c.SetNodeActive("World/Nope", true); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestQuitGame_IsTerminal(t *testing.T) {
	f := newFixture(t, true)
	_ = f.c.Start()
	op, err := f.c.LoadScene("level_b")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.c.QuitGame(); err != nil {
		t.Fatalf("QuitGame: %v", err)
	}
	if !f.eng.QuitRequested() || !f.c.Quit() {
		t.Fatalf("quit not propagated")
	}
	select {
	case <-op.Done():
	default:
		t.Fatalf("in-flight op must settle on quit")
	}
	if !errors.Is(op.Err(), ErrQuit) {
		t.Fatalf("op err: %v", op.Err())
	}
	if _, err := f.c.LoadScene("menu"); !errors.Is(err, ErrQuit) {
		t.Fatalf("LoadScene after quit: %v", err)
	}
	if err := f.c.SetGameState(Play, Play); !errors.Is(err, ErrQuit) {
		t.Fatalf("SetGameState after quit: %v", err)
	}
	if err := f.c.QuitGame(); !errors.Is(err, ErrQuit) {
		t.Fatalf("second QuitGame: %v", err)
	}
	if f.rec.Kinds()[len(f.rec.Kinds())-1] != events.QuitRequested {
		t.Fatalf("QuitRequested not emitted last")
	}
}

func TestParseState(t *testing.T) {
	for in, want := range map[string]State{"PLAY": Play, "pause": Pause, " Play ": Play} {
		got, err := ParseState(in)
		if err != nil || got != want {
			t.Fatalf("ParseState(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseState("STOP"); err == nil {
		t.Fatalf("expected error")
	}
}
