package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"scenekeeper.ai/internal/scene/node"
)

type probe struct {
	*node.Group
	ticks   int
	physics int
	inputs  int
}

func newProbe(name string) *probe { return &probe{Group: node.NewGroup(name)} }

func (p *probe) Process(time.Duration)        { p.ticks++ }
func (p *probe) PhysicsProcess(time.Duration) { p.physics++ }
func (p *probe) Input(InputEvent)             { p.inputs++ }

type controlProbe struct {
	*node.Control
	inputs int
}

func (c *controlProbe) Input(InputEvent) { c.inputs++ }

func TestEngine_QueueFreeIsDeferredToEndOfTick(t *testing.T) {
	e := New(Config{})
	scene := newProbe("Scene")
	child := newProbe("Child")
	if err := node.AddChild(scene, child); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChild(scene); err != nil {
		t.Fatal(err)
	}

	var validDuringTick bool
	e.AddTask(TaskFunc(func(uint64) {
		e.QueueFree(scene)
		e.QueueFree(scene)
		validDuringTick = e.IsInstanceValid(scene) && e.IsInsideTree(child)
	}))
	e.StepOnce()

	if !validDuringTick {
		t.Fatalf("node must stay valid until the end of the tick")
	}
	if e.IsInstanceValid(scene) || e.IsInstanceValid(child) {
		t.Fatalf("subtree should be freed after the tick")
	}
	if e.IsInsideTree(scene) || len(e.Root().Children()) != 0 {
		t.Fatalf("freed scene still attached")
	}
	if scene.ticks != 1 {
		t.Fatalf("scene processed %d times, want 1", scene.ticks)
	}
}

func TestEngine_PauseModes(t *testing.T) {
	e := New(Config{})
	scene := newProbe("Scene")
	world := newProbe("World")
	gui := newProbe("Gui")
	inner := newProbe("Inner")
	for _, c := range []node.Node{world, gui} {
		if err := node.AddChild(scene, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := node.AddChild(world, inner); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChild(scene); err != nil {
		t.Fatal(err)
	}
	scene.SetPauseMode(node.PauseProcess)
	world.SetPauseMode(node.PauseStop)
	gui.SetPauseMode(node.PauseProcess)

	e.SetPaused(true)
	if e.PhysicsActive() {
		t.Fatalf("pausing should park physics")
	}
	e.StepOnce()

	if scene.ticks != 1 || gui.ticks != 1 {
		t.Fatalf("process-mode nodes should run: scene=%d gui=%d", scene.ticks, gui.ticks)
	}
	if world.ticks != 0 || inner.ticks != 0 {
		t.Fatalf("stopped subtree ran: world=%d inner=%d", world.ticks, inner.ticks)
	}
	if gui.physics != 0 {
		t.Fatalf("physics ran while parked")
	}
	if e.CanProcess(inner) || !e.CanProcess(gui) {
		t.Fatalf("CanProcess disagrees with the walk")
	}

	e.SetPhysicsActive(true)
	e.StepOnce()
	if gui.physics != 1 {
		t.Fatalf("physics should run once re-enabled, got %d", gui.physics)
	}

	e.SetPaused(false)
	e.StepOnce()
	if world.ticks != 1 || inner.ticks != 1 {
		t.Fatalf("unpaused tree should run everything")
	}
}

func TestEngine_RootInheritStopsWhilePaused(t *testing.T) {
	e := New(Config{})
	p := newProbe("Loose")
	if err := e.AddChild(p); err != nil {
		t.Fatal(err)
	}
	e.SetPaused(true)
	e.StepOnce()
	if p.ticks != 0 || e.LastProcessed() != 0 {
		t.Fatalf("inherit-mode node ran under a paused root")
	}
}

func TestEngine_GuiInputSwitchGatesControlsOnly(t *testing.T) {
	e := New(Config{})
	world := newProbe("World")
	button := &controlProbe{Control: node.NewControl("Button")}
	if err := e.AddChild(world); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChild(button); err != nil {
		t.Fatal(err)
	}

	if got := e.DispatchInput(InputEvent{Action: "ui_accept", Pressed: true}); got != 2 {
		t.Fatalf("delivered %d, want 2", got)
	}
	e.SetGuiInputDisabled(true)
	if got := e.DispatchInput(InputEvent{Action: "ui_accept"}); got != 1 {
		t.Fatalf("delivered %d with gui input disabled, want 1", got)
	}
	if button.inputs != 1 || world.inputs != 2 {
		t.Fatalf("button=%d world=%d", button.inputs, world.inputs)
	}
}

func TestEngine_SubmitRunsOnNextTickInOrder(t *testing.T) {
	e := New(Config{})
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if err := e.Submit(func() { order = append(order, i) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if len(order) != 0 {
		t.Fatalf("submitted work ran early")
	}
	if tick := e.StepOnce(); tick != 0 || e.CurrentTick() != 1 {
		t.Fatalf("tick numbering: stepped=%d current=%d", tick, e.CurrentTick())
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Fatalf("order: %v", order)
	}
}

func TestEngine_SubmitReportsBusy(t *testing.T) {
	e := New(Config{RequestQueue: 1})
	if err := e.Submit(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(func() {}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestEngine_RunDoAndQuit(t *testing.T) {
	e := New(Config{TickRateHz: 200})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	ran := false
	if err := e.Do(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatalf("Do returned before running")
	}

	if err := e.Do(ctx, e.Quit); err != nil && !errors.Is(err, ErrStopped) {
		t.Fatalf("Do(Quit): %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("Run did not return after Quit")
	}
	if !e.QuitRequested() {
		t.Fatalf("QuitRequested should be true")
	}
	if err := e.Submit(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after quit: %v", err)
	}
}

func TestEngine_CancelledRunStopsRequests(t *testing.T) {
	e := New(Config{TickRateHz: 200})
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	select {
	case <-e.Done():
	default:
		t.Fatalf("Done should be closed after Run returns")
	}

	res := make(chan error, 1)
	go func() { res <- e.Do(context.Background(), func() {}) }()
	select {
	case err := <-res:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Do after Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Do blocked after Run returned")
	}
	if err := e.Submit(func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Run: %v", err)
	}
}

func TestEngine_SetTickOnlyMovesForward(t *testing.T) {
	e := New(Config{TickRateHz: 60})
	e.SetTick(40)
	if e.CurrentTick() != 40 {
		t.Fatalf("tick=%d", e.CurrentTick())
	}
	e.SetTick(10)
	if got := e.StepOnce(); got != 40 || e.CurrentTick() != 41 {
		t.Fatalf("step=%d tick=%d", got, e.CurrentTick())
	}
}
