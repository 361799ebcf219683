// Package gamestate owns the active scene, drives scene transitions one
// tick at a time and propagates the world/gui play state to the host.
package gamestate

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"scenekeeper.ai/internal/events"
	"scenekeeper.ai/internal/scene/activation"
	"scenekeeper.ai/internal/scene/active"
	"scenekeeper.ai/internal/scene/loader"
	"scenekeeper.ai/internal/scene/node"
)

var (
	ErrLoadAlreadyInProgress = errors.New("scene load already in progress")
	ErrFirstSceneMissing     = errors.New("first scene missing")
	ErrQuit                  = errors.New("game is quitting")
	ErrNoScene               = errors.New("no active scene")
	ErrNodeNotFound          = errors.New("node not found")
)

// Host is the engine surface the coordinator drives. *engine.Engine
// implements it.
type Host interface {
	Root() node.Node
	AddChild(n node.Node) error
	IsInsideTree(n node.Node) bool
	IsInstanceValid(n node.Node) bool
	QueueFree(n node.Node)
	SetPaused(paused bool)
	SetGuiInputDisabled(disabled bool)
	SetPhysicsActive(active bool)
	CurrentTick() uint64
	SetTick(tick uint64)
	Quit()
}

type Config struct {
	Host          Host
	Bus           *events.Bus
	Resolver      loader.Resolver
	LoaderOptions loader.Options
	Logger        *log.Logger
	Debug         bool
}

type Coordinator struct {
	host     Host
	bus      *events.Bus
	resolver loader.Resolver
	loadOpts loader.Options
	log      *log.Logger
	debug    bool

	scene *active.Scene
	world State
	gui   State
	run   *loadRun
	quit  bool
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("gamestate: host is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("gamestate: bus is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("gamestate: resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.LoaderOptions.Logger == nil {
		cfg.LoaderOptions.Logger = cfg.Logger
	}
	return &Coordinator{
		host:     cfg.Host,
		bus:      cfg.Bus,
		resolver: cfg.Resolver,
		loadOpts: cfg.LoaderOptions,
		log:      cfg.Logger,
		debug:    cfg.Debug,
	}, nil
}

// Start adopts the first child of the host root as the current scene. A
// missing or malformed scene is logged and reported on the bus; the
// coordinator keeps running without a scene.
func (c *Coordinator) Start() error {
	if c.quit {
		return ErrQuit
	}
	var first node.Node
	if kids := c.host.Root().Children(); len(kids) > 0 {
		first = kids[0]
	}
	if first == nil {
		return c.firstSceneMissing(errors.New("root has no children"))
	}
	scene, err := active.New(first)
	if err != nil {
		return c.firstSceneMissing(err)
	}
	c.scene = scene
	c.log.Printf("current scene: %s", scene.Name())
	c.apply(Play, Play)
	return nil
}

func (c *Coordinator) firstSceneMissing(cause error) error {
	err := fmt.Errorf("%w: %v", ErrFirstSceneMissing, cause)
	c.log.Printf("WARN: %v", err)
	c.emit(events.Event{Kind: events.FirstSceneMissing, Reason: cause.Error()})
	return err
}

// LoadScene starts replacing the current scene with the one named by id.
// Resolution happens before anything else changes; the rest of the
// transition runs across subsequent calls to Step.
func (c *Coordinator) LoadScene(id string) (*LoadOp, error) {
	if c.quit {
		return nil, ErrQuit
	}
	if c.run != nil {
		c.log.Printf("load %q rejected: %s still loading", id, c.run.op.Identifier)
		c.emit(events.Event{
			Kind:   events.LoadAlreadyInProgress,
			Scene:  strings.TrimSpace(id),
			LoadID: c.run.op.ID.String(),
			Reason: "load of " + c.run.op.Identifier + " in flight",
		})
		return nil, ErrLoadAlreadyInProgress
	}

	ld := loader.New(c.resolver, c.loadOpts)
	h, err := ld.BeginLoad(id)
	if err != nil {
		c.log.Printf("load %q: %v", id, err)
		c.emit(events.Event{Kind: events.InvalidResource, Scene: strings.TrimSpace(id), Reason: err.Error()})
		return nil, err
	}

	op := newLoadOp(h.ID, h.Identifier)
	r := &loadRun{op: op, loader: ld, handle: h}
	c.run = r

	c.apply(Pause, Pause)

	var old node.Node
	unloaded := events.Event{Kind: events.SceneUnloaded, LoadID: op.ID.String()}
	if c.scene != nil {
		old = c.scene.Root()
		unloaded.Scene = c.scene.Name()
	}
	c.emit(unloaded)

	if old != nil {
		c.host.QueueFree(old)
		c.scene = nil
		c.Debugf("teardown of %s queued", node.Path(old))
	}
	r.phase = phaseTeardown
	r.wait = newAwait(func() (bool, error) {
		return old == nil || !c.host.IsInstanceValid(old), nil
	})
	return op, nil
}

// Step advances the in-flight load by one poll. It is registered with the
// engine scheduler and runs once per tick.
func (c *Coordinator) Step(tick uint64) {
	r := c.run
	if r == nil || c.quit {
		return
	}
	done, err := r.wait.poll()
	if !done {
		return
	}
	switch r.phase {
	case phaseTeardown:
		c.Debugf("teardown confirmed after %d polls (tick=%d)", r.wait.polls, tick)
		r.phase = phaseLoad
		r.wait = newAwait(r.pollLoader)
	case phaseLoad:
		if err != nil {
			c.failLoad(r, events.SceneLoadFailed, err)
			return
		}
		c.Debugf("%s loaded after %d polls (tick=%d)", r.op.Identifier, r.wait.polls, tick)
		c.attach(r)
	}
}

func (c *Coordinator) attach(r *loadRun) {
	scene, err := active.New(r.payload)
	if err != nil {
		c.host.QueueFree(r.payload)
		c.failLoad(r, events.InvalidSceneShape, err)
		return
	}
	if !c.host.IsInsideTree(scene.Root()) {
		if err := c.host.AddChild(scene.Root()); err != nil {
			c.host.QueueFree(r.payload)
			c.failLoad(r, events.SceneLoadFailed, fmt.Errorf("%w: attach %s: %v", loader.ErrResourceLoadFailed, r.op.Identifier, err))
			return
		}
	}
	c.scene = scene
	c.log.Printf("scene %s attached as %s", r.op.Identifier, node.Path(scene.Root()))
	c.emit(events.Event{Kind: events.SceneLoaded, Scene: r.op.Identifier, LoadID: r.op.ID.String()})
	c.apply(Play, Play)
	c.run = nil
	r.op.finish(scene, nil)
}

func (c *Coordinator) failLoad(r *loadRun, kind events.Kind, err error) {
	c.log.Printf("load %s failed: %v", r.op.Identifier, err)
	c.emit(events.Event{Kind: kind, Scene: r.op.Identifier, LoadID: r.op.ID.String(), Reason: err.Error()})
	c.run = nil
	r.op.finish(nil, err)
}

// SetGameState applies both axes immediately, mid-load included.
func (c *Coordinator) SetGameState(world, gui State) error {
	if c.quit {
		return ErrQuit
	}
	c.apply(world, gui)
	return nil
}

func (c *Coordinator) apply(world, gui State) {
	if c.scene != nil {
		w := c.scene.World()
		if world == Play {
			w.SetPauseMode(node.PauseProcess)
		} else {
			w.SetPauseMode(node.PauseStop)
		}
		g := c.scene.Gui()
		if gui == Play {
			g.SetPauseMode(node.PauseProcess)
		} else {
			g.SetPauseMode(node.PauseStop)
		}
	}
	c.host.SetGuiInputDisabled(gui == Pause)

	paused := GlobalPaused(world, gui)
	c.host.SetPaused(paused)
	if paused {
		// Physics stays active while paused.
		c.host.SetPhysicsActive(true)
	}
	c.world, c.gui = world, gui
	c.Debugf("game state world=%s gui=%s paused=%t", world, gui, paused)
	c.emit(events.Event{Kind: events.GameStateChanged, WorldState: world.String(), GuiState: gui.String()})
}

// SetNodeActive toggles the subtree at path, relative to the current scene
// root ("World/Player"). An empty path targets the scene root.
func (c *Coordinator) SetNodeActive(path string, enabled bool) error {
	if c.quit {
		return ErrQuit
	}
	if c.scene == nil {
		return ErrNoScene
	}
	n := c.scene.Root()
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		if n = node.FindChild(n, part); n == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, path)
		}
	}
	activation.SetActive(n, enabled)
	c.Debugf("set %s active=%t", node.Path(n), enabled)
	return nil
}

// QuitGame asks the host to shut down. Every later call fails with ErrQuit,
// and a load still in flight completes with ErrQuit.
func (c *Coordinator) QuitGame() error {
	if c.quit {
		return ErrQuit
	}
	c.quit = true
	c.log.Printf("quit requested")
	c.emit(events.Event{Kind: events.QuitRequested})
	if r := c.run; r != nil {
		c.run = nil
		r.op.finish(nil, ErrQuit)
	}
	c.host.Quit()
	return nil
}

func (c *Coordinator) CurrentScene() *active.Scene { return c.scene }
func (c *Coordinator) WorldState() State           { return c.world }
func (c *Coordinator) GuiState() State             { return c.gui }
func (c *Coordinator) GlobalPaused() bool          { return GlobalPaused(c.world, c.gui) }
func (c *Coordinator) LoadInProgress() bool        { return c.run != nil }
func (c *Coordinator) Quit() bool                  { return c.quit }

// Status is a point-in-time copy of the coordinator state for observers.
type Status struct {
	Scene          string
	World          State
	Gui            State
	Paused         bool
	LoadInProgress bool
	LoadID         string
	Loading        string
	LoadStage      loader.Stage
	Quit           bool
}

func (c *Coordinator) Status() Status {
	st := Status{
		World:          c.world,
		Gui:            c.gui,
		Paused:         c.GlobalPaused(),
		LoadInProgress: c.run != nil,
		Quit:           c.quit,
	}
	if c.scene != nil {
		st.Scene = c.scene.Name()
	}
	if r := c.run; r != nil {
		st.LoadID = r.op.ID.String()
		st.Loading = r.op.Identifier
		st.LoadStage = r.loader.Progress().Stage
	}
	return st
}

// Debugf logs only when the coordinator runs with debug enabled.
func (c *Coordinator) Debugf(format string, args ...any) {
	if !c.debug {
		return
	}
	c.log.Printf("[debug] "+format, args...)
}

func (c *Coordinator) emit(e events.Event) {
	e.Tick = c.host.CurrentTick()
	c.bus.Emit(e)
}

type loadPhase int

const (
	phaseTeardown loadPhase = iota
	phaseLoad
)

type loadRun struct {
	op      *LoadOp
	loader  *loader.Loader
	handle  loader.Handle
	phase   loadPhase
	wait    *await
	payload node.Node
}

func (r *loadRun) pollLoader() (bool, error) {
	res := r.loader.Poll(r.handle)
	switch res.Kind {
	case loader.Continue:
		return false, nil
	case loader.Done:
		r.payload = res.Payload
		return true, nil
	default:
		return true, res.Err
	}
}

// await is a condition re-checked once per tick until it reports done.
// Teardown confirmation and loader polling both suspend on it.
type await struct {
	check func() (bool, error)
	polls int
}

func newAwait(check func() (bool, error)) *await { return &await{check: check} }

func (a *await) poll() (bool, error) {
	a.polls++
	return a.check()
}

// LoadOp tracks one LoadScene call until it settles.
type LoadOp struct {
	ID         uuid.UUID
	Identifier string

	done  chan struct{}
	err   error
	scene *active.Scene
}

func newLoadOp(id uuid.UUID, identifier string) *LoadOp {
	return &LoadOp{ID: id, Identifier: identifier, done: make(chan struct{})}
}

func (o *LoadOp) finish(scene *active.Scene, err error) {
	o.scene, o.err = scene, err
	close(o.done)
}

// Done is closed once the load has completed or failed.
func (o *LoadOp) Done() <-chan struct{} { return o.done }

// Err is nil until Done is closed.
func (o *LoadOp) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

func (o *LoadOp) Scene() *active.Scene {
	select {
	case <-o.done:
		return o.scene
	default:
		return nil
	}
}
