// Package engine hosts the scene tree and the cooperative tick loop. All
// tree and coordinator mutation happens on the loop goroutine; other
// goroutines hand work in through Submit or Do.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"scenekeeper.ai/internal/scene/node"
)

var (
	ErrStopped = errors.New("engine stopped")
	ErrBusy    = errors.New("engine request queue full")
)

const (
	DefaultTickRateHz = 60
	RootName          = "root"
)

// Task is stepped once per tick, regardless of the pause flag.
type Task interface {
	Step(tick uint64)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(tick uint64)

func (f TaskFunc) Step(tick uint64) { f(tick) }

type Config struct {
	TickRateHz   int
	RequestQueue int
	Logger       *log.Logger
}

type Engine struct {
	cfg Config
	log *log.Logger

	root             *node.Group
	paused           bool
	guiInputDisabled bool
	physicsActive    bool
	freeQueue        []node.Node
	tasks            []Task

	tick          atomic.Uint64
	fpsBits       atomic.Uint64
	lastProcessed int
	lastStep      time.Time

	requests chan func()
	stop     chan struct{}
	stopOnce sync.Once
	quit     atomic.Bool
}

func New(cfg Config) *Engine {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = DefaultTickRateHz
	}
	if cfg.RequestQueue <= 0 {
		cfg.RequestQueue = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	root := node.NewGroup(RootName)
	return &Engine{
		cfg:           cfg,
		log:           cfg.Logger,
		root:          root,
		physicsActive: true,
		requests:      make(chan func(), cfg.RequestQueue),
		stop:          make(chan struct{}),
	}
}

// AddTask registers t to be stepped every tick, in registration order.
func (e *Engine) AddTask(t Task) { e.tasks = append(e.tasks, t) }

func (e *Engine) TickRateHz() int { return e.cfg.TickRateHz }

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

// SetTick moves the tick counter forward to tick. Lower values are ignored
// so ticks never repeat within a data directory.
func (e *Engine) SetTick(tick uint64) {
	if tick > e.tick.Load() {
		e.tick.Store(tick)
	}
}

// FramesPerSecond is the measured tick rate of Run.
func (e *Engine) FramesPerSecond() float64 {
	return math.Float64frombits(e.fpsBits.Load())
}

// LastProcessed is the number of nodes stepped in the previous tick.
func (e *Engine) LastProcessed() int { return e.lastProcessed }

// Run drives the loop at the configured tick rate until ctx is done or Quit
// is called. Either way Done is closed once Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Quit()
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case fn := <-e.requests:
			fn()
		case now := <-ticker.C:
			e.step(now)
		}
	}
}

// StepOnce advances a single tick using the same ordering as Run. It is
// meant for tests and tools that drive the loop by hand.
func (e *Engine) StepOnce() uint64 {
	return e.step(time.Now())
}

func (e *Engine) step(now time.Time) uint64 {
	nowTick := e.tick.Load()
	dt := time.Second / time.Duration(e.cfg.TickRateHz)
	if !e.lastStep.IsZero() {
		if elapsed := now.Sub(e.lastStep); elapsed > 0 {
			dt = elapsed
			e.fpsBits.Store(math.Float64bits(float64(time.Second) / float64(elapsed)))
		}
	}
	e.lastStep = now

	e.drainRequests()
	for _, t := range e.tasks {
		t.Step(nowTick)
	}
	e.lastProcessed = e.processTree(dt)
	e.flushFreeQueue()

	e.tick.Add(1)
	return nowTick
}

func (e *Engine) drainRequests() {
	for {
		select {
		case fn := <-e.requests:
			fn()
		default:
			return
		}
	}
}

// Submit queues fn to run on the loop goroutine without waiting for it.
func (e *Engine) Submit(fn func()) error {
	if e.quit.Load() {
		return ErrStopped
	}
	select {
	case e.requests <- fn:
		return nil
	default:
		return ErrBusy
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	if e.quit.Load() {
		return ErrStopped
	}
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case e.requests <- wrapped:
	case <-e.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-e.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit asks Run to return. Further Submit and Do calls fail.
func (e *Engine) Quit() {
	e.stopOnce.Do(func() {
		e.quit.Store(true)
		close(e.stop)
		e.log.Printf("quit requested at tick=%d", e.tick.Load())
	})
}

func (e *Engine) QuitRequested() bool { return e.quit.Load() }

// Done is closed once Quit has been called or Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.stop }
