package engine

import (
	"time"

	"scenekeeper.ai/internal/scene/node"
)

// Processor is implemented by nodes with per-tick logic.
type Processor interface {
	Process(dt time.Duration)
}

// PhysicsProcessor is implemented by nodes stepped with the physics backend.
type PhysicsProcessor interface {
	PhysicsProcess(dt time.Duration)
}

// InputEvent is a host-level input notification. Device polling lives
// outside this package; the host only routes events.
type InputEvent struct {
	Action  string
	Pressed bool
}

type InputHandler interface {
	Input(ev InputEvent)
}

func (e *Engine) Root() node.Node { return e.root }

// AddChild attaches n under the root.
func (e *Engine) AddChild(n node.Node) error {
	return node.AddChild(e.root, n)
}

// IsInsideTree reports whether n is attached below the root.
func (e *Engine) IsInsideTree(n node.Node) bool {
	if !node.IsValid(n) {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur == node.Node(e.root) {
			return true
		}
	}
	return false
}

// QueueFree schedules n to be detached and freed at the end of the current
// tick. Queuing the same node twice is harmless.
func (e *Engine) QueueFree(n node.Node) {
	if !node.IsValid(n) {
		return
	}
	for _, q := range e.freeQueue {
		if q == n {
			return
		}
	}
	node.MarkQueued(n)
	e.freeQueue = append(e.freeQueue, n)
}

func (e *Engine) IsInstanceValid(n node.Node) bool { return node.IsValid(n) }

// SetPaused pauses or resumes the tree. Pausing also parks the physics
// backend, like the engines this host models; callers that need physics
// observable while paused re-enable it with SetPhysicsActive.
func (e *Engine) SetPaused(paused bool) {
	e.paused = paused
	e.physicsActive = !paused
}

func (e *Engine) Paused() bool { return e.paused }

func (e *Engine) SetGuiInputDisabled(disabled bool) { e.guiInputDisabled = disabled }

func (e *Engine) GuiInputDisabled() bool { return e.guiInputDisabled }

func (e *Engine) SetPhysicsActive(active bool) { e.physicsActive = active }

func (e *Engine) PhysicsActive() bool { return e.physicsActive }

// DispatchInput routes ev to every node that accepts it and returns how many
// did.
func (e *Engine) DispatchInput(ev InputEvent) int {
	delivered := 0
	e.walkAllowed(e.root, !e.paused, func(n node.Node, allowed bool) {
		if !allowed {
			return
		}
		in, ok := n.(node.InputCapable)
		if !ok || !in.IsProcessingInput() {
			return
		}
		if _, isControl := n.(node.GuiControl); isControl && e.guiInputDisabled {
			return
		}
		h, ok := n.(InputHandler)
		if !ok {
			return
		}
		h.Input(ev)
		delivered++
	})
	return delivered
}

// CanProcess reports whether n would be stepped this tick given the pause
// flag and the pause modes along its ancestry.
func (e *Engine) CanProcess(n node.Node) bool {
	if !e.paused {
		return true
	}
	for cur := n; cur != nil; cur = cur.Parent() {
		p, ok := cur.(node.Pausable)
		if !ok {
			continue
		}
		switch p.PauseMode() {
		case node.PauseProcess:
			return true
		case node.PauseStop:
			return false
		}
	}
	return false
}

func (e *Engine) processTree(dt time.Duration) int {
	processed := 0
	e.walkAllowed(e.root, !e.paused, func(n node.Node, allowed bool) {
		if !allowed {
			return
		}
		p, ok := n.(node.Processable)
		if !ok {
			return
		}
		stepped := false
		if pr, ok := n.(Processor); ok && p.IsProcessing() {
			pr.Process(dt)
			stepped = true
		}
		if pp, ok := n.(PhysicsProcessor); ok && p.IsPhysicsProcessing() && e.physicsActive {
			pp.PhysicsProcess(dt)
			stepped = true
		}
		if stepped {
			processed++
		}
	})
	return processed
}

// walkAllowed visits the tree depth-first, passing each node whether its
// effective pause mode lets it run.
func (e *Engine) walkAllowed(n node.Node, inherited bool, fn func(node.Node, bool)) {
	allowed := inherited
	if e.paused {
		if p, ok := n.(node.Pausable); ok {
			switch p.PauseMode() {
			case node.PauseProcess:
				allowed = true
			case node.PauseStop:
				allowed = false
			}
		}
	} else {
		allowed = true
	}
	fn(n, allowed)
	for _, c := range n.Children() {
		e.walkAllowed(c, allowed, fn)
	}
}

func (e *Engine) flushFreeQueue() int {
	n := len(e.freeQueue)
	for _, q := range e.freeQueue {
		node.Free(q)
	}
	e.freeQueue = e.freeQueue[:0]
	return n
}
