// Package events is the notification bus the coordinator reports scene
// lifecycle changes on. Delivery is synchronous and fire-and-forget.
package events

import (
	"io"
	"log"
	"sync"
)

type Kind string

const (
	SceneUnloaded         Kind = "SCENE_UNLOADED"
	SceneLoaded           Kind = "SCENE_LOADED"
	LoadAlreadyInProgress Kind = "LOAD_ALREADY_IN_PROGRESS"
	SceneLoadFailed       Kind = "SCENE_LOAD_FAILED"
	InvalidSceneShape     Kind = "INVALID_SCENE_SHAPE"
	InvalidResource       Kind = "INVALID_RESOURCE"
	FirstSceneMissing     Kind = "FIRST_SCENE_MISSING"
	GameStateChanged      Kind = "GAME_STATE_CHANGED"
	QuitRequested         Kind = "QUIT_REQUESTED"
)

// Kinds lists every event kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		SceneUnloaded, SceneLoaded, LoadAlreadyInProgress, SceneLoadFailed,
		InvalidSceneShape, InvalidResource, FirstSceneMissing, GameStateChanged, QuitRequested,
	}
}

// IsFailure reports whether k signals an error.
func (k Kind) IsFailure() bool {
	switch k {
	case LoadAlreadyInProgress, SceneLoadFailed, InvalidSceneShape, InvalidResource, FirstSceneMissing:
		return true
	}
	return false
}

type Event struct {
	Tick       uint64 `json:"tick"`
	Kind       Kind   `json:"kind"`
	Scene      string `json:"scene,omitempty"`
	LoadID     string `json:"load_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	WorldState string `json:"world_state,omitempty"`
	GuiState   string `json:"gui_state,omitempty"`
}

type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type subscription struct {
	id uint64
	l  Listener
}

type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	nextID uint64
	log    *log.Logger
}

func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Bus{log: logger}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, l: l})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers e to every listener in subscription order. A panicking
// listener is logged and skipped.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		b.deliver(s.l, e)
	}
}

func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Printf("listener panic on %s: %v", e.Kind, r)
		}
	}()
	l.OnEvent(e)
}

// Recorder keeps every event it sees. Useful for tests and status pages.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	out := make([]Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
