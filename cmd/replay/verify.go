package main

import (
	"fmt"

	"scenekeeper.ai/internal/events"
)

// summary is what a replay found.
type summary struct {
	Sessions     int
	Events       int
	Loads        int
	Loaded       int
	Failed       int
	InvalidShape int
	Rejected     int
	// Unsettled counts loads cut off by a quit or a restart.
	Unsettled  int
	Violations []string
}

type openLoad struct {
	id        string
	startTick uint64
}

// verifier checks event order one event at a time. A tick that goes
// backwards starts a new server session.
type verifier struct {
	sum      summary
	started  bool
	lastTick uint64
	open     *openLoad
	quit     bool
}

func newVerifier() *verifier { return &verifier{} }

func (v *verifier) violate(e events.Event, format string, args ...any) {
	v.sum.Violations = append(v.sum.Violations, fmt.Sprintf("tick=%d %s: ", e.Tick, e.Kind)+fmt.Sprintf(format, args...))
}

func (v *verifier) Observe(e events.Event) {
	v.sum.Events++
	if !v.started || e.Tick < v.lastTick {
		v.newSession()
	}
	v.lastTick = e.Tick

	if v.quit {
		v.violate(e, "event after quit")
	}

	switch e.Kind {
	case events.SceneUnloaded:
		if v.open != nil {
			v.violate(e, "load %s started while %s in flight", e.LoadID, v.open.id)
		}
		v.sum.Loads++
		v.open = &openLoad{id: e.LoadID, startTick: e.Tick}

	case events.SceneLoaded, events.SceneLoadFailed, events.InvalidSceneShape:
		if v.open == nil || v.open.id != e.LoadID {
			v.violate(e, "load %s settled but was never started", e.LoadID)
			return
		}
		if e.Tick <= v.open.startTick {
			v.violate(e, "load %s settled in the tick it started", e.LoadID)
		}
		switch e.Kind {
		case events.SceneLoaded:
			v.sum.Loaded++
		case events.SceneLoadFailed:
			v.sum.Failed++
		default:
			v.sum.InvalidShape++
		}
		v.open = nil

	case events.LoadAlreadyInProgress:
		v.sum.Rejected++
		if v.open == nil {
			v.violate(e, "rejected with no load in flight")
		} else if e.LoadID != "" && e.LoadID != v.open.id {
			v.violate(e, "rejected citing %s, in flight is %s", e.LoadID, v.open.id)
		}

	case events.InvalidResource:
		v.sum.Rejected++

	case events.QuitRequested:
		if v.open != nil {
			v.sum.Unsettled++
			v.open = nil
		}
		v.quit = true
	}
}

func (v *verifier) newSession() {
	if v.open != nil {
		v.sum.Unsettled++
		v.open = nil
	}
	v.started = true
	v.quit = false
	v.sum.Sessions++
}

// Finish closes the last session and returns the summary.
func (v *verifier) Finish() summary {
	if v.open != nil {
		v.sum.Unsettled++
		v.open = nil
	}
	return v.sum
}
