package node

import (
	"fmt"
	"strings"
)

// PauseMode decides whether a node keeps processing while the tree is paused.
type PauseMode int

const (
	PauseInherit PauseMode = iota
	PauseStop
	PauseProcess
)

func (m PauseMode) String() string {
	switch m {
	case PauseInherit:
		return "inherit"
	case PauseStop:
		return "stop"
	case PauseProcess:
		return "process"
	default:
		return "unknown"
	}
}

func ParsePauseMode(s string) (PauseMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inherit":
		return PauseInherit, nil
	case "stop":
		return PauseStop, nil
	case "process":
		return PauseProcess, nil
	default:
		return PauseInherit, fmt.Errorf("unknown pause mode %q", s)
	}
}

// Capability interfaces.
type (
	Processable interface {
		SetProcess(enabled bool)
		SetPhysicsProcess(enabled bool)
		IsProcessing() bool
		IsPhysicsProcessing() bool
	}

	Pausable interface {
		SetPauseMode(m PauseMode)
		PauseMode() PauseMode
	}

	InputCapable interface {
		SetProcessInput(enabled bool)
		IsProcessingInput() bool
	}

	Renderable interface {
		SetVisible(visible bool)
		IsVisible() bool
	}
)

// ProcessFacet gives a node per-tick stepping and a pause mode.
type ProcessFacet struct {
	process bool
	physics bool
	pause   PauseMode
}

func (f *ProcessFacet) SetProcess(enabled bool)        { f.process = enabled }
func (f *ProcessFacet) SetPhysicsProcess(enabled bool) { f.physics = enabled }
func (f *ProcessFacet) IsProcessing() bool             { return f.process }
func (f *ProcessFacet) IsPhysicsProcessing() bool      { return f.physics }
func (f *ProcessFacet) SetPauseMode(m PauseMode)       { f.pause = m }
func (f *ProcessFacet) PauseMode() PauseMode           { return f.pause }

// InputFacet lets a node receive input events.
type InputFacet struct {
	input bool
}

func (f *InputFacet) SetProcessInput(enabled bool) { f.input = enabled }
func (f *InputFacet) IsProcessingInput() bool      { return f.input }

// VisibilityFacet is carried by nodes that draw something.
type VisibilityFacet struct {
	visible bool
}

func (f *VisibilityFacet) SetVisible(visible bool) { f.visible = visible }
func (f *VisibilityFacet) IsVisible() bool         { return f.visible }
