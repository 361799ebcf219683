package gamestate

import (
	"fmt"
	"strings"
)

// State is the play/pause state of one axis (world or gui).
type State int

const (
	Play State = iota
	Pause
)

func (s State) String() string {
	switch s {
	case Play:
		return "PLAY"
	case Pause:
		return "PAUSE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PLAY":
		return Play, nil
	case "PAUSE":
		return Pause, nil
	default:
		return Play, fmt.Errorf("unknown game state %q", s)
	}
}

// GlobalPaused derives the scheduler pause flag from the two axes.
func GlobalPaused(world, gui State) bool {
	return world == Pause || gui == Pause
}
