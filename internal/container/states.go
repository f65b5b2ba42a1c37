package container

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a container writer.
type State int

const (
	// StateIdle is the initial state.
	StateIdle State = iota
	// StateTrackRegistered means the single video track was added.
	StateTrackRegistered
	// StateStarted means the container header was written and samples are accepted.
	StateStarted
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTrackRegistered:
		return "track_registered"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:            {StateTrackRegistered, StateStopped},
	StateTrackRegistered: {StateStarted, StateStopped},
	StateStarted:         {StateStopped},
	StateStopped:         {},
}

// CanTransition reports whether the writer may move from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}
