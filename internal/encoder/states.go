package encoder

import (
	"fmt"
	"slices"

	"github.com/jmylchreest/camrec/internal/media"
)

// State is the lifecycle state of an encoder session.
type State int

const (
	// StateUnconfigured is the initial state.
	StateUnconfigured State = iota
	// StateConfigured means parameters were accepted by the backend.
	StateConfigured
	// StateRunning means the backend is started and no output was requested yet.
	StateRunning
	// StateAwaitingFormat means output is being polled but the format is not known.
	StateAwaitingFormat
	// StateFormatKnown means the output format has been revealed.
	StateFormatKnown
	// StateEndOfStream means the end-of-stream marker was submitted or observed.
	StateEndOfStream
	// StateReleased is terminal.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateAwaitingFormat:
		return "awaiting_format"
	case StateFormatKnown:
		return "format_known"
	case StateEndOfStream:
		return "end_of_stream"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transitions lists the states reachable from each state. Release is handled
// separately since it is valid from every state.
var transitions = map[State][]State{
	StateUnconfigured:   {StateConfigured},
	StateConfigured:     {StateRunning},
	StateRunning:        {StateAwaitingFormat, StateFormatKnown, StateEndOfStream},
	StateAwaitingFormat: {StateFormatKnown, StateEndOfStream},
	StateFormatKnown:    {StateEndOfStream},
	StateEndOfStream:    {},
	StateReleased:       {},
}

// CanTransition reports whether the session may move from s to next.
func (s State) CanTransition(next State) bool {
	if next == StateReleased {
		return true
	}
	return slices.Contains(transitions[s], next)
}

// accepting reports whether input can be submitted in this state.
func (s State) accepting() bool {
	return s == StateRunning || s == StateAwaitingFormat || s == StateFormatKnown
}

// producing reports whether output can be polled in this state.
func (s State) producing() bool {
	return s.accepting() || s == StateEndOfStream
}

func stateError(op string, s State) error {
	return media.NewProtocolError("encoder", op, "invalid in state "+s.String())
}
