package pipeline

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a recording pipeline.
type State int32

const (
	// StateIdle is the initial state.
	StateIdle State = iota
	// StateRunning means frames are being encoded.
	StateRunning
	// StateDraining means end of stream was requested and the encoder is
	// being flushed into the container.
	StateDraining
	// StateStopped is the terminal state of a clean shutdown.
	StateStopped
	// StateFailed is the terminal state after an unrecoverable error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s is Stopped or Failed.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:     {StateRunning, StateFailed},
	StateRunning:  {StateDraining, StateFailed},
	StateDraining: {StateStopped, StateFailed},
	StateStopped:  {},
	StateFailed:   {},
}

// CanTransition reports whether the pipeline may move from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// StopReason records why a pipeline left the Running state.
type StopReason string

const (
	StopNone        StopReason = ""
	StopRequested   StopReason = "stop_requested"
	StopAutoStop    StopReason = "auto_stop"
	StopCancelled   StopReason = "cancelled"
	StopSourceEnded StopReason = "source_ended"
	StopEndOfStream StopReason = "end_of_stream"
	StopFault       StopReason = "fault"
)
