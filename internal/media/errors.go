package media

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the pipeline matches one of these with
// errors.Is.
var (
	// ErrConfiguration indicates parameters rejected by a resource. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceUnavailable indicates a transient lack of a resource such as a free
	// encoder input slot. Retried on the next loop iteration.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrProtocolViolation indicates an operation issued in the wrong state. Always fatal.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrEncoderFault indicates the encoder resource failed.
	ErrEncoderFault = errors.New("encoder fault")

	// ErrIOFault indicates the container output failed.
	ErrIOFault = errors.New("io fault")
)

// Named protocol violations.
var (
	// ErrFormatChangedTwice is reported when the encoder announces its output format a second time.
	ErrFormatChangedTwice = &ProtocolError{Component: "encoder", Op: "poll_output", Reason: "format changed twice"}

	// ErrMuxerNotStarted is reported when a sample is written before the container started.
	ErrMuxerNotStarted = &ProtocolError{Component: "container", Op: "write_sample", Reason: "muxer not started"}

	// ErrTrackAlreadyAdded is reported when a second track is registered.
	ErrTrackAlreadyAdded = &ProtocolError{Component: "container", Op: "add_track", Reason: "track already added"}

	// ErrMuxerAlreadyStarted is reported when the container is started twice.
	ErrMuxerAlreadyStarted = &ProtocolError{Component: "container", Op: "start", Reason: "muxer already started"}

	// ErrNoTrack is reported when the container is started before a track was registered.
	ErrNoTrack = &ProtocolError{Component: "container", Op: "start", Reason: "no track registered"}
)

// ProtocolError describes an out-of-order operation on a stateful resource.
type ProtocolError struct {
	Component string
	Op        string
	Reason    string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Component, e.Op, e.Reason)
}

// Is makes every ProtocolError match ErrProtocolViolation, and two
// ProtocolErrors match when they describe the same violation.
func (e *ProtocolError) Is(target error) bool {
	if target == ErrProtocolViolation {
		return true
	}
	var other *ProtocolError
	if errors.As(target, &other) {
		return e.Component == other.Component && e.Op == other.Op && e.Reason == other.Reason
	}
	return false
}

// NewProtocolError creates a ProtocolError.
func NewProtocolError(component, op, reason string) *ProtocolError {
	return &ProtocolError{Component: component, Op: op, Reason: reason}
}

// ConfigurationError represents a rejected parameter.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error for %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// EncoderFault wraps err as an encoder fault.
func EncoderFault(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrEncoderFault, err)
}

// IOFault wraps err as a container I/O fault.
func IOFault(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrIOFault, err)
}

// IsFatal reports whether err must end the session. Only resource
// unavailability is transient.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrResourceUnavailable)
}
