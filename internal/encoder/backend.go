package encoder

import (
	"context"
	"time"

	"github.com/jmylchreest/camrec/internal/media"
)

// OutputKind identifies what DequeueOutput returned.
type OutputKind int

const (
	// OutputTryAgain means no output became available within the timeout.
	OutputTryAgain OutputKind = iota
	// OutputFormatChanged carries the negotiated track format.
	OutputFormatChanged
	// OutputBuffer carries an encoded buffer held in an output slot.
	OutputBuffer
)

func (k OutputKind) String() string {
	switch k {
	case OutputTryAgain:
		return "try_again"
	case OutputFormatChanged:
		return "format_changed"
	case OutputBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Output is one result of Backend.DequeueOutput.
type Output struct {
	Kind OutputKind

	// Set for OutputFormatChanged.
	Track media.TrackDescriptor

	// Set for OutputBuffer. The bytes are OutputBuffer(Index)[:Size] and stay
	// valid until ReleaseOutput(Index).
	Index int
	Size  int
	PTS   int64
	Flags media.SampleFlags
}

// Backend is an asynchronous buffer-queue encoder. Input and output slots
// are identified by index. All methods are called from one goroutine.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Configure validates and applies parameters. A rejection is returned as
	// an error and is not retried.
	Configure(cfg Config) error

	// Start allocates slot pools and begins encoding.
	Start(ctx context.Context) error

	// DequeueInput waits up to timeout for a free input slot. It returns -1
	// when none became free.
	DequeueInput(timeout time.Duration) (int, error)

	// InputBuffer returns the writable memory of an input slot.
	InputBuffer(index int) []byte

	// QueueInput hands a filled input slot to the encoder.
	QueueInput(index, size int, pts int64, flags media.SampleFlags) error

	// DequeueOutput waits up to timeout for output.
	DequeueOutput(timeout time.Duration) (Output, error)

	// OutputBuffer returns the memory of an output slot.
	OutputBuffer(index int) []byte

	// ReleaseOutput returns an output slot to the encoder.
	ReleaseOutput(index int) error

	// Close frees all resources. It must tolerate being called in any state.
	Close() error
}
