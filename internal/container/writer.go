// Package container writes encoded samples into a single-track container
// file. A Writer enforces the add-track, start, write, stop protocol on top
// of a format-specific Muxer.
package container

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/camrec/internal/media"
)

// Muxer is a container format implementation. Writer guarantees the call
// order AddTrack, Start, WriteSample..., Stop, Close, with Stop and Close each
// called at most once.
type Muxer interface {
	// Format names the container, e.g. "mp4".
	Format() string
	AddTrack(track media.TrackDescriptor) (int, error)
	Start() error
	WriteSample(trackIndex int, sample media.EncodedSample) error
	Stop() error
	Close() error
}

// Stats summarises what was written.
type Stats struct {
	Samples   uint64
	KeyFrames uint64
	Bytes     uint64
	FirstPTS  int64
	LastPTS   int64
}

// DurationUs returns the presentation span of the written samples.
func (s Stats) DurationUs() int64 {
	if s.Samples == 0 {
		return 0
	}
	return s.LastPTS - s.FirstPTS
}

// Writer owns a container's lifecycle.
type Writer struct {
	muxer  Muxer
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	track    media.TrackDescriptor
	index    int
	stats    Stats
	stopped  bool
	released bool
}

// NewWriter creates a writer over muxer.
func NewWriter(muxer Muxer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		muxer:  muxer,
		logger: logger.With(slog.String("container", muxer.Format())),
		index:  -1,
	}
}

// State returns the current state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns the write counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Format returns the muxer's container name.
func (w *Writer) Format() string {
	return w.muxer.Format()
}

func (w *Writer) transition(next State) error {
	if !w.state.CanTransition(next) {
		return media.NewProtocolError("container", "transition", fmt.Sprintf("%s -> %s not allowed", w.state, next))
	}
	w.logger.Debug("container state change",
		slog.String("from", w.state.String()),
		slog.String("to", next.String()))
	w.state = next
	return nil
}

// AddTrack registers the video track and returns its index.
func (w *Writer) AddTrack(track media.TrackDescriptor) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateIdle:
	case StateTrackRegistered, StateStarted:
		return -1, media.ErrTrackAlreadyAdded
	default:
		return -1, media.NewProtocolError("container", "add_track", "writer stopped")
	}

	index, err := w.muxer.AddTrack(track)
	if err != nil {
		return -1, media.IOFault(fmt.Errorf("adding track: %w", err))
	}
	w.track = track
	w.index = index
	if err := w.transition(StateTrackRegistered); err != nil {
		return -1, err
	}
	return index, nil
}

// Start writes the container header.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateTrackRegistered:
	case StateIdle:
		return media.ErrNoTrack
	case StateStarted:
		return media.ErrMuxerAlreadyStarted
	default:
		return media.NewProtocolError("container", "start", "writer stopped")
	}

	if err := w.muxer.Start(); err != nil {
		return media.IOFault(fmt.Errorf("starting %s: %w", w.muxer.Format(), err))
	}
	if err := w.transition(StateStarted); err != nil {
		return err
	}
	w.logger.Info("container started", slog.String("track", w.track.String()))
	return nil
}

// WriteSample writes one encoded sample. Empty samples are ignored.
func (w *Writer) WriteSample(trackIndex int, sample media.EncodedSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStarted {
		return media.ErrMuxerNotStarted
	}
	if trackIndex != w.index {
		return media.NewProtocolError("container", "write_sample", fmt.Sprintf("unknown track %d", trackIndex))
	}
	if len(sample.Data) == 0 {
		return nil
	}
	if w.stats.Samples > 0 && sample.PTS <= w.stats.LastPTS {
		return media.NewProtocolError("container", "write_sample",
			fmt.Sprintf("pts %d not after %d", sample.PTS, w.stats.LastPTS))
	}

	if err := w.muxer.WriteSample(trackIndex, sample); err != nil {
		return media.IOFault(fmt.Errorf("writing sample pts=%d: %w", sample.PTS, err))
	}

	if w.stats.Samples == 0 {
		w.stats.FirstPTS = sample.PTS
	}
	w.stats.Samples++
	w.stats.Bytes += uint64(len(sample.Data))
	w.stats.LastPTS = sample.PTS
	if sample.IsKeyFrame() {
		w.stats.KeyFrames++
	}
	return nil
}

// Stop finalizes the container. It is idempotent; only the first call can
// return an error.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *Writer) stopLocked() error {
	if w.stopped {
		return nil
	}
	w.stopped = true

	wasStarted := w.state == StateStarted
	if err := w.transition(StateStopped); err != nil {
		return err
	}
	if !wasStarted {
		return nil
	}

	if err := w.muxer.Stop(); err != nil {
		return media.IOFault(fmt.Errorf("stopping %s: %w", w.muxer.Format(), err))
	}
	w.logger.Info("container stopped",
		slog.Uint64("samples", w.stats.Samples),
		slog.Uint64("bytes", w.stats.Bytes),
		slog.Int64("duration_us", w.stats.DurationUs()))
	return nil
}

// Release stops the container if needed and closes the output. It is
// idempotent and valid in every state.
func (w *Writer) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	w.released = true

	stopErr := w.stopLocked()
	closeErr := w.muxer.Close()
	if closeErr != nil {
		closeErr = media.IOFault(fmt.Errorf("closing %s: %w", w.muxer.Format(), closeErr))
	}
	return errors.Join(stopErr, closeErr)
}
