// Package encoder wraps a stateful video encoder behind a session that
// enforces its lifecycle: configure, start, exchange buffers, release.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camrec/internal/media"
)

// DefaultInputTimeout bounds the wait for a free input slot.
const DefaultInputTimeout = 10 * time.Millisecond

// EventKind identifies the result of PollOutput.
type EventKind int

const (
	// EventNoData means nothing was produced within the timeout.
	EventNoData EventKind = iota
	// EventFormatReady carries the output track format. Observed once per session.
	EventFormatReady
	// EventSample carries an encoded sample.
	EventSample
	// EventFault means the backend failed.
	EventFault
)

func (k EventKind) String() string {
	switch k {
	case EventNoData:
		return "no_data"
	case EventFormatReady:
		return "format_ready"
	case EventSample:
		return "sample"
	case EventFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Event is one result of PollOutput.
type Event struct {
	Kind   EventKind
	Track  media.TrackDescriptor
	Sample media.EncodedSample
	Reason string
}

// Stats holds session counters.
type Stats struct {
	InputsSubmitted   uint64
	InputSlotMisses   uint64
	SamplesOut        uint64
	KeyFrames         uint64
	ConfigSuppressed  uint64
	BytesOut          uint64
	LastPTS           int64
	EndOfStreamQueued bool
}

// Session drives one encoder Backend through its lifecycle. It is owned by a
// single consumer goroutine; Release and State may be called from others.
type Session struct {
	backend      Backend
	logger       *slog.Logger
	inputTimeout time.Duration

	mu      sync.Mutex
	state   State
	cfg     Config
	track   *media.TrackDescriptor
	scratch []byte
	stats   Stats
}

// Option configures a Session.
type Option func(*Session)

// WithInputTimeout sets the bounded wait for a free input slot.
func WithInputTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.inputTimeout = d
	}
}

// NewSession creates a session over backend.
func NewSession(backend Backend, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		backend:      backend,
		logger:       logger.With(slog.String("encoder", backend.Name())),
		inputTimeout: DefaultInputTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Track returns the output format once it is known.
func (s *Session) Track() (media.TrackDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return media.TrackDescriptor{}, false
	}
	return *s.track, true
}

func (s *Session) transition(next State) error {
	if !s.state.CanTransition(next) {
		return media.NewProtocolError("encoder", "transition", fmt.Sprintf("%s -> %s not allowed", s.state, next))
	}
	s.logger.Debug("encoder state change",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()))
	s.state = next
	return nil
}

// Configure applies cfg. Invalid or rejected parameters return a
// *media.ConfigurationError.
func (s *Session) Configure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnconfigured {
		return stateError("configure", s.state)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.backend.Configure(cfg); err != nil {
		return &media.ConfigurationError{Field: "encoder", Message: "rejected by " + s.backend.Name(), Err: err}
	}

	s.cfg = cfg
	s.logger.Info("encoder configured",
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Int("bitrate", cfg.Bitrate),
		slog.Int("frame_rate", cfg.FrameRate),
		slog.Int("iframe_interval", cfg.IFrameIntervalSeconds))
	return s.transition(StateConfigured)
}

// Config returns the applied configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start starts the backend.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConfigured {
		return stateError("start", s.state)
	}
	if err := s.backend.Start(ctx); err != nil {
		return media.EncoderFault(fmt.Errorf("starting %s: %w", s.backend.Name(), err))
	}
	return s.transition(StateRunning)
}

// SubmitInput copies buf into a free input slot and queues it with ptsUs.
// It returns false with a nil error when no slot became free within the
// input timeout; the caller retries on its next iteration. With endOfStream
// the slot carries no payload and buf is ignored.
func (s *Session) SubmitInput(buf []byte, ptsUs int64, endOfStream bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.accepting() {
		return false, stateError("submit_input", s.state)
	}
	if !endOfStream && len(buf) != s.cfg.InputSize() {
		return false, media.NewConfigurationError("input",
			fmt.Sprintf("got %d bytes, want %d for %dx%d nv12", len(buf), s.cfg.InputSize(), s.cfg.Width, s.cfg.Height))
	}

	index, err := s.backend.DequeueInput(s.inputTimeout)
	if err != nil {
		return false, media.EncoderFault(fmt.Errorf("dequeue input: %w", err))
	}
	if index < 0 {
		s.stats.InputSlotMisses++
		return false, nil
	}

	if endOfStream {
		if err := s.backend.QueueInput(index, 0, ptsUs, media.FlagEndOfStream); err != nil {
			return false, media.EncoderFault(fmt.Errorf("queue end of stream: %w", err))
		}
		s.stats.EndOfStreamQueued = true
		s.logger.Debug("end of stream submitted", slog.Int64("pts", ptsUs))
		return true, s.transition(StateEndOfStream)
	}

	slot := s.backend.InputBuffer(index)
	n := copy(slot, buf)
	if err := s.backend.QueueInput(index, n, ptsUs, 0); err != nil {
		return false, media.EncoderFault(fmt.Errorf("queue input: %w", err))
	}
	s.stats.InputsSubmitted++
	return true, nil
}

// PollOutput waits up to timeout for encoder output. Codec-config buffers
// are consumed internally and never surfaced. The returned sample's Data is
// owned by the session and valid until the next PollOutput call.
func (s *Session) PollOutput(timeout time.Duration) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.producing() {
		return Event{}, stateError("poll_output", s.state)
	}
	if s.state == StateRunning {
		if err := s.transition(StateAwaitingFormat); err != nil {
			return Event{}, err
		}
	}

	for {
		out, err := s.backend.DequeueOutput(timeout)
		if err != nil {
			return Event{Kind: EventFault, Reason: err.Error()}, media.EncoderFault(fmt.Errorf("dequeue output: %w", err))
		}

		switch out.Kind {
		case OutputTryAgain:
			return Event{Kind: EventNoData}, nil

		case OutputFormatChanged:
			if s.track != nil {
				return Event{}, media.ErrFormatChangedTwice
			}
			track := out.Track
			s.track = &track
			if s.state != StateEndOfStream {
				if err := s.transition(StateFormatKnown); err != nil {
					return Event{}, err
				}
			}
			s.logger.Info("encoder output format ready", slog.String("track", track.String()))
			return Event{Kind: EventFormatReady, Track: track}, nil

		case OutputBuffer:
			ev, suppressed, err := s.takeBuffer(out)
			if err != nil {
				return ev, err
			}
			if suppressed {
				continue
			}
			return ev, nil

		default:
			return Event{Kind: EventFault, Reason: "unknown output kind"},
				media.EncoderFault(fmt.Errorf("unknown output kind %d", out.Kind))
		}
	}
}

// takeBuffer copies an output slot into scratch memory and releases the slot.
func (s *Session) takeBuffer(out Output) (Event, bool, error) {
	size := out.Size
	flags := out.Flags
	if flags.Has(media.FlagCodecConfig) {
		// Parameter sets already reached the caller through FormatReady.
		size = 0
		s.stats.ConfigSuppressed++
	}

	if size > 0 {
		data := s.backend.OutputBuffer(out.Index)
		if size > len(data) {
			size = len(data)
		}
		if cap(s.scratch) < size {
			s.scratch = make([]byte, size)
		}
		s.scratch = s.scratch[:size]
		copy(s.scratch, data[:size])
	} else {
		s.scratch = s.scratch[:0]
	}

	if err := s.backend.ReleaseOutput(out.Index); err != nil {
		return Event{Kind: EventFault, Reason: err.Error()}, false, media.EncoderFault(fmt.Errorf("release output: %w", err))
	}

	eos := flags.Has(media.FlagEndOfStream)
	if eos && s.state != StateEndOfStream {
		if err := s.transition(StateEndOfStream); err != nil {
			return Event{}, false, err
		}
	}

	if flags.Has(media.FlagCodecConfig) && !eos {
		return Event{}, true, nil
	}

	s.stats.SamplesOut++
	s.stats.BytesOut += uint64(size)
	if flags.Has(media.FlagKeyFrame) {
		s.stats.KeyFrames++
	}
	if size > 0 {
		s.stats.LastPTS = out.PTS
	}

	return Event{
		Kind: EventSample,
		Sample: media.EncodedSample{
			Data:  s.scratch,
			PTS:   out.PTS,
			Flags: flags &^ media.FlagCodecConfig,
		},
	}, false, nil
}

// Release closes the backend. It is idempotent and valid in every state.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReleased {
		return nil
	}

	from := s.state
	s.state = StateReleased
	s.scratch = nil

	err := s.backend.Close()
	s.logger.Debug("encoder released",
		slog.String("from", from.String()),
		slog.Uint64("samples_out", s.stats.SamplesOut))
	if err != nil {
		return media.EncoderFault(fmt.Errorf("closing %s: %w", s.backend.Name(), err))
	}
	return nil
}
