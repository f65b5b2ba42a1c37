package encoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/media"
)

type queuedInput struct {
	index int
	size  int
	pts   int64
	flags media.SampleFlags
}

// fakeBackend replays scripted outputs and records every call.
type fakeBackend struct {
	configureErr error
	startErr     error
	dequeueErr   error
	closeErr     error
	noFreeSlots  bool

	configured Config
	inputs     [][]byte
	queued     []queuedInput
	script     []Output
	buffers    map[int][]byte
	released   []int
	closes     int
}

func newFakeBackend(script ...Output) *fakeBackend {
	return &fakeBackend{script: script, buffers: make(map[int][]byte)}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Configure(cfg Config) error {
	f.configured = cfg
	return f.configureErr
}

func (f *fakeBackend) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.inputs = [][]byte{make([]byte, f.configured.InputSize())}
	return nil
}

func (f *fakeBackend) DequeueInput(time.Duration) (int, error) {
	if f.noFreeSlots {
		return -1, nil
	}
	return 0, nil
}

func (f *fakeBackend) InputBuffer(index int) []byte { return f.inputs[index] }

func (f *fakeBackend) QueueInput(index, size int, pts int64, flags media.SampleFlags) error {
	f.queued = append(f.queued, queuedInput{index, size, pts, flags})
	return nil
}

func (f *fakeBackend) DequeueOutput(time.Duration) (Output, error) {
	if f.dequeueErr != nil {
		return Output{}, f.dequeueErr
	}
	if len(f.script) == 0 {
		return Output{Kind: OutputTryAgain}, nil
	}
	out := f.script[0]
	f.script = f.script[1:]
	return out, nil
}

func (f *fakeBackend) OutputBuffer(index int) []byte { return f.buffers[index] }

func (f *fakeBackend) ReleaseOutput(index int) error {
	f.released = append(f.released, index)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closes++
	return f.closeErr
}

func formatOutput() Output {
	return Output{Kind: OutputFormatChanged, Track: media.TrackDescriptor{Codec: "h264", Width: 4, Height: 2}}
}

func startedSession(t *testing.T, backend *fakeBackend) *Session {
	t.Helper()
	s := NewSession(backend, nil)
	require.NoError(t, s.Configure(Config{Width: 4, Height: 2, FrameRate: 24}))
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestSession_Lifecycle(t *testing.T) {
	backend := newFakeBackend(
		formatOutput(),
		Output{Kind: OutputBuffer, Index: 0, Size: 3, Flags: media.FlagCodecConfig},
		Output{Kind: OutputBuffer, Index: 1, Size: 2, PTS: 132, Flags: media.FlagKeyFrame},
		Output{Kind: OutputBuffer, Index: 2, Size: 0, PTS: 132, Flags: media.FlagEndOfStream},
	)
	backend.buffers[0] = []byte{0xAA, 0xBB, 0xCC}
	backend.buffers[1] = []byte{0x01, 0x02}

	s := NewSession(backend, nil)
	assert.Equal(t, StateUnconfigured, s.State())

	require.NoError(t, s.Configure(Config{Width: 4, Height: 2, FrameRate: 24, IFrameIntervalSeconds: 1}))
	assert.Equal(t, StateConfigured, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())

	ok, err := s.SubmitInput(make([]byte, 12), 132, false)
	require.NoError(t, err)
	require.True(t, ok)

	ev, err := s.PollOutput(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EventFormatReady, ev.Kind)
	assert.Equal(t, 4, ev.Track.Width)
	assert.Equal(t, StateFormatKnown, s.State())

	// codec config is swallowed; the next event is the picture
	ev, err = s.PollOutput(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EventSample, ev.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, ev.Sample.Data)
	assert.Equal(t, int64(132), ev.Sample.PTS)
	assert.True(t, ev.Sample.IsKeyFrame())

	ok, err = s.SubmitInput(nil, 41799, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateEndOfStream, s.State())

	ev, err = s.PollOutput(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EventSample, ev.Kind)
	assert.True(t, ev.Sample.IsEndOfStream())
	assert.Empty(t, ev.Sample.Data)

	assert.Equal(t, []int{0, 1, 2}, backend.released)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.InputsSubmitted)
	assert.Equal(t, uint64(1), stats.ConfigSuppressed)
	assert.Equal(t, uint64(2), stats.SamplesOut)
	assert.Equal(t, uint64(1), stats.KeyFrames)
	assert.True(t, stats.EndOfStreamQueued)

	require.NoError(t, s.Release())
	assert.Equal(t, StateReleased, s.State())
}

func TestSession_EndOfStreamInput(t *testing.T) {
	backend := newFakeBackend()
	s := startedSession(t, backend)

	ok, err := s.SubmitInput([]byte("ignored"), 500, true)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, backend.queued, 1)
	assert.Equal(t, 0, backend.queued[0].size)
	assert.Equal(t, int64(500), backend.queued[0].pts)
	assert.True(t, backend.queued[0].flags.Has(media.FlagEndOfStream))

	_, err = s.SubmitInput(make([]byte, 12), 600, false)
	assert.ErrorIs(t, err, media.ErrProtocolViolation)
}

func TestSession_ConfigureValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"odd width", Config{Width: 641, Height: 480}},
		{"odd height", Config{Width: 640, Height: 481}},
		{"zero size", Config{Width: 0, Height: 480}},
		{"negative frame rate", Config{Width: 640, Height: 480, FrameRate: -1}},
		{"negative bitrate", Config{Width: 640, Height: 480, Bitrate: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			s := NewSession(backend, nil)

			err := s.Configure(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, media.ErrConfiguration)

			var cfgErr *media.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, StateUnconfigured, s.State())
		})
	}
}

func TestSession_BackendRejectsConfiguration(t *testing.T) {
	backend := newFakeBackend()
	backend.configureErr = errors.New("unsupported profile")

	s := NewSession(backend, nil)
	err := s.Configure(Config{Width: 640, Height: 480})

	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrConfiguration)
	assert.Contains(t, err.Error(), "unsupported profile")
	assert.False(t, media.IsFatal(nil))
	assert.True(t, media.IsFatal(err))
	assert.Equal(t, StateUnconfigured, s.State())
}

func TestSession_Defaults(t *testing.T) {
	backend := newFakeBackend()
	s := NewSession(backend, nil)
	require.NoError(t, s.Configure(Config{Width: 640, Height: 480}))

	cfg := s.Config()
	assert.Equal(t, 640*480*4, cfg.Bitrate)
	assert.Equal(t, DefaultFrameRate, cfg.FrameRate)
	assert.Equal(t, DefaultIFrameIntervalSec, cfg.IFrameIntervalSeconds)
	assert.Equal(t, 48, cfg.GOPSize())
	assert.Equal(t, cfg, backend.configured)
}

func TestSession_FormatChangedTwice(t *testing.T) {
	backend := newFakeBackend(formatOutput(), formatOutput())
	s := startedSession(t, backend)

	ev, err := s.PollOutput(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, EventFormatReady, ev.Kind)

	_, err = s.PollOutput(time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrFormatChangedTwice)
	assert.ErrorIs(t, err, media.ErrProtocolViolation)
}

func TestSession_NoFreeInputSlot(t *testing.T) {
	backend := newFakeBackend()
	backend.noFreeSlots = true
	s := startedSession(t, backend)

	ok, err := s.SubmitInput(make([]byte, 12), 132, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, backend.queued)
	assert.Equal(t, uint64(1), s.Stats().InputSlotMisses)
}

func TestSession_InputSizeMismatch(t *testing.T) {
	s := startedSession(t, newFakeBackend())

	_, err := s.SubmitInput(make([]byte, 5), 132, false)
	assert.ErrorIs(t, err, media.ErrConfiguration)
}

func TestSession_OutOfOrderOperations(t *testing.T) {
	s := NewSession(newFakeBackend(), nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, media.ErrProtocolViolation)

	_, err = s.SubmitInput(make([]byte, 12), 0, false)
	assert.ErrorIs(t, err, media.ErrProtocolViolation)

	_, err = s.PollOutput(time.Millisecond)
	assert.ErrorIs(t, err, media.ErrProtocolViolation)

	require.NoError(t, s.Configure(Config{Width: 4, Height: 2}))
	err = s.Configure(Config{Width: 4, Height: 2})
	assert.ErrorIs(t, err, media.ErrProtocolViolation)
}

func TestSession_DequeueFault(t *testing.T) {
	backend := newFakeBackend()
	backend.dequeueErr = errors.New("hardware hung")
	s := startedSession(t, backend)

	ev, err := s.PollOutput(time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrEncoderFault)
	assert.Equal(t, EventFault, ev.Kind)
	assert.Contains(t, ev.Reason, "hardware hung")
}

func TestSession_StartFault(t *testing.T) {
	backend := newFakeBackend()
	backend.startErr = errors.New("no device")
	s := NewSession(backend, nil)
	require.NoError(t, s.Configure(Config{Width: 4, Height: 2}))

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, media.ErrEncoderFault)
	assert.Equal(t, StateConfigured, s.State())
}

func TestSession_SampleIsCopied(t *testing.T) {
	backend := newFakeBackend(
		formatOutput(),
		Output{Kind: OutputBuffer, Index: 7, Size: 3, PTS: 1},
	)
	backend.buffers[7] = []byte{1, 2, 3}
	s := startedSession(t, backend)

	_, err := s.PollOutput(time.Millisecond)
	require.NoError(t, err)
	ev, err := s.PollOutput(time.Millisecond)
	require.NoError(t, err)

	backend.buffers[7][0] = 99
	assert.Equal(t, []byte{1, 2, 3}, ev.Sample.Data)
}

func TestSession_ReleaseIdempotent(t *testing.T) {
	t.Run("from unconfigured", func(t *testing.T) {
		backend := newFakeBackend()
		s := NewSession(backend, nil)

		assert.NoError(t, s.Release())
		assert.NoError(t, s.Release())
		assert.Equal(t, 1, backend.closes)
		assert.Equal(t, StateReleased, s.State())
	})

	t.Run("close error reported once", func(t *testing.T) {
		backend := newFakeBackend()
		backend.closeErr = errors.New("busy")
		s := startedSession(t, backend)

		assert.ErrorIs(t, s.Release(), media.ErrEncoderFault)
		assert.NoError(t, s.Release())
		assert.Equal(t, 1, backend.closes)
	})

	t.Run("operations after release", func(t *testing.T) {
		s := startedSession(t, newFakeBackend())
		require.NoError(t, s.Release())

		_, err := s.SubmitInput(make([]byte, 12), 0, false)
		assert.ErrorIs(t, err, media.ErrProtocolViolation)
	})
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StateUnconfigured.CanTransition(StateConfigured))
	assert.False(t, StateUnconfigured.CanTransition(StateRunning))
	assert.True(t, StateAwaitingFormat.CanTransition(StateFormatKnown))
	assert.False(t, StateFormatKnown.CanTransition(StateAwaitingFormat))
	assert.False(t, StateEndOfStream.CanTransition(StateRunning))

	for s := StateUnconfigured; s <= StateReleased; s++ {
		assert.True(t, s.CanTransition(StateReleased), s.String())
	}
	assert.Equal(t, "awaiting_format", StateAwaitingFormat.String())
}
