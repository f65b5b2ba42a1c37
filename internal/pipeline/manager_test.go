package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/container"
	"github.com/jmylchreest/camrec/internal/encoder"
	"github.com/jmylchreest/camrec/internal/media"
)

type hookRecorder struct {
	mu      sync.Mutex
	results map[Handle]*Result
	ch      chan Handle
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{results: make(map[Handle]*Result), ch: make(chan Handle, 16)}
}

func (r *hookRecorder) hook(_ context.Context, info SessionInfo, result *Result) {
	r.mu.Lock()
	r.results[info.Handle] = result
	r.mu.Unlock()
	r.ch <- info.Handle
}

func (r *hookRecorder) await(t *testing.T, h Handle) *Result {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		result, ok := r.results[h]
		r.mu.Unlock()
		if ok {
			return result
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("no result for %s", h)
			return nil
		}
	}
}

func newTestManager(t *testing.T, mutate func(*ManagerConfig)) (*Manager, *hookRecorder) {
	t.Helper()
	hooks := newHookRecorder()
	cfg := ManagerConfig{
		OutputDir:   t.TempDir(),
		MaxSessions: 2,
		NewBackend: func(Options) (encoder.Backend, error) {
			return encoder.NewSyntheticBackend(encoder.SyntheticOptions{}), nil
		},
		NewSource: func(opts Options) (Source, error) {
			return tickerSource(opts.FrameRate), nil
		},
		Defaults: Options{
			Width:     testWidth,
			Height:    testHeight,
			FrameRate: 50,
			AutoStop:  NoAutoStop,
		},
		OnResult: hooks.hook,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, hooks
}

func TestNewManager_RequiresFactories(t *testing.T) {
	_, err := NewManager(ManagerConfig{OutputDir: t.TempDir()})
	assert.Error(t, err)

	_, err = NewManager(ManagerConfig{
		NewBackend: func(Options) (encoder.Backend, error) { return nil, nil },
		NewSource:  func(Options) (Source, error) { return nil, nil },
	})
	assert.Error(t, err)
}

func TestManager_StartStop(t *testing.T) {
	m, hooks := newTestManager(t, nil)
	ctx := context.Background()

	h, err := m.StartPipeline(ctx, Options{Label: "front door"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	info, ok := m.Get(h)
	require.True(t, ok)
	assert.Equal(t, "front door", info.Label)
	assert.Equal(t, "synthetic", info.Encoder)
	assert.Equal(t, "mp4", info.Container)
	assert.True(t, strings.HasSuffix(info.Path, ".mp4"))

	require.Eventually(t, func() bool {
		info, _ := m.Get(h)
		return info.Progress.SamplesWritten >= 3
	}, 5*time.Second, 10*time.Millisecond)

	result, err := m.StopPipeline(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, StopRequested, result.StopReason)
	assert.Equal(t, 0, m.Active())

	stat, err := os.Stat(info.Path)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), int64(0))

	hooked := hooks.await(t, h)
	assert.Same(t, result, hooked)

	// Stopping again returns the same result.
	again, err := m.StopPipeline(ctx, h)
	require.NoError(t, err)
	assert.Same(t, result, again)

	info, ok = m.Get(h)
	require.True(t, ok)
	require.NotNil(t, info.Result)
	assert.Equal(t, result.SamplesWritten, info.Progress.SamplesWritten)
}

func TestManager_AutoStop(t *testing.T) {
	m, hooks := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.Container = container.FormatMPEGTS
	})

	h, err := m.StartPipeline(context.Background(), Options{AutoStop: 300 * time.Millisecond})
	require.NoError(t, err)

	result := hooks.await(t, h)
	require.NotNil(t, result)
	assert.Equal(t, StopAutoStop, result.StopReason)
	assert.Equal(t, StateStopped, result.State)

	info, ok := m.Get(h)
	require.True(t, ok)
	assert.Equal(t, "ts", info.Container)
	assert.Equal(t, ".ts", filepath.Ext(info.Path))
}

func TestManager_SourceEndStopsRecording(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.NewSource = func(Options) (Source, error) {
			return SourceFunc(func(_ context.Context, emit func(media.Frame)) error {
				for i := 0; i < 5; i++ {
					emit(nv21Frame(i))
				}
				return nil
			}), nil
		}
	})

	h, err := m.StartPipeline(context.Background(), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := m.Wait(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StopSourceEnded, result.StopReason)
	assert.Equal(t, uint64(5), result.SamplesWritten)
}

func TestManager_TooManySessions(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.MaxSessions = 1
	})
	ctx := context.Background()

	h, err := m.StartPipeline(ctx, Options{})
	require.NoError(t, err)

	_, err = m.StartPipeline(ctx, Options{})
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.ErrorIs(t, err, media.ErrResourceUnavailable)
	assert.False(t, media.IsFatal(err))

	_, err = m.StopPipeline(ctx, h)
	require.NoError(t, err)

	h2, err := m.StartPipeline(ctx, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Len(t, m.List(), 2)
}

func TestManager_ConcurrentStartsRespectLimit(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.MaxSessions = 1
		cfg.NewBackend = func(Options) (encoder.Backend, error) {
			time.Sleep(20 * time.Millisecond)
			return encoder.NewSyntheticBackend(encoder.SyntheticOptions{}), nil
		}
	})

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []Handle
		refused int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.StartPipeline(context.Background(), Options{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrTooManySessions)
				refused++
				return
			}
			started = append(started, h)
		}()
	}
	wg.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, callers-1, refused)
	assert.Equal(t, 1, m.Active())

	// A refused start must not leak its reservation.
	_, err := m.StopPipeline(context.Background(), started[0])
	require.NoError(t, err)
	h, err := m.StartPipeline(context.Background(), Options{})
	require.NoError(t, err)
	assert.NotEqual(t, started[0], h)
}

func TestManager_InvalidOptions(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.StartPipeline(context.Background(), Options{Width: 65})
	assert.ErrorIs(t, err, media.ErrConfiguration)

	_, err = m.StartPipeline(context.Background(), Options{Container: "avi"})
	assert.ErrorIs(t, err, media.ErrConfiguration)
	assert.Empty(t, m.List())
}

func TestManager_FactoryErrors(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.NewBackend = func(Options) (encoder.Backend, error) {
			return nil, errors.New("no encoder")
		}
	})

	_, err := m.StartPipeline(context.Background(), Options{})
	assert.ErrorContains(t, err, "no encoder")
	assert.Equal(t, 0, m.Active())
}

func TestManager_LowDiskSpace(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *ManagerConfig) {
		cfg.MinFreeSpace = math.MaxInt64
	})

	_, err := m.StartPipeline(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrLowDiskSpace)
	assert.ErrorIs(t, err, media.ErrResourceUnavailable)
}

func TestManager_UnknownHandle(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.StopPipeline(context.Background(), NewHandle())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, ok := m.Get(NewHandle())
	assert.False(t, ok)
}

func TestManager_Shutdown(t *testing.T) {
	m, hooks := newTestManager(t, nil)
	ctx := context.Background()

	h1, err := m.StartPipeline(ctx, Options{})
	require.NoError(t, err)
	h2, err := m.StartPipeline(ctx, Options{})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
	assert.Equal(t, 0, m.Active())

	for _, h := range []Handle{h1, h2} {
		result := hooks.await(t, h)
		assert.Equal(t, StateStopped, result.State)
	}

	_, err = m.StartPipeline(ctx, Options{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestHandle_Parse(t *testing.T) {
	h := NewHandle()

	parsed, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	text, err := h.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, h.String(), string(text))

	_, err = ParseHandle("not-a-uuid")
	assert.Error(t, err)
}
