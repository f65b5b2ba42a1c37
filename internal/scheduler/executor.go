package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camrec/internal/models"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

// ErrStillRecording is recorded when an entry fires while its previous
// recording is still running.
var ErrStillRecording = errors.New("previous recording of this entry is still running")

// Recorder starts recordings and reports on them. *pipeline.Manager
// implements it.
type Recorder interface {
	StartPipeline(ctx context.Context, opts pipeline.Options) (pipeline.Handle, error)
	Get(h pipeline.Handle) (pipeline.SessionInfo, bool)
}

// RunStore keeps the history of schedule firings and prunes old recordings.
// *catalog.Catalog implements it.
type RunStore interface {
	RecordRun(ctx context.Context, run *models.ScheduleRun) error
	Prune(ctx context.Context, retention time.Duration, deleteFiles bool) (int, error)
}

// Executor runs schedule entries and housekeeping.
type Executor struct {
	recorder Recorder
	store    RunStore
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]pipeline.Handle
}

// NewExecutor creates an executor. store may be nil, in which case firings
// are only logged and pruning is a no-op.
func NewExecutor(recorder Recorder, store RunStore) *Executor {
	return &Executor{
		recorder: recorder,
		store:    store,
		logger:   slog.Default(),
		last:     make(map[string]pipeline.Handle),
	}
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// Record starts a recording for entry with the entry's duration as its
// auto-stop. Every firing, successful or not, is stored as a ScheduleRun.
func (e *Executor) Record(ctx context.Context, entry Entry) (pipeline.Handle, error) {
	run := &models.ScheduleRun{Entry: entry.Name, FiredAt: time.Now()}

	handle, err := e.start(ctx, entry)
	if err != nil {
		run.Error = err.Error()
		e.logger.Warn("scheduled recording not started",
			slog.String("entry", entry.Name),
			slog.String("error", err.Error()))
	} else {
		run.SessionID = handle.String()
		e.logger.Info("scheduled recording started",
			slog.String("entry", entry.Name),
			slog.String("session_id", handle.String()),
			slog.Duration("duration", entry.Duration))
	}

	if e.store != nil {
		if storeErr := e.store.RecordRun(ctx, run); storeErr != nil {
			e.logger.Error("failed to record schedule run",
				slog.String("entry", entry.Name),
				slog.String("error", storeErr.Error()))
		}
	}
	return handle, err
}

func (e *Executor) start(ctx context.Context, entry Entry) (pipeline.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.last[entry.Name]; ok {
		if info, found := e.recorder.Get(prev); found && info.Result == nil {
			return pipeline.Handle{}, fmt.Errorf("%w: %s", ErrStillRecording, prev)
		}
	}

	handle, err := e.recorder.StartPipeline(ctx, pipeline.Options{
		Label:    entry.Name,
		Schedule: entry.Name,
		AutoStop: entry.Duration,
	})
	if err != nil {
		return pipeline.Handle{}, err
	}
	e.last[entry.Name] = handle
	return handle, nil
}

// Prune removes catalog entries older than retention.
func (e *Executor) Prune(ctx context.Context, retention time.Duration, deleteFiles bool) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	n, err := e.store.Prune(ctx, retention, deleteFiles)
	if err != nil {
		e.logger.Error("catalog prune failed", slog.String("error", err.Error()))
		return n, err
	}
	e.logger.Debug("catalog prune finished", slog.Int("removed", n))
	return n, nil
}
