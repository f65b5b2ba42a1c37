// Package scheduler starts recordings on cron schedules and runs catalog
// housekeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownEntry is returned by Trigger for names that are not scheduled.
var ErrUnknownEntry = errors.New("unknown schedule entry")

// Entry starts a recording of Duration each time Cron fires.
type Entry struct {
	Name     string        `json:"name"`
	Cron     string        `json:"cron"`
	Duration time.Duration `json:"duration"`
}

// EntryStatus is an entry with its cron timing.
type EntryStatus struct {
	Entry
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitzero"`
}

// Config lists the entries to fire and the catalog prune job.
type Config struct {
	Entries []Entry

	// PruneCron schedules catalog retention. Empty disables pruning.
	PruneCron string
	// Retention is the age past which recordings are pruned.
	Retention time.Duration
	// DeleteFiles also removes the files of pruned recordings.
	DeleteFiles bool
}

// Scheduler fires schedule entries through an Executor.
type Scheduler struct {
	mu sync.RWMutex

	executor *Executor
	logger   *slog.Logger
	config   Config

	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler that runs entries with executor.
func NewScheduler(executor *Executor) *Scheduler {
	return &Scheduler{
		executor: executor,
		logger:   slog.Default(),
		entries:  make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig sets the entries and housekeeping schedule.
func (s *Scheduler) WithConfig(config Config) *Scheduler {
	s.config = config
	return s
}

// Start registers every entry and starts the cron loop. An invalid cron
// expression or duplicate name fails the whole start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already running")
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{logger: s.logger}),
		cron.WithChain(cron.Recover(cronLogger{logger: s.logger})),
	)
	runCtx, cancel := context.WithCancel(ctx)
	entries := make(map[string]cron.EntryID, len(s.config.Entries))

	for _, entry := range s.config.Entries {
		if _, dup := entries[entry.Name]; dup {
			cancel()
			return fmt.Errorf("duplicate schedule entry %q", entry.Name)
		}
		if entry.Duration <= 0 {
			cancel()
			return fmt.Errorf("schedule entry %q: duration must be positive", entry.Name)
		}
		id, err := c.AddFunc(entry.Cron, func() {
			_, _ = s.executor.Record(runCtx, entry)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule entry %q: invalid cron expression: %w", entry.Name, err)
		}
		entries[entry.Name] = id
	}

	if s.config.PruneCron != "" && s.config.Retention > 0 {
		_, err := c.AddFunc(s.config.PruneCron, func() {
			_, _ = s.executor.Prune(runCtx, s.config.Retention, s.config.DeleteFiles)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("prune schedule: invalid cron expression: %w", err)
		}
	}

	s.cron = c
	s.entries = entries
	s.ctx = runCtx
	s.cancel = cancel
	c.Start()

	s.logger.Info("scheduler running",
		slog.Int("entries", len(entries)),
		slog.String("prune_cron", s.config.PruneCron),
		slog.Duration("retention", s.config.Retention))

	return nil
}

// Stop stops firing entries and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()

	s.logger.Info("scheduler stopped")
}

// Entries returns the registered entries with their next and previous run.
func (s *Scheduler) Entries() []EntryStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EntryStatus, 0, len(s.config.Entries))
	for _, entry := range s.config.Entries {
		status := EntryStatus{Entry: entry}
		if id, ok := s.entries[entry.Name]; ok && s.cron != nil {
			e := s.cron.Entry(id)
			status.Next = e.Next
			status.Prev = e.Prev
		}
		out = append(out, status)
	}
	return out
}

// Trigger fires the named entry now, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	var (
		entry Entry
		found bool
	)
	for _, e := range s.config.Entries {
		if e.Name == name {
			entry, found = e, true
			break
		}
	}
	s.mu.RUnlock()

	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}
	handle, err := s.executor.Record(ctx, entry)
	if err != nil {
		return "", err
	}
	return handle.String(), nil
}

// parser accepts 5 or 6 fields and descriptors such as @hourly.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns when expr next fires after t.
func NextRun(expr string, t time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return schedule.Next(t), nil
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
