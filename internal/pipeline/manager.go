package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jmylchreest/camrec/internal/container"
	"github.com/jmylchreest/camrec/internal/encoder"
	"github.com/jmylchreest/camrec/internal/framequeue"
	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/observability"
)

// Manager errors.
var (
	ErrSessionNotFound = errors.New("recording not found")
	ErrTooManySessions = fmt.Errorf("%w: too many active recordings", media.ErrResourceUnavailable)
	ErrLowDiskSpace    = fmt.Errorf("%w: not enough free space in output directory", media.ErrResourceUnavailable)
	ErrManagerClosed   = errors.New("manager is shut down")
)

// maxFinished bounds how many finished recordings List keeps reporting.
const maxFinished = 32

// Source produces frames until ctx is done or it runs out. emit must not
// block; it hands frames to the recording's queue.
type Source interface {
	Run(ctx context.Context, emit func(media.Frame)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(media.Frame)) error

// Run implements Source.
func (f SourceFunc) Run(ctx context.Context, emit func(media.Frame)) error {
	return f(ctx, emit)
}

// SourceFactory creates the frame source of a recording.
type SourceFactory func(opts Options) (Source, error)

// BackendFactory creates the encoder backend of a recording.
type BackendFactory func(opts Options) (encoder.Backend, error)

// ResultHook observes finished recordings.
type ResultHook func(ctx context.Context, info SessionInfo, result *Result)

// Handle identifies a recording.
type Handle uuid.UUID

// NewHandle returns a random handle.
func NewHandle() Handle {
	return Handle(uuid.New())
}

// ParseHandle parses the string form of a handle.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid recording id %q: %w", s, err)
	}
	return Handle(id), nil
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// SessionInfo describes a recording known to the manager.
type SessionInfo struct {
	Handle    Handle    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	Path      string    `json:"path"`
	Container string    `json:"container"`
	Encoder   string    `json:"encoder"`
	Options   Options   `json:"options"`
	StartedAt time.Time `json:"started_at"`
	Progress  Progress  `json:"progress"`
	Result    *Result   `json:"result,omitempty"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	OutputDir        string
	NameTemplate     string
	Container        container.Format
	FragmentDuration time.Duration
	QueueSize        int
	MaxSessions      int
	// MinFreeSpace refuses new recordings when the output volume has less
	// free space, in bytes. Zero disables the check.
	MinFreeSpace int64

	NewBackend BackendFactory
	NewSource  SourceFactory
	// Defaults fill unset fields of StartPipeline options.
	Defaults Options
	OnResult ResultHook
	Logger   *slog.Logger
}

type session struct {
	info SessionInfo
	orch *Orchestrator
	done chan struct{}

	result *Result
	err    error
}

// Manager starts, stops and tracks recordings. Each recording gets its own
// queue, encoder, container file and consumer goroutine.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[Handle]*session
	finished []Handle
	starting int // slots reserved by StartPipeline calls in progress
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.NewBackend == nil {
		return nil, errors.New("backend factory is required")
	}
	if cfg.NewSource == nil {
		return nil, errors.New("source factory is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if cfg.Container == "" {
		cfg.Container = container.FormatMP4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = framequeue.DefaultCapacity
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.Defaults.Container == "" {
		cfg.Defaults.Container = string(cfg.Container)
	}
	cfg.Defaults = cfg.Defaults.WithDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "pipeline"),
		sessions: make(map[Handle]*session),
	}, nil
}

// StartPipeline starts a recording and returns its handle. The recording
// runs until StopPipeline, its auto-stop budget, the end of its source or a
// fatal error; ctx only scopes the start itself.
func (m *Manager) StartPipeline(ctx context.Context, opts Options) (Handle, error) {
	opts = opts.Merge(m.cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return Handle{}, err
	}
	format, err := container.ParseFormat(opts.Container)
	if err != nil {
		return Handle{}, media.NewConfigurationError("container", err.Error())
	}
	opts.Container = string(format)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrManagerClosed
	}
	if m.activeLocked()+m.starting >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return Handle{}, ErrTooManySessions
	}
	m.starting++
	m.mu.Unlock()

	reserved := true
	defer func() {
		if reserved {
			m.mu.Lock()
			m.starting--
			m.mu.Unlock()
		}
	}()

	if err := m.checkFreeSpace(ctx); err != nil {
		return Handle{}, err
	}

	handle := NewHandle()
	now := time.Now()
	logger := observability.WithSession(m.logger, handle.String())

	source, err := m.cfg.NewSource(opts)
	if err != nil {
		return Handle{}, fmt.Errorf("creating source: %w", err)
	}
	backend, err := m.cfg.NewBackend(opts)
	if err != nil {
		return Handle{}, fmt.Errorf("creating encoder: %w", err)
	}

	path := container.ResolvePath(m.cfg.OutputDir, m.cfg.NameTemplate, format, handle.String(), now)
	writer, err := container.Create(path, format, container.OutputOptions{
		FragmentDuration: m.cfg.FragmentDuration,
		Logger:           logger,
	})
	if err != nil {
		_ = backend.Close()
		return Handle{}, media.IOFault(err)
	}

	queue := framequeue.New(m.cfg.QueueSize)
	orch := NewOrchestrator(opts, Dependencies{
		Queue:   queue,
		Encoder: encoder.NewSession(backend, logger),
		Writer:  writer,
		Logger:  logger,
	})

	s := &session{
		info: SessionInfo{
			Handle:    handle,
			Label:     opts.Label,
			Schedule:  opts.Schedule,
			Path:      path,
			Container: string(format),
			Encoder:   backend.Name(),
			Options:   orch.Options(),
			StartedAt: now,
		},
		orch: orch,
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.starting--
	reserved = false
	if m.closed {
		m.mu.Unlock()
		_ = writer.Release()
		_ = backend.Close()
		return Handle{}, ErrManagerClosed
	}
	m.sessions[handle] = s
	m.wg.Add(1)
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		if err := source.Run(runCtx, queue.Offer); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("capture source stopped", slog.String("error", err.Error()))
		}
		// The orchestrator drains what is queued, then stops.
		queue.Close()
	}()

	go func() {
		defer m.wg.Done()
		result, err := orch.Run(runCtx)
		cancel()
		m.finish(runCtx, s, result, err)
	}()

	logger.Info("recording started",
		slog.String("path", path),
		slog.String("container", string(format)),
		slog.String("encoder", backend.Name()))
	return handle, nil
}

func (m *Manager) finish(ctx context.Context, s *session, result *Result, err error) {
	m.mu.Lock()
	s.result = result
	s.err = err
	s.info.Result = result
	s.info.Progress = s.orch.Progress()
	m.finished = append(m.finished, s.info.Handle)
	for len(m.finished) > maxFinished {
		delete(m.sessions, m.finished[0])
		m.finished = m.finished[1:]
	}
	info := s.info
	m.mu.Unlock()

	close(s.done)

	if m.cfg.OnResult != nil {
		m.cfg.OnResult(context.WithoutCancel(ctx), info, result)
	}
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, s := range m.sessions {
		select {
		case <-s.done:
		default:
			n++
		}
	}
	return n
}

func (m *Manager) checkFreeSpace(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return media.IOFault(fmt.Errorf("creating output directory: %w", err))
	}
	if m.cfg.MinFreeSpace <= 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, m.cfg.OutputDir)
	if err != nil {
		m.logger.Warn("unable to read free space", slog.String("dir", m.cfg.OutputDir), slog.String("error", err.Error()))
		return nil
	}
	if usage.Free < uint64(m.cfg.MinFreeSpace) {
		return fmt.Errorf("%w (%d bytes free, %d required)", ErrLowDiskSpace, usage.Free, m.cfg.MinFreeSpace)
	}
	return nil
}

func (m *Manager) lookup(h Handle) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// StopPipeline requests a graceful stop and waits for the recording to
// finish. Stopping a finished recording returns its result again.
func (m *Manager) StopPipeline(ctx context.Context, h Handle) (*Result, error) {
	s, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	s.orch.Stop()
	return m.wait(ctx, s)
}

// Wait blocks until the recording finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, h Handle) (*Result, error) {
	s, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	return m.wait(ctx, s)
}

func (m *Manager) wait(ctx context.Context, s *session) (*Result, error) {
	select {
	case <-s.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return s.result, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a recording's current description.
func (m *Manager) Get(h Handle) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[h]
	if !ok {
		return SessionInfo{}, false
	}
	return m.snapshotLocked(s), true
}

// List returns all known recordings, newest first.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.snapshotLocked(s))
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

// Active returns the number of running recordings.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) snapshotLocked(s *session) SessionInfo {
	info := s.info
	if s.result == nil {
		info.Progress = s.orch.Progress()
	}
	return info
}

// Shutdown stops every running recording and waits for them, or for ctx.
// No recordings can be started afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, s := range m.sessions {
		s.orch.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for recordings: %w", ctx.Err())
	}
}
