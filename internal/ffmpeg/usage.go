package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a snapshot of an FFmpeg child's resource use and pipe traffic.
type Usage struct {
	PID     int           `json:"pid"`
	Samples int           `json:"samples"`
	Elapsed time.Duration `json:"elapsed"`

	CPUPercent     float64       `json:"cpu_percent"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	CPUTime        time.Duration `json:"cpu_time"`
	RSSBytes       uint64        `json:"rss_bytes"`
	PeakRSSBytes   uint64        `json:"peak_rss_bytes"`

	// BytesIn is raw frame data fed to stdin, BytesOut the encoded stream
	// read back from stdout.
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// CompressionRatio returns BytesIn/BytesOut, or 0 before any output.
func (u Usage) CompressionRatio() float64 {
	if u.BytesOut == 0 {
		return 0
	}
	return float64(u.BytesIn) / float64(u.BytesOut)
}

// InputRate returns the mean stdin throughput in bytes per second.
func (u Usage) InputRate() float64 {
	if u.Elapsed <= 0 {
		return 0
	}
	return float64(u.BytesIn) / u.Elapsed.Seconds()
}

// UsageSampler polls a process with gopsutil and meters its pipes.
type UsageSampler struct {
	pid      int
	interval time.Duration
	started  time.Time

	in  atomic.Uint64
	out atomic.Uint64

	mu    sync.Mutex
	usage Usage
	proc  *process.Process

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartUsageSampler begins sampling pid every interval until Stop.
func StartUsageSampler(pid int, interval time.Duration) *UsageSampler {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &UsageSampler{
		pid:      pid,
		interval: interval,
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Stop ends sampling and waits for the poller to exit.
func (s *UsageSampler) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// Snapshot returns the latest sample with live pipe counters.
func (s *UsageSampler) Snapshot() Usage {
	s.mu.Lock()
	u := s.usage
	s.mu.Unlock()

	u.PID = s.pid
	u.Elapsed = time.Since(s.started)
	u.BytesIn = s.in.Load()
	u.BytesOut = s.out.Load()
	return u
}

// MeterInput counts bytes written through w as BytesIn.
func (s *UsageSampler) MeterInput(w io.Writer) io.Writer {
	return &meteredWriter{w: w, n: &s.in}
}

// MeterOutput counts bytes read through r as BytesOut.
func (s *UsageSampler) MeterOutput(r io.Reader) io.Reader {
	return &meteredReader{r: r, n: &s.out}
}

func (s *UsageSampler) run(ctx context.Context) {
	defer close(s.done)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		s.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (s *UsageSampler) sample(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.Samples++
	if s.proc == nil {
		p, err := process.NewProcessWithContext(ctx, int32(s.pid))
		if err != nil {
			return
		}
		s.proc = p
	}

	if pct, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		s.usage.CPUPercent = pct
		s.usage.PeakCPUPercent = max(s.usage.PeakCPUPercent, pct)
	}
	if t, err := s.proc.TimesWithContext(ctx); err == nil {
		s.usage.CPUTime = time.Duration((t.User + t.System) * float64(time.Second))
	}
	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		s.usage.RSSBytes = mem.RSS
		s.usage.PeakRSSBytes = max(s.usage.PeakRSSBytes, mem.RSS)
	}
}

type meteredWriter struct {
	w io.Writer
	n *atomic.Uint64
}

func (m *meteredWriter) Write(p []byte) (int, error) {
	n, err := m.w.Write(p)
	m.n.Add(uint64(n))
	return n, err
}

type meteredReader struct {
	r io.Reader
	n *atomic.Uint64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	m.n.Add(uint64(n))
	return n, err
}
