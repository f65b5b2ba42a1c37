package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const stderrTailLines = 100

// waitDelay is how long a cancelled child gets to flush after SIGINT.
const waitDelay = 5 * time.Second

// Command is a single FFmpeg child process.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	logger        *slog.Logger
	usageInterval time.Duration
	stderr        *lineRing

	mu         sync.Mutex
	cmd        *exec.Cmd
	usage      *UsageSampler
	stderrDone chan struct{}
}

// Pipes holds the standard streams of a started command. Stdin is nil unless
// the input is PipeStdin; Stdout is nil unless the output is PipeStdout.
type Pipes struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the child. Cancelling ctx sends SIGINT so the muxer can
// finish its output before the process is killed.
func (c *Command) Start(ctx context.Context) (*Pipes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil, errors.New("ffmpeg command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = waitDelay

	var (
		pipes Pipes
		err   error
	)
	if c.Input == PipeStdin {
		if pipes.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("ffmpeg stdin: %w", err)
		}
	}
	if c.Output == PipeStdout {
		if pipes.Stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("ffmpeg stdout: %w", err)
		}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Binary, err)
	}
	if c.stderr == nil {
		c.stderr = newLineRing(stderrTailLines)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.cmd = cmd
	c.stderrDone = make(chan struct{})
	go c.drainStderr(stderr)

	if c.usageInterval > 0 {
		c.usage = StartUsageSampler(cmd.Process.Pid, c.usageInterval)
		if pipes.Stdin != nil {
			pipes.Stdin = meteredStdin{c.usage.MeterInput(pipes.Stdin), pipes.Stdin}
		}
		if pipes.Stdout != nil {
			pipes.Stdout = meteredStdout{c.usage.MeterOutput(pipes.Stdout), pipes.Stdout}
		}
	}
	return &pipes, nil
}

// Wait reaps the child. Stdout must be fully read first. A non-zero exit
// carries the last stderr line.
func (c *Command) Wait() error {
	c.mu.Lock()
	cmd, done, usage := c.cmd, c.stderrDone, c.usage
	c.mu.Unlock()

	if cmd == nil {
		return errors.New("ffmpeg command not started")
	}

	<-done
	err := cmd.Wait()
	if usage != nil {
		usage.Stop()
	}
	if err != nil {
		if last, ok := c.stderr.last(); ok {
			return fmt.Errorf("%w: %s", err, last)
		}
	}
	return err
}

// Kill terminates the child without waiting for it to flush.
func (c *Command) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

// PID returns the child's process id, or 0 before Start.
func (c *Command) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// StderrLines returns up to the last hundred stderr lines.
func (c *Command) StderrLines() []string {
	if c.stderr == nil {
		return nil
	}
	return c.stderr.lines()
}

// Usage returns the child's resource and pipe usage. ok is false unless
// the command was built with SampleUsage and has started.
func (c *Command) Usage() (u Usage, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usage == nil {
		return Usage{}, false
	}
	return c.usage.Snapshot(), true
}

func (c *Command) drainStderr(r io.Reader) {
	defer close(c.stderrDone)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		c.stderr.add(line)
		c.logger.Debug("ffmpeg", slog.String("line", line))
	}
}

type meteredStdin struct {
	io.Writer
	io.Closer
}

type meteredStdout struct {
	io.Reader
	io.Closer
}

// lineRing keeps the most recent n lines.
type lineRing struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

func newLineRing(n int) *lineRing {
	return &lineRing{buf: make([]string, n)}
}

func (r *lineRing) add(line string) {
	r.mu.Lock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *lineRing) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	return append(append([]string(nil), r.buf[r.next:]...), r.buf[:r.next]...)
}

func (r *lineRing) last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full && r.next == 0 {
		return "", false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}
