package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmylchreest/camrec/internal/ffmpeg"
	"github.com/jmylchreest/camrec/internal/media"
)

// FFmpegSource reads raw frames from an FFmpeg child process. With the
// default v4l2 format it captures from a camera device.
type FFmpegSource struct {
	cfg    Config
	logger *slog.Logger
}

// NewFFmpegSource creates an FFmpeg-backed source.
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	if cfg.Format == "" {
		cfg.Format = "v4l2"
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	return &FFmpegSource{cfg: cfg, logger: logger.With(slog.String("source", cfg.Device))}
}

// Command builds the capture command for binary.
func (s *FFmpegSource) Command(binary string) *ffmpeg.Command {
	builder := ffmpeg.NewCommandBuilder(binary).
		HideBanner().
		NoStats().
		Logger(s.logger).
		InputFormat(s.cfg.Format)

	// lavfi sources carry their size and rate in the filter description.
	if s.cfg.Format != "lavfi" {
		builder.InputArgs(
			"-framerate", strconv.Itoa(s.cfg.FrameRate),
			"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		)
	}

	return builder.
		Input(s.cfg.Device).
		Scale(s.cfg.Width, s.cfg.Height).
		PixelFormat(s.cfg.Layout.FFmpegPixFmt()).
		OutputFormat("rawvideo").
		Output(ffmpeg.PipeStdout).
		Build()
}

// Run implements Source. It returns nil when FFmpeg ends its output or the
// frame limit is reached, and ctx.Err() on cancellation.
func (s *FFmpegSource) Run(ctx context.Context, emit func(media.Frame)) error {
	binary := s.cfg.FFmpegPath
	if binary == "" {
		path, err := ffmpeg.LookupBinary("ffmpeg", ffmpeg.BinaryEnvVar)
		if err != nil {
			return fmt.Errorf("%w: %w", media.ErrResourceUnavailable, err)
		}
		binary = path
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := s.Command(binary)
	s.logger.Debug("starting capture", slog.String("command", cmd.String()))
	pipes, err := cmd.Start(runCtx)
	if err != nil {
		return fmt.Errorf("%w: %w", media.ErrResourceUnavailable, err)
	}

	size := s.cfg.Layout.FrameSize(s.cfg.Width, s.cfg.Height)
	frames := 0
	var readErr error
	for s.cfg.Frames == 0 || frames < s.cfg.Frames {
		buf := make([]byte, size)
		if _, err := io.ReadFull(pipes.Stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
		emit(media.Frame{
			Data:       buf,
			Width:      s.cfg.Width,
			Height:     s.cfg.Height,
			Layout:     s.cfg.Layout,
			CapturedAt: time.Now(),
		})
		frames++
	}

	// Stopping early interrupts FFmpeg, so its exit status is not an error.
	limited := s.cfg.Frames > 0 && frames >= s.cfg.Frames
	if limited {
		cancel()
	}
	_, _ = io.Copy(io.Discard, pipes.Stdout)
	waitErr := cmd.Wait()

	s.logger.Debug("capture ended", slog.Int("frames", frames))
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case readErr != nil:
		return fmt.Errorf("reading frames: %w", readErr)
	case !limited && waitErr != nil:
		return fmt.Errorf("ffmpeg capture: %w", waitErr)
	default:
		return nil
	}
}
