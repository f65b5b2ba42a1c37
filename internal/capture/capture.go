// Package capture provides the frame sources that feed a recording: a
// synthetic test pattern and an FFmpeg reader for V4L2 devices or any other
// FFmpeg input.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmylchreest/camrec/internal/media"
)

// Source kinds.
const (
	KindTestPattern = "testpattern"
	KindFFmpeg      = "ffmpeg"
)

// Config selects and parameterises a source.
type Config struct {
	// Kind is KindTestPattern or KindFFmpeg.
	Kind string
	// Device is the FFmpeg input, e.g. /dev/video0 or testsrc2 for lavfi.
	Device string
	// Format is the FFmpeg input format, e.g. v4l2.
	Format string
	// FFmpegPath overrides binary discovery.
	FFmpegPath string

	Width     int
	Height    int
	FrameRate int
	Layout    media.PixelLayout
	// Frames ends the source after this many frames. Zero means unlimited.
	Frames int
}

// Source produces frames until ctx is done or it runs out.
type Source interface {
	Run(ctx context.Context, emit func(media.Frame)) error
}

// New creates the source described by cfg.
func New(cfg Config, logger *slog.Logger) (Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return nil, media.NewConfigurationError("capture", fmt.Sprintf("invalid frame size %dx%d", cfg.Width, cfg.Height))
	}
	if cfg.FrameRate <= 0 {
		return nil, media.NewConfigurationError("capture", "frame rate must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Kind) {
	case KindTestPattern, "":
		return NewTestPattern(cfg), nil
	case KindFFmpeg, "v4l2", "device":
		return NewFFmpegSource(cfg, logger), nil
	default:
		return nil, media.NewConfigurationError("capture", fmt.Sprintf("unknown source %q", cfg.Kind))
	}
}
