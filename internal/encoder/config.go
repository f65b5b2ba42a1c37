package encoder

import (
	"fmt"

	"github.com/jmylchreest/camrec/internal/media"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultFrameRate         = 24
	DefaultIFrameIntervalSec = 2
	DefaultCodec             = "h264"
)

// Config holds the encoder session parameters.
type Config struct {
	Width     int
	Height    int
	Bitrate   int // bits per second, 0 for width*height*4
	FrameRate int
	// IFrameIntervalSeconds is the distance between key frames.
	IFrameIntervalSeconds int
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.FrameRate == 0 {
		c.FrameRate = DefaultFrameRate
	}
	if c.IFrameIntervalSeconds == 0 {
		c.IFrameIntervalSeconds = DefaultIFrameIntervalSec
	}
	if c.Bitrate == 0 {
		c.Bitrate = c.Width * c.Height * 4
	}
	return c
}

// Validate checks the parameters. Errors are *media.ConfigurationError.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return media.NewConfigurationError("size", fmt.Sprintf("%dx%d must be positive", c.Width, c.Height))
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return media.NewConfigurationError("size", fmt.Sprintf("%dx%d must be even for 4:2:0 input", c.Width, c.Height))
	}
	if c.FrameRate <= 0 {
		return media.NewConfigurationError("frame_rate", "must be positive")
	}
	if c.Bitrate < 0 {
		return media.NewConfigurationError("bitrate", "must not be negative")
	}
	if c.IFrameIntervalSeconds < 0 {
		return media.NewConfigurationError("iframe_interval", "must not be negative")
	}
	return nil
}

// GOPSize returns the number of frames between key frames.
func (c Config) GOPSize() int {
	gop := c.FrameRate * c.IFrameIntervalSeconds
	if gop < 1 {
		return 1
	}
	return gop
}

// InputSize returns the NV12 frame size the session expects.
func (c Config) InputSize() int {
	return media.LayoutNV12.FrameSize(c.Width, c.Height)
}
