package pipeline

import (
	"time"

	"github.com/jmylchreest/camrec/internal/encoder"
)

// Timing defaults.
const (
	DefaultAutoStop          = 15 * time.Second
	DefaultPollTimeout       = 10 * time.Millisecond
	DefaultOutputPollTimeout = 5 * time.Millisecond
	DefaultDrainTimeout      = 5 * time.Second
)

// NoAutoStop disables the auto-stop budget; the pipeline records until
// stopped.
const NoAutoStop time.Duration = -1

// Options are the parameters of one recording.
type Options struct {
	// Label is a free-form name stored with the recording, e.g. a schedule entry.
	Label string `json:"label,omitempty"`
	// Schedule names the schedule entry that started the recording.
	Schedule string `json:"schedule,omitempty"`

	Width     int `json:"width"`
	Height    int `json:"height"`
	Bitrate   int `json:"bitrate"`
	FrameRate int `json:"frame_rate"`
	// IFrameIntervalSeconds is the key frame distance.
	IFrameIntervalSeconds int `json:"iframe_interval"`

	// AutoStop ends the recording after this much wall-clock time. Zero
	// applies DefaultAutoStop; NoAutoStop disables it.
	AutoStop time.Duration `json:"auto_stop"`

	// Container overrides the manager's output format ("mp4", "ts").
	Container string `json:"container,omitempty"`

	PollTimeout       time.Duration `json:"-"`
	OutputPollTimeout time.Duration `json:"-"`
	DrainTimeout      time.Duration `json:"-"`
	// PTSBaseUs is the presentation time of the first frame.
	PTSBaseUs int64 `json:"-"`
}

// DefaultOptions returns options for a 24 fps recording with a 15 s budget.
// Width and Height are left for the caller.
func DefaultOptions() Options {
	return Options{
		FrameRate:             encoder.DefaultFrameRate,
		IFrameIntervalSeconds: encoder.DefaultIFrameIntervalSec,
		AutoStop:              DefaultAutoStop,
		PollTimeout:           DefaultPollTimeout,
		OutputPollTimeout:     DefaultOutputPollTimeout,
		DrainTimeout:          DefaultDrainTimeout,
		PTSBaseUs:             encoder.DefaultPTSBaseUs,
	}
}

// Merge returns o with zero fields taken from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Label == "" {
		o.Label = defaults.Label
	}
	if o.Width == 0 {
		o.Width = defaults.Width
	}
	if o.Height == 0 {
		o.Height = defaults.Height
	}
	if o.Bitrate == 0 {
		o.Bitrate = defaults.Bitrate
	}
	if o.FrameRate == 0 {
		o.FrameRate = defaults.FrameRate
	}
	if o.IFrameIntervalSeconds == 0 {
		o.IFrameIntervalSeconds = defaults.IFrameIntervalSeconds
	}
	if o.AutoStop == 0 {
		o.AutoStop = defaults.AutoStop
	}
	if o.Container == "" {
		o.Container = defaults.Container
	}
	if o.PollTimeout == 0 {
		o.PollTimeout = defaults.PollTimeout
	}
	if o.OutputPollTimeout == 0 {
		o.OutputPollTimeout = defaults.OutputPollTimeout
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = defaults.DrainTimeout
	}
	if o.PTSBaseUs == 0 {
		o.PTSBaseUs = defaults.PTSBaseUs
	}
	return o
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	return o.Merge(DefaultOptions())
}

// EncoderConfig returns the encoder session parameters.
func (o Options) EncoderConfig() encoder.Config {
	return encoder.Config{
		Width:                 o.Width,
		Height:                o.Height,
		Bitrate:               o.Bitrate,
		FrameRate:             o.FrameRate,
		IFrameIntervalSeconds: o.IFrameIntervalSeconds,
	}
}

// Validate checks the parameters. Errors are *media.ConfigurationError.
func (o Options) Validate() error {
	return o.EncoderConfig().WithDefaults().Validate()
}

func (o Options) autoStopEnabled() bool {
	return o.AutoStop > 0
}
