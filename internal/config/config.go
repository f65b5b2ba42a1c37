// Package config loads camrec settings from defaults, an optional YAML file
// and CAMREC_* environment variables, in increasing precedence.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the complete camrec configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Encoder  EncoderConfig  `mapstructure:"encoder"`
	Output   OutputConfig   `mapstructure:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig is the control API listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds recording catalog database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CaptureConfig describes the frame source.
type CaptureConfig struct {
	Source    string `mapstructure:"source"` // testpattern, ffmpeg
	Device    string `mapstructure:"device"` // v4l2 device, file or URL for the ffmpeg source
	Format    string `mapstructure:"format"` // ffmpeg input format, e.g. v4l2
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	FrameRate int    `mapstructure:"frame_rate"`
	Layout    string `mapstructure:"layout"` // nv21, nv12, i420
	QueueSize int    `mapstructure:"queue_size"`
}

// EncoderConfig selects and tunes the encoder backend.
type EncoderConfig struct {
	Backend        string `mapstructure:"backend"` // synthetic, ffmpeg
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
	Codec          string `mapstructure:"codec"`   // FFmpeg encoder name, or auto
	Bitrate        int    `mapstructure:"bitrate"` // 0 = width*height*4
	FrameRate      int    `mapstructure:"frame_rate"`
	IFrameInterval int    `mapstructure:"iframe_interval"` // seconds
	InputSlots     int    `mapstructure:"input_slots"`
	Preset         string `mapstructure:"preset"`
	Tune           string `mapstructure:"tune"`
	HWAccel        string `mapstructure:"hwaccel"`
	HWDevice       string `mapstructure:"hw_device"`
	ExtraOptions   string `mapstructure:"extra_options"`
}

// OutputConfig holds recording file configuration.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	Container    string `mapstructure:"container"` // mp4, ts
	NameTemplate string `mapstructure:"name_template"`
	// FragmentDuration caps the length of one fMP4 fragment.
	FragmentDuration time.Duration `mapstructure:"fragment_duration"`
	// MinFreeSpace refuses to start a recording when the output volume has
	// less space available. Supports values like "512MB" or "2GiB".
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// PipelineConfig holds orchestrator timing configuration.
type PipelineConfig struct {
	AutoStop          time.Duration `mapstructure:"auto_stop"` // 0 = record until stopped
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	OutputPollTimeout time.Duration `mapstructure:"output_poll_timeout"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	PTSBaseUs         int64         `mapstructure:"pts_base_us"`
	MaxSessions       int           `mapstructure:"max_sessions"`
}

// CatalogConfig holds recording catalog housekeeping.
type CatalogConfig struct {
	// Retention removes catalog entries older than this. Accepts "30d", "2w".
	Retention Duration `mapstructure:"retention"`
	// PruneCron is a 6-field cron expression for the retention job.
	PruneCron string `mapstructure:"prune_cron"`
	// DeleteFiles also removes the recording files of pruned entries.
	DeleteFiles bool `mapstructure:"delete_files"`
}

// ScheduleConfig holds scheduled recordings.
type ScheduleConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	Entries []ScheduleEntry `mapstructure:"entries"`
}

// ScheduleEntry starts a recording of Duration each time Cron fires.
type ScheduleEntry struct {
	Name     string        `mapstructure:"name"`
	Cron     string        `mapstructure:"cron"`
	Duration time.Duration `mapstructure:"duration"`
}

// EnvPrefix prefixes every environment override. Nested keys join with
// underscores: CAMREC_CAPTURE_WIDTH sets capture.width.
const EnvPrefix = "CAMREC"

// searchPaths are tried for camrec.yaml when no file is given.
var searchPaths = []string{".", "/etc/camrec", "$HOME/.camrec"}

// defaults seeds viper before the file and environment are read. Every key
// must be listed for AutomaticEnv to resolve its override.
var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.read_timeout":     30 * time.Second,
	"server.write_timeout":    30 * time.Second,
	"server.shutdown_timeout": 10 * time.Second,

	"database.driver":             "sqlite",
	"database.dsn":                "camrec.db",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  time.Hour,
	"database.conn_max_idle_time": 30 * time.Minute,
	"database.log_level":          "warn",

	"logging.level":       "info",
	"logging.format":      "json",
	"logging.add_source":  false,
	"logging.time_format": time.RFC3339,

	"capture.source":     "testpattern",
	"capture.device":     "/dev/video0",
	"capture.format":     "v4l2",
	"capture.width":      1280,
	"capture.height":     720,
	"capture.frame_rate": 24,
	"capture.layout":     "nv21",
	"capture.queue_size": 10,

	"encoder.backend":         "ffmpeg",
	"encoder.ffmpeg_path":     "",
	"encoder.codec":           "libx264",
	"encoder.bitrate":         0,
	"encoder.frame_rate":      24,
	"encoder.iframe_interval": 2,
	"encoder.input_slots":     4,
	"encoder.preset":          "ultrafast",
	"encoder.tune":            "zerolatency",
	"encoder.hwaccel":         "",
	"encoder.hw_device":       "",
	"encoder.extra_options":   "",

	"output.dir":               "./recordings",
	"output.container":         "mp4",
	"output.name_template":     "camrec-{date}-{ulid}.{container}",
	"output.fragment_duration": 2 * time.Second,
	"output.min_free_space":    "512MiB",

	"pipeline.auto_stop":           15 * time.Second,
	"pipeline.poll_timeout":        10 * time.Millisecond,
	"pipeline.output_poll_timeout": 5 * time.Millisecond,
	"pipeline.drain_timeout":       5 * time.Second,
	"pipeline.pts_base_us":         132,
	"pipeline.max_sessions":        4,

	"catalog.retention":    "30d",
	"catalog.prune_cron":   "0 30 3 * * *",
	"catalog.delete_files": false,

	"schedule.enabled": false,
	"schedule.entries": []map[string]any{},
}

// SetDefaults seeds v with every known key.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load merges defaults, the config file and the environment, then
// validates. An empty path searches searchPaths for camrec.yaml and runs
// on defaults when none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("camrec")
		v.SetConfigType("yaml")
		for _, dir := range searchPaths {
			v.AddConfigPath(dir)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", cmp.Or(path, "camrec.yaml"), err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration the defaults alone produce.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var p problems

	p.check(c.Server.Port >= 1 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")

	p.oneOf("database.driver", c.Database.Driver, "sqlite", "postgres", "mysql")
	p.check(c.Database.DSN != "", "database.dsn is required")

	p.oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error")
	p.oneOf("logging.format", c.Logging.Format, "json", "text")

	p.oneOf("capture.source", c.Capture.Source, "testpattern", "ffmpeg")
	p.check(c.Capture.Width > 0 && c.Capture.Height > 0, "capture.width and capture.height must be positive")
	p.check(c.Capture.Width%2 == 0 && c.Capture.Height%2 == 0, "capture.width and capture.height must be even")
	p.atLeast("capture.frame_rate", c.Capture.FrameRate, 1)
	p.oneOf("capture.layout", c.Capture.Layout, "nv21", "nv12", "i420")
	p.atLeast("capture.queue_size", c.Capture.QueueSize, 1)

	p.oneOf("encoder.backend", c.Encoder.Backend, "synthetic", "ffmpeg")
	p.atLeast("encoder.bitrate", c.Encoder.Bitrate, 0)
	p.atLeast("encoder.frame_rate", c.Encoder.FrameRate, 1)
	p.atLeast("encoder.iframe_interval", c.Encoder.IFrameInterval, 0)
	p.atLeast("encoder.input_slots", c.Encoder.InputSlots, 1)

	p.check(c.Output.Dir != "", "output.dir is required")
	p.oneOf("output.container", c.Output.Container, "mp4", "fmp4", "ts", "mpegts")
	p.check(c.Output.MinFreeSpace >= 0, "output.min_free_space must not be negative")

	p.check(c.Pipeline.AutoStop >= 0, "pipeline.auto_stop must not be negative")
	p.check(c.Pipeline.PollTimeout > 0 && c.Pipeline.OutputPollTimeout > 0, "pipeline poll timeouts must be positive")
	p.check(c.Pipeline.DrainTimeout > 0, "pipeline.drain_timeout must be positive")
	p.check(c.Pipeline.PTSBaseUs >= 0, "pipeline.pts_base_us must not be negative")
	p.atLeast("pipeline.max_sessions", c.Pipeline.MaxSessions, 1)

	p.check(c.Catalog.Retention >= 0, "catalog.retention must not be negative")

	for i, e := range c.Schedule.Entries {
		p.check(e.Cron != "", fmt.Sprintf("schedule.entries[%d].cron is required", i))
		p.check(e.Duration > 0, fmt.Sprintf("schedule.entries[%d].duration must be positive", i))
	}
	return errors.Join(p...)
}

type problems []error

func (p *problems) check(ok bool, msg string) {
	if !ok {
		*p = append(*p, errors.New(msg))
	}
}

func (p *problems) oneOf(key, value string, allowed ...string) {
	p.check(slices.Contains(allowed, value),
		fmt.Sprintf("%s %q must be one of %s", key, value, strings.Join(allowed, ", ")))
}

func (p *problems) atLeast(key string, value, floor int) {
	p.check(value >= floor, fmt.Sprintf("%s must be at least %d", key, floor))
}
