package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/camrec/internal/capture"
	"github.com/jmylchreest/camrec/internal/catalog"
	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/container"
	"github.com/jmylchreest/camrec/internal/database"
	"github.com/jmylchreest/camrec/internal/encoder"
	"github.com/jmylchreest/camrec/internal/ffmpeg"
	"github.com/jmylchreest/camrec/internal/media"
	"github.com/jmylchreest/camrec/internal/pipeline"
)

const (
	detectTimeout    = 10 * time.Second
	detectCacheTTL   = 5 * time.Minute
	usageInterval    = 5 * time.Second
	backendSynthetic = "synthetic"
	backendFFmpeg    = "ffmpeg"
)

// defaultOptions converts the pipeline and encoder sections into the
// options every recording starts from.
func defaultOptions(c *config.Config) pipeline.Options {
	autoStop := c.Pipeline.AutoStop
	if autoStop == 0 {
		autoStop = pipeline.NoAutoStop
	}
	return pipeline.Options{
		Width:                 c.Capture.Width,
		Height:                c.Capture.Height,
		Bitrate:               c.Encoder.Bitrate,
		FrameRate:             c.Encoder.FrameRate,
		IFrameIntervalSeconds: c.Encoder.IFrameInterval,
		AutoStop:              autoStop,
		Container:             c.Output.Container,
		PollTimeout:           c.Pipeline.PollTimeout,
		OutputPollTimeout:     c.Pipeline.OutputPollTimeout,
		DrainTimeout:          c.Pipeline.DrainTimeout,
		PTSBaseUs:             c.Pipeline.PTSBaseUs,
	}.WithDefaults()
}

// backendFactory returns the encoder factory for c.Encoder.Backend. The
// FFmpeg binary is probed once up front so a missing encoder fails before
// any recording starts.
func backendFactory(ctx context.Context, c *config.Config, log *slog.Logger) (pipeline.BackendFactory, error) {
	enc := c.Encoder
	switch enc.Backend {
	case backendSynthetic:
		return func(pipeline.Options) (encoder.Backend, error) {
			return encoder.NewSyntheticBackend(encoder.SyntheticOptions{InputSlots: enc.InputSlots}), nil
		}, nil

	case backendFFmpeg:
		detector := ffmpeg.NewBinaryDetector(enc.FFmpegPath).WithCacheTTL(detectCacheTTL)
		detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
		defer cancel()
		info, err := detector.Detect(detectCtx)
		if err != nil {
			return nil, fmt.Errorf("detecting ffmpeg: %w", err)
		}
		if enc.Codec == ffmpeg.AutoCodec {
			enc.Codec, enc.HWAccel = ffmpeg.SelectH264Encoder(info, enc.HWAccel)
		}
		if enc.HWAccel == "vaapi" && enc.HWDevice == "" {
			enc.HWDevice = ffmpeg.VAAPIDevice()
		}
		if !info.HasEncoder(enc.Codec) {
			return nil, media.NewConfigurationError("encoder", fmt.Sprintf("ffmpeg %s has no encoder %q", info.Version, enc.Codec))
		}
		log.Info("ffmpeg detected",
			slog.String("path", info.Path),
			slog.String("version", info.Version),
			slog.String("codec", enc.Codec),
			slog.Bool("hardware", ffmpeg.IsHardwareEncoder(enc.Codec)),
		)

		opts := encoder.FFmpegOptions{
			Binary:             info.Path,
			Codec:              enc.Codec,
			Preset:             enc.Preset,
			Tune:               enc.Tune,
			HWAccel:            enc.HWAccel,
			HWDevice:           enc.HWDevice,
			InputSlots:         enc.InputSlots,
			ExtraOutputOptions: enc.ExtraOptions,
			UsageInterval:      usageInterval,
		}
		return func(pipeline.Options) (encoder.Backend, error) {
			return encoder.NewFFmpegBackend(opts, detector, log), nil
		}, nil
	}
	return nil, media.NewConfigurationError("encoder", fmt.Sprintf("unknown backend %q", enc.Backend))
}

// sourceFactory builds a capture source per recording. The camera runs at
// capture.frame_rate; the frame queue absorbs any difference from the
// encoder rate.
func sourceFactory(c *config.Config, log *slog.Logger) (pipeline.SourceFactory, error) {
	layout, err := media.ParsePixelLayout(c.Capture.Layout)
	if err != nil {
		return nil, err
	}
	ffmpegPath := c.Encoder.FFmpegPath
	return func(opts pipeline.Options) (pipeline.Source, error) {
		return capture.New(capture.Config{
			Kind:       c.Capture.Source,
			Device:     c.Capture.Device,
			Format:     c.Capture.Format,
			FFmpegPath: ffmpegPath,
			Width:      opts.Width,
			Height:     opts.Height,
			FrameRate:  c.Capture.FrameRate,
			Layout:     layout,
		}, log)
	}, nil
}

// newManager wires a pipeline manager from c. hook may be nil.
func newManager(ctx context.Context, c *config.Config, hook pipeline.ResultHook, log *slog.Logger) (*pipeline.Manager, error) {
	format, err := container.ParseFormat(c.Output.Container)
	if err != nil {
		return nil, err
	}
	newBackend, err := backendFactory(ctx, c, log)
	if err != nil {
		return nil, err
	}
	newSource, err := sourceFactory(c, log)
	if err != nil {
		return nil, err
	}

	return pipeline.NewManager(pipeline.ManagerConfig{
		OutputDir:        c.Output.Dir,
		NameTemplate:     c.Output.NameTemplate,
		Container:        format,
		FragmentDuration: c.Output.FragmentDuration,
		QueueSize:        c.Capture.QueueSize,
		MaxSessions:      c.Pipeline.MaxSessions,
		MinFreeSpace:     c.Output.MinFreeSpace.Bytes(),
		NewBackend:       newBackend,
		NewSource:        newSource,
		Defaults:         defaultOptions(c),
		OnResult:         hook,
		Logger:           log,
	})
}

// openCatalog opens the database, applies migrations and returns the
// catalog on top of it.
func openCatalog(ctx context.Context, c *config.Config, log *slog.Logger) (*database.DB, *catalog.Catalog, error) {
	db, err := database.OpenAndMigrate(ctx, c.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog database: %w", err)
	}
	return db, catalog.New(db.DB, log), nil
}
