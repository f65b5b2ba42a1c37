package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/camrec/internal/pipeline"
)

const recordShutdownTimeout = 30 * time.Second

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one session from the configured source",
	Long: `Record captures frames from the configured source into one file.

The recording stops after --duration, when the source ends, or on SIGINT or
SIGTERM. An interrupted recording is still finalized into a playable file.
Finished recordings are stored in the catalog unless --no-catalog is set.`,
	Example: `  camrec record --duration 30s
  camrec record --until-stopped --container ts --label garage
  camrec record --width 640 --height 480 --fps 30 --bitrate 1200000`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().Duration("duration", 0, "stop after this long (default pipeline.auto_stop)")
	recordCmd.Flags().Bool("until-stopped", false, "record until interrupted")
	recordCmd.Flags().String("label", "", "label stored with the recording")
	recordCmd.Flags().Int("width", 0, "frame width (default capture.width)")
	recordCmd.Flags().Int("height", 0, "frame height (default capture.height)")
	recordCmd.Flags().Int("fps", 0, "encoder frame rate (default encoder.frame_rate)")
	recordCmd.Flags().Int("bitrate", 0, "encoder bitrate in bits per second (default width*height*4)")
	recordCmd.Flags().String("container", "", "container format: mp4 or ts (default output.container)")
	recordCmd.Flags().String("output-dir", "", "output directory (default output.dir)")
	recordCmd.Flags().Bool("no-catalog", false, "do not store the recording in the catalog")
	recordCmd.MarkFlagsMutuallyExclusive("duration", "until-stopped")
}

// recordOptions maps the record flags onto pipeline options.
func recordOptions(cmd *cobra.Command) pipeline.Options {
	flags := cmd.Flags()
	var opts pipeline.Options
	opts.Label, _ = flags.GetString("label")
	opts.Width, _ = flags.GetInt("width")
	opts.Height, _ = flags.GetInt("height")
	opts.FrameRate, _ = flags.GetInt("fps")
	opts.Bitrate, _ = flags.GetInt("bitrate")
	opts.Container, _ = flags.GetString("container")
	opts.AutoStop, _ = flags.GetDuration("duration")
	if until, _ := flags.GetBool("until-stopped"); until {
		opts.AutoStop = pipeline.NoAutoStop
	}
	return opts
}

func runRecord(cmd *cobra.Command, _ []string) error {
	log := logger()
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Output.Dir = dir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hook pipeline.ResultHook
	if noCatalog, _ := cmd.Flags().GetBool("no-catalog"); !noCatalog {
		db, cat, err := openCatalog(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warn("closing database", slog.String("error", err.Error()))
			}
		}()
		hook = cat.Hook()
	}

	manager, err := newManager(ctx, cfg, hook, log)
	if err != nil {
		return err
	}
	// Shutdown waits for the result hook, so it runs before the database closes.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), recordShutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("pipeline shutdown", slog.String("error", err.Error()))
		}
	}()

	handle, err := manager.StartPipeline(ctx, recordOptions(cmd))
	if err != nil {
		return fmt.Errorf("starting recording: %w", err)
	}
	info, _ := manager.Get(handle)
	fmt.Fprintf(cmd.ErrOrStderr(), "recording %s to %s (ctrl-c to stop)\n", handle, info.Path)

	result, err := manager.Wait(ctx, handle)
	if errors.Is(err, context.Canceled) {
		log.Info("interrupted, stopping recording", slog.String("session_id", handle.String()))
		result, err = manager.StopPipeline(context.WithoutCancel(ctx), handle)
	}
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), info, result)
	if !result.Success() {
		return fmt.Errorf("recording failed: %s", result.Error)
	}
	return nil
}

// printResult writes a human summary of a finished recording.
func printResult(w io.Writer, info pipeline.SessionInfo, result *pipeline.Result) {
	fmt.Fprintf(w, "File:       %s\n", info.Path)
	fmt.Fprintf(w, "State:      %s (%s)\n", result.State, result.StopReason)
	if result.Track != nil {
		fmt.Fprintf(w, "Track:      %s\n", result.Track)
	}
	fmt.Fprintf(w, "Duration:   %s wall, %s media\n",
		result.Duration.Round(time.Millisecond), result.MediaDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Frames:     %s offered, %s dropped, %s encoded\n",
		humanize.Comma(int64(result.FramesOffered)),
		humanize.Comma(int64(result.FramesDropped)),
		humanize.Comma(int64(result.FramesSubmitted)))
	fmt.Fprintf(w, "Samples:    %s (%s key frames)\n",
		humanize.Comma(int64(result.SamplesWritten)), humanize.Comma(int64(result.KeyFrames)))
	fmt.Fprintf(w, "Written:    %s\n", humanize.IBytes(result.BytesWritten))
	if result.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", result.Error)
	}
	if result.ReleaseError != "" {
		fmt.Fprintf(w, "Release:    %s\n", result.ReleaseError)
	}
}
