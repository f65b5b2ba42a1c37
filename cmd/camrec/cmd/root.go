// Package cmd implements the camrec command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/camrec/internal/config"
	"github.com/jmylchreest/camrec/internal/observability"
	"github.com/jmylchreest/camrec/internal/version"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

var (
	// cfgFile holds the config file path from the --config flag.
	cfgFile string
	// cfg is the effective configuration, loaded before each command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "camrec",
	Short:   "Camera capture-to-file recorder",
	Version: version.Short(),
	Long: `camrec records raw camera frames into playable H.264 files.

Frames are queued with a bounded drop-oldest buffer, converted to NV12,
encoded at the configured frame rate and written as fragmented MP4 or
MPEG-TS. Recordings can be run once from the command line, on a cron
schedule or through the HTTP control API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			initLogging(cmd.Flags(), config.Default().Logging)
			return nil
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		cfg.Logging = initLogging(cmd.Flags(), cfg.Logging)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Log flags are not bound to viper: they override config and env only
	// when given explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./camrec.yaml, /etc/camrec, $HOME/.camrec)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initLogging installs the default logger. Explicit --log-level and
// --log-format flags take precedence over cfg.
func initLogging(flags *pflag.FlagSet, logCfg config.LoggingConfig) config.LoggingConfig {
	if flags.Changed("log-level") {
		logCfg.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		logCfg.Format, _ = flags.GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)
	return logCfg
}

func logger() *slog.Logger {
	return slog.Default()
}
