package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camrec/internal/config"
	internalhttp "github.com/jmylchreest/camrec/internal/http"
	"github.com/jmylchreest/camrec/internal/http/handlers"
	"github.com/jmylchreest/camrec/internal/scheduler"
	"github.com/jmylchreest/camrec/internal/startup"
	"github.com/jmylchreest/camrec/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording service",
	Long: `Serve runs the HTTP control API and the recording scheduler.

Recordings are started and stopped through /api/v1/recordings, fired by
schedule.entries, and stored in the catalog when they finish. Running
recordings are finalized on SIGINT or SIGTERM before the process exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "address to bind (default server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default server.port)")
	serveCmd.Flags().Bool("no-schedule", false, "do not fire schedule entries")
}

// scheduleEntries converts the configured entries. Entries without a name
// are named after their position.
func scheduleEntries(sc config.ScheduleConfig) []scheduler.Entry {
	if !sc.Enabled {
		return nil
	}
	entries := make([]scheduler.Entry, 0, len(sc.Entries))
	for i, e := range sc.Entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("entry-%d", i)
		}
		entries = append(entries, scheduler.Entry{Name: name, Cron: e.Cron, Duration: e.Duration})
	}
	return entries
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logger()
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting camrec",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("output_dir", cfg.Output.Dir),
	)

	if err := startup.PrepareOutputDir(cfg.Output.Dir); err != nil {
		return err
	}
	if _, err := startup.CleanupEmptyRecordings(log, cfg.Output.Dir, startup.DefaultCleanupAge); err != nil {
		log.Warn("cleaning up empty recordings", slog.String("error", err.Error()))
	}

	db, cat, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	manager, err := newManager(ctx, cfg, cat.Hook(), log)
	if err != nil {
		return err
	}

	schedCfg := scheduler.Config{
		PruneCron:   cfg.Catalog.PruneCron,
		Retention:   cfg.Catalog.Retention.Duration(),
		DeleteFiles: cfg.Catalog.DeleteFiles,
	}
	if noSchedule, _ := cmd.Flags().GetBool("no-schedule"); !noSchedule {
		schedCfg.Entries = scheduleEntries(cfg.Schedule)
	}
	executor := scheduler.NewExecutor(manager, cat).WithLogger(log)
	sched := scheduler.NewScheduler(executor).WithLogger(log).WithConfig(schedCfg)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	serverCfg := internalhttp.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := internalhttp.NewServer(serverCfg, log, version.Version)
	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithManager(manager).
		WithOutputDir(cfg.Output.Dir).
		WithMinFreeSpace(cfg.Output.MinFreeSpace.Bytes()).
		Register(server.API())
	handlers.NewRecordingHandler(manager, cat).Register(server.API())
	handlers.NewScheduleHandler(sched, cat).Register(server.API())

	serveErr := server.ListenAndServe(ctx)

	// The HTTP server is down; stop firing entries, then finalize whatever
	// is still recording before the catalog closes.
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+cfg.Pipeline.DrainTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("stopping recordings", slog.String("error", err.Error()))
	}

	log.Info("camrec stopped")
	return serveErr
}
