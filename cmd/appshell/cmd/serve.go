package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/appshell/appshell/internal/adapter/inbound/http"
	"github.com/appshell/appshell/internal/config"
)

// shutdownTimeout bounds how long draining side effects and the audit
// trail may take after a signal.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline with the health and metrics listener",
	Long: `Start the dispatch pipeline and serve /healthz and /metrics on
server.http_addr until interrupted.

On SIGINT/SIGTERM in-flight side effects finish and the audit trail is
flushed before exit. A second signal exits immediately.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg, os.Stderr)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("appshell stopped")
	return nil
}

// serve runs until ctx is cancelled, then drains and shuts everything down.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := bootstrap(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}

	srv := httpadapter.NewServer(
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithGatherer(a.metrics),
		httpadapter.WithHealthChecker(a.health),
	)

	logger.Info("appshell started",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"actions", a.registry.Len(),
		"storage", cfg.Storage.Driver,
		"dev_mode", cfg.DevMode,
	)

	serveErr := srv.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
