package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"lodestone/internal/config"
	"lodestone/internal/document"
	"lodestone/internal/embed"
	"lodestone/internal/index"
	"lodestone/internal/logging"
	"lodestone/internal/search"
	"lodestone/internal/server"
	"lodestone/internal/store"
	"lodestone/internal/telemetry"
	"lodestone/internal/watcher"
	"lodestone/pkg/version"
)

// shutdownGrace bounds the drain of in-flight requests on SIGINT/SIGTERM.
const shutdownGrace = 10 * time.Second

// newServeCmd creates the serve command.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Configuration is read from the YAML file given
via --config (or ./lodestone.yaml when present), then .env, then process
environment variables, later sources winning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// JSON logs for collectors, text when a human is watching.
	format := logging.FormatJSON
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		format = logging.FormatText
	}
	logger := logging.SetupDefault(logging.Config{
		Level:  cfg.Server.LogLevel,
		Format: format,
	})
	logger.Info("starting lodestone",
		"version", version.Version,
		"index_dir", cfg.Index.Dir,
		"embedding_mode", cfg.Embedding.Mode)

	st, err := store.New(cfg.Index.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open index directory: %w", err)
	}

	embedders := embed.NewFactory(cfg.Embedding.Endpoint, logger)
	defer embedders.Close()

	registry := index.NewRegistry(st, cfg, embedders, logger)
	documents := document.NewService(st, registry, logger)
	searchSvc := search.NewService(st, cfg, embedders, logger)
	defer searchSvc.Close()
	registry.SetInvalidator(searchSvc)

	metrics := telemetry.NewMetrics()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Index.Watch {
		w, err := watcher.New(cfg.Index.Dir, searchSvc, logger)
		if err != nil {
			logger.Warn("artifact watcher unavailable", "error", err)
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("artifact watcher failed to start", "error", err)
		} else {
			defer w.Stop()
		}
	}

	srv := server.New(cfg, registry, documents, searchSvc, embedders, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	return <-errCh
}
