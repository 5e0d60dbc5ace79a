package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/trimflow/internal/bootstrap"
	"github.com/maauso/trimflow/internal/config"
	"github.com/maauso/trimflow/internal/server"
)

// errMediaRootRequired is returned when serve has no directory to confine
// job paths to.
var errMediaRootRequired = errors.New("serve needs MEDIA_ROOT or --media-root")

func newServeCmd() *cobra.Command {
	var (
		port      int
		mediaRoot string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("media-root") {
				cfg.MediaRoot = mediaRoot
			}
			if cfg.MediaRoot == "" {
				return errMediaRootRequired
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from PORT)")
	cmd.Flags().StringVar(&mediaRoot, "media-root", "", "directory job paths must stay in (default from MEDIA_ROOT)")
	return cmd
}

// serve runs the job worker and the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting trimflow server",
		slog.Int("port", cfg.Port),
		slog.String("media_root", cfg.MediaRoot),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		deps.JobService.Start(workerCtx)
	}()

	handlers := server.NewHandlers(deps.JobService, logger,
		server.WithDefaults(deps.Defaults),
		server.WithMediaRoot(cfg.MediaRoot),
	)
	routerCfg := server.DefaultConfig()
	routerCfg.AllowedOrigins = cfg.CORSOrigins
	router := server.NewRouter(handlers, logger, routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	stopWorker()
	<-workerDone

	logger.Info("server stopped gracefully")
	return nil
}
