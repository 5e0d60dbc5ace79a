// Package bootstrap provides dependency initialization for trimflow.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/trimflow/internal/config"
	"github.com/maauso/trimflow/internal/job"
	"github.com/maauso/trimflow/internal/media"
	"github.com/maauso/trimflow/internal/pipeline"
	"github.com/maauso/trimflow/internal/runner"
	"github.com/maauso/trimflow/internal/silence"
	"github.com/maauso/trimflow/internal/storage"
)

// ObjectKeyPrefix is the first path element of every published object key.
const ObjectKeyPrefix = "trimflow"

// Dependencies holds all initialized dependencies for the CLI and the HTTP server.
type Dependencies struct {
	Tools        media.Tools
	Orchestrator *pipeline.Orchestrator
	JobService   *job.Service
	Defaults     silence.Options
}

// NewDependencies resolves the external tools and wires the pipeline stages,
// the optional publisher and the job service.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	tools, err := media.ResolveTools(cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("resolve tools: %w", err)
	}
	logger.Debug("tools resolved",
		slog.String("ffmpeg", tools.FFmpeg),
		slog.String("ffprobe", tools.FFprobe),
	)

	workspaces, err := storage.NewLocalStorage(cfg.TempDir,
		storage.WithCleanupRetry(cfg.CleanupAttempts, cfg.CleanupBackoff),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", workspaces.Root()),
	)

	run := runner.New(logger, runner.WithKillGrace(cfg.KillGrace))

	opts := []pipeline.Option{pipeline.WithOutputSuffix(cfg.OutputSuffix)}
	publisher, err := initPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, pipeline.WithPublisher(publisher, ObjectKeyPrefix))
	}

	orch := pipeline.NewOrchestrator(
		silence.NewDetector(tools.FFmpeg, run, logger, silence.WithTimeout(cfg.AnalysisTimeout)),
		media.NewProber(tools.FFprobe, run),
		media.NewExtractor(tools.FFmpeg, run, logger,
			media.WithExtractTimeout(cfg.ExtractTimeout),
			media.WithEncodeOptions(cfg.EncodeOptions()),
		),
		media.NewConcatenator(tools.FFmpeg, run, logger, media.WithConcatTimeout(cfg.ConcatTimeout)),
		workspaces,
		logger,
		opts...,
	)

	svc := job.NewService(job.NewMemoryRepository(), orch, logger,
		job.WithQueueSize(cfg.QueueSize),
		job.WithUploads(publisher != nil),
	)

	return &Dependencies{
		Tools:        tools,
		Orchestrator: orch,
		JobService:   svc,
		Defaults:     cfg.SilenceOptions(),
	}, nil
}

// initPublisher returns nil when S3 is not configured.
func initPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.S3Publisher, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}
	p, err := storage.NewS3Publisher(ctx, cfg.S3Config())
	if err != nil {
		return nil, fmt.Errorf("create S3 publisher: %w", err)
	}
	logger.Info("S3 publishing configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return p, nil
}
