package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maauso/trimflow/internal/pipeline"
)

// DefaultQueueSize is how many jobs may wait for the worker.
const DefaultQueueSize = 16

// Static errors for the job service.
var (
	// ErrQueueFull is returned by Submit when no more jobs can wait.
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobFinished is returned by Cancel for a job in a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// pipelineRunner is the subset of pipeline.Orchestrator used by the service.
type pipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (pipeline.Result, error)
}

// Service queues submitted jobs and runs them one at a time, so at most one
// pipeline, and one external process, is active.
type Service struct {
	repo     Repository
	pipeline pipelineRunner
	queue    chan string
	uploads  bool
	logger   *slog.Logger

	// mu serializes status changes made by Cancel and by the worker.
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.queue = make(chan string, n)
		}
	}
}

// WithUploads allows requests that ask for their outputs to be published.
// Enable it only when the pipeline has a publisher.
func WithUploads(enabled bool) ServiceOption {
	return func(s *Service) {
		s.uploads = enabled
	}
}

// NewService creates a new Service. Call Start to begin processing.
func NewService(repo Repository, p pipelineRunner, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		pipeline: p,
		queue:    make(chan string, DefaultQueueSize),
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, stores a new job and queues it.
func (s *Service) Submit(ctx context.Context, req pipeline.Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Upload && !s.uploads {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrInvalidRequest, pipeline.ErrPublisherNotConfigured)
	}

	job := New(req)
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	select {
	case s.queue <- job.ID:
	default:
		_ = s.repo.Delete(ctx, job.ID)
		return nil, ErrQueueFull
	}

	s.logger.Info("job queued",
		slog.String("job_id", job.ID),
		slog.String("input", req.InputPath),
		slog.Int("batch_inputs", len(req.BatchInputs)),
		slog.Float64("threshold_db", req.ThresholdDB),
		slog.Float64("min_silence", req.MinSilenceDuration),
	)
	return job, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns the jobs in any of statuses, oldest first.
func (s *Service) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	return s.repo.List(ctx, statuses...)
}

// Cancel stops a job. A queued job is marked CANCELLED immediately; a running
// job is interrupted and marked CANCELLED by the worker once the pipeline
// returns.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, ErrJobFinished
	}

	if cancel, ok := s.running[id]; ok {
		s.logger.Info("cancelling running job", slog.String("job_id", id))
		cancel()
		return job, nil
	}

	if err := job.Cancel(); err != nil {
		return nil, err
	}
	job.UpdateProgress(job.Progress, "Cancelled")
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("cancelled queued job", slog.String("job_id", id))
	return job, nil
}

// Start runs the worker until ctx is done. Cancelling ctx also cancels the job
// in progress.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("job worker started", slog.Int("queue_size", cap(s.queue)))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job worker stopped")
			return
		case id := <-s.queue:
			s.process(ctx, id)
		}
	}
}

// process runs one queued job to a terminal state.
func (s *Service) process(ctx context.Context, id string) {
	logger := s.logger.With(slog.String("job_id", id))

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, ok := s.claim(jobCtx, id, cancel, logger)
	if !ok {
		return
	}
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	save := func() {
		if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
			logger.Error("failed to save job", slog.String("error", err.Error()))
		}
	}

	sink := pipeline.SinkFunc(func(e pipeline.Event) {
		switch ev := e.(type) {
		case pipeline.Progress:
			job.UpdateProgress(ev.Percent, ev.Status)
		case pipeline.LogLine:
			job.AppendLog(ev.Message)
		case pipeline.Completion:
			job.UpdateProgress(job.Progress, ev.Message)
		}
		save()
	})

	res, err := s.pipeline.Run(jobCtx, job.Request, sink)

	switch {
	case err == nil:
		err = job.Complete(outputsFrom(res))
	case errors.Is(err, pipeline.ErrCancelled):
		logger.Info("job cancelled")
		err = job.Cancel()
	default:
		logger.Error("job failed", slog.String("error", err.Error()))
		err = job.Fail(err.Error(), pipeline.Diagnostics(err))
	}
	if err != nil {
		logger.Error("failed to finish job", slog.String("error", err.Error()))
	}
	save()
	logger.Info("job finished", slog.String("status", string(job.GetStatus())))
}

// claim moves a queued job to RUNNING and registers its cancel function.
// Jobs cancelled while waiting are skipped.
func (s *Service) claim(ctx context.Context, id string, cancel context.CancelFunc, logger *slog.Logger) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		logger.Error("failed to load queued job", slog.String("error", err.Error()))
		return nil, false
	}
	if job.GetStatus() != StatusInQueue {
		logger.Debug("skipping job", slog.String("status", string(job.GetStatus())))
		return nil, false
	}
	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return nil, false
	}
	if err := s.repo.Save(ctx, job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
		return nil, false
	}
	s.running[id] = cancel
	logger.Info("job started")
	return job, true
}

func outputsFrom(res pipeline.Result) []Output {
	outputs := make([]Output, 0, len(res.Files))
	for _, f := range res.Files {
		outputs = append(outputs, Output{
			Input:       f.Input,
			Path:        f.Output,
			URL:         f.URL,
			Silences:    f.Silences,
			Segments:    f.Segments,
			Passthrough: f.Passthrough,
			SizeBytes:   f.OutputSizeBytes,
		})
	}
	return outputs
}
