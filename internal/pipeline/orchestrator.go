// Package pipeline sequences silence detection, planning, extraction and
// concatenation for single files and batches, reporting progress as it goes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/trimflow/internal/media"
	"github.com/maauso/trimflow/internal/runner"
	"github.com/maauso/trimflow/internal/segment"
	"github.com/maauso/trimflow/internal/silence"
	"github.com/maauso/trimflow/internal/storage"
)

// Static errors returned by Run.
var (
	// ErrInputNotFound is returned when an input file does not exist.
	ErrInputNotFound = errors.New("input file not found")
	// ErrCancelled is returned when the run stopped at a cancellation checkpoint
	// or while a tool was running.
	ErrCancelled = errors.New("processing cancelled")
	// ErrNoInputs is returned for a batch with no inputs left to process.
	ErrNoInputs = errors.New("no inputs to process")
	// ErrPublisherNotConfigured is returned when an upload is requested but no
	// publisher was configured.
	ErrPublisherNotConfigured = errors.New("upload requested but publishing is not configured")
)

// Stage interfaces, satisfied by the silence, media and storage packages.
type (
	silenceDetector interface {
		Detect(ctx context.Context, inputPath string, opts silence.Options) ([]silence.Interval, error)
	}
	durationProber interface {
		Duration(ctx context.Context, path string) (float64, error)
	}
	segmentExtractor interface {
		Extract(ctx context.Context, inputPath, workspace string, index, total int, seg segment.KeepSegment) (string, error)
	}
	clipConcatenator interface {
		Concat(ctx context.Context, workspace string, clips []string, outputPath string) (int64, error)
	}
	workspaceManager interface {
		CreateWorkspace(ctx context.Context) (string, error)
		RemoveWorkspace(ctx context.Context, dir string) error
	}
)

// FileResult summarizes one processed input.
type FileResult struct {
	Input  string
	Output string
	// Silences is the number of detected silence intervals.
	Silences int
	// Segments is the number of kept segments. Zero for a passthrough copy.
	Segments        int
	TotalDuration   float64
	KeptDuration    float64
	Passthrough     bool
	OutputSizeBytes int64
	URL             string
	Elapsed         time.Duration
}

// Result summarizes a run. Files holds every input that finished.
type Result struct {
	RunID     string
	Files     []FileResult
	Cancelled bool
}

// Orchestrator runs the silence removal pipeline. Work is strictly
// sequential: at most one external process is running at any time.
type Orchestrator struct {
	detector     silenceDetector
	prober       durationProber
	extractor    segmentExtractor
	concatenator clipConcatenator
	workspaces   workspaceManager
	publisher    storage.Publisher
	keyPrefix    string
	suffix       string
	copyFile     func(src, dst string) (int64, error)
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher enables uploading outputs for requests that ask for it.
// Object keys are prefix/<run id>/<output name>.
func WithPublisher(p storage.Publisher, prefix string) Option {
	return func(o *Orchestrator) {
		o.publisher = p
		o.keyPrefix = prefix
	}
}

// WithOutputSuffix sets the suffix used to derive output paths.
func WithOutputSuffix(suffix string) Option {
	return func(o *Orchestrator) {
		if suffix != "" {
			o.suffix = suffix
		}
	}
}

// NewOrchestrator creates an Orchestrator from its stages.
func NewOrchestrator(
	detector silenceDetector,
	prober durationProber,
	extractor segmentExtractor,
	concatenator clipConcatenator,
	workspaces workspaceManager,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		detector:     detector,
		prober:       prober,
		extractor:    extractor,
		concatenator: concatenator,
		workspaces:   workspaces,
		suffix:       DefaultOutputSuffix,
		copyFile:     media.CopyFile,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes req and reports to sink, which may be nil. A Completion event
// is always emitted last. Cancellation returns an error matching ErrCancelled
// and sets Result.Cancelled.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	if sink == nil {
		sink = Discard
	}
	result := Result{RunID: req.RunID}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}

	if err := o.check(req); err != nil {
		o.complete(sink, err)
		return result, err
	}

	inputs := req.BatchInputs
	if !req.IsBatch() {
		inputs = []string{req.InputPath}
	}
	start := time.Now()

	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			err = fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
			o.complete(sink, err)
			return result, err
		}

		output := req.OutputPath
		if req.IsBatch() || output == "" {
			output = DeriveOutputPath(input, o.suffix)
		}
		if req.IsBatch() {
			o.log(sink, fmt.Sprintf("Processing file %d/%d: %s", i+1, len(inputs), filepath.Base(input)))
		}

		rep := reporter{sink: sink, index: i, total: len(inputs)}
		fr, err := o.processFile(ctx, req, input, output, result.RunID, rep)
		if err != nil {
			if isCancellation(err) {
				result.Cancelled = true
				if !errors.Is(err, ErrCancelled) {
					err = fmt.Errorf("%w: %w", ErrCancelled, err)
				}
			}
			o.logger.Error("pipeline stopped",
				slog.String("run_id", result.RunID),
				slog.String("input", input),
				slog.Int("file", i+1),
				slog.Int("files", len(inputs)),
				slog.String("error", err.Error()),
			)
			o.complete(sink, err)
			return result, err
		}
		result.Files = append(result.Files, fr)

		if req.IsBatch() {
			sink.Emit(Progress{
				Percent: (i + 1) * 100 / len(inputs),
				Status:  fmt.Sprintf("Processed %d/%d files", i+1, len(inputs)),
			})
		}
	}

	o.logger.Info("pipeline finished",
		slog.String("run_id", result.RunID),
		slog.Int("files", len(result.Files)),
		slog.Duration("elapsed", time.Since(start)),
	)

	msg := fmt.Sprintf("Processed %s", filepath.Base(inputs[0]))
	if req.IsBatch() {
		msg = fmt.Sprintf("Processed %d files", len(result.Files))
	}
	sink.Emit(Completion{Success: true, Message: msg})
	return result, nil
}

// check validates req against the orchestrator configuration.
func (o *Orchestrator) check(req Request) error {
	if req.BatchInputs != nil && len(req.BatchInputs) == 0 {
		return ErrNoInputs
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Upload && o.publisher == nil {
		return ErrPublisherNotConfigured
	}
	return nil
}

// processFile runs the single-file flow for input.
func (o *Orchestrator) processFile(ctx context.Context, req Request, input, output, runID string, rep reporter) (FileResult, error) {
	start := time.Now()
	fr := FileResult{Input: input, Output: output}
	logger := o.logger.With(slog.String("run_id", runID), slog.String("input", input))

	if err := checkInput(input); err != nil {
		return fr, err
	}
	if samePath(input, output) {
		return fr, fmt.Errorf("%w: output path equals input path", ErrInvalidRequest)
	}

	rep.progress(0, "Analyzing video...")
	total, err := o.prober.Duration(ctx, input)
	if err != nil {
		return fr, fmt.Errorf("probe duration: %w", err)
	}
	fr.TotalDuration = total
	o.log(rep.sink, fmt.Sprintf("Video duration: %.2fs", total))

	rep.progress(10, "Detecting silences...")
	intervals, err := o.detector.Detect(ctx, input, req.SilenceOptions())
	if err != nil {
		return fr, fmt.Errorf("detect silences: %w", err)
	}
	fr.Silences = len(intervals)
	o.log(rep.sink, fmt.Sprintf("Found %d silence periods", len(intervals)))
	for _, iv := range intervals {
		o.log(rep.sink, fmt.Sprintf("  Silence: %.2fs - %.2fs (%.2fs)", iv.Start, iv.End, iv.Duration))
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return fr, fmt.Errorf("create output directory: %w", err)
	}

	if len(intervals) == 0 {
		o.log(rep.sink, "No silences detected, copying original file")
		size, err := o.copyFile(input, output)
		if err != nil {
			return fr, fmt.Errorf("copy input: %w", err)
		}
		fr.Passthrough = true
		fr.KeptDuration = total
		fr.OutputSizeBytes = size
		return o.finish(ctx, req, runID, fr, start, rep, logger)
	}

	segments, err := segment.Plan(intervals, total)
	if err != nil {
		return fr, err
	}
	fr.Segments = len(segments)
	fr.KeptDuration = segment.KeptDuration(segments)
	o.log(rep.sink, fmt.Sprintf("Keeping %d segments (%.2fs of %.2fs)", len(segments), fr.KeptDuration, total))
	for _, seg := range segments {
		o.log(rep.sink, fmt.Sprintf("  Keep: %.2fs - %.2fs", seg.Start, seg.End))
	}

	workspace, err := o.workspaces.CreateWorkspace(ctx)
	if err != nil {
		return fr, fmt.Errorf("create workspace: %w", err)
	}
	defer o.cleanup(ctx, workspace, rep.sink, logger)

	rep.progress(50, "Removing silences...")
	clips := make([]string, 0, len(segments))
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return fr, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
		o.log(rep.sink, fmt.Sprintf("Extracting segment %d/%d: %.2fs - %.2fs", i+1, len(segments), seg.Start, seg.End))
		clip, err := o.extractor.Extract(ctx, input, workspace, i, len(segments), seg)
		if err != nil {
			return fr, err
		}
		clips = append(clips, clip)
		o.log(rep.sink, fmt.Sprintf("Extracted segment %d/%d (%d KB)", i+1, len(segments), media.FileSize(clip)/1024))
		rep.progress(50+40*(i+1)/len(segments), fmt.Sprintf("Extracted segment %d/%d", i+1, len(segments)))
	}

	rep.progress(90, "Concatenating segments...")
	size, err := o.concatenator.Concat(ctx, workspace, clips, output)
	if err != nil {
		return fr, err
	}
	fr.OutputSizeBytes = size
	return o.finish(ctx, req, runID, fr, start, rep, logger)
}

// finish publishes the output when requested and reports the file as done.
func (o *Orchestrator) finish(ctx context.Context, req Request, runID string, fr FileResult, start time.Time, rep reporter, logger *slog.Logger) (FileResult, error) {
	o.log(rep.sink, fmt.Sprintf("Output: %s (%.2f MB)", fr.Output, float64(fr.OutputSizeBytes)/(1024*1024)))

	if req.Upload {
		rep.progress(95, "Uploading output...")
		url, err := o.publisher.Publish(ctx, fr.Output, storage.ObjectKey(o.keyPrefix, runID, fr.Output))
		if err != nil {
			return fr, fmt.Errorf("publish output: %w", err)
		}
		fr.URL = url
		o.log(rep.sink, "Uploaded to "+url)
	}

	fr.Elapsed = time.Since(start)
	logger.Info("file processed",
		slog.String("output", fr.Output),
		slog.Int("silences", fr.Silences),
		slog.Int("segments", fr.Segments),
		slog.Bool("passthrough", fr.Passthrough),
		slog.Int64("size_bytes", fr.OutputSizeBytes),
		slog.Duration("elapsed", fr.Elapsed),
	)
	rep.progress(100, "Done")
	return fr, nil
}

// cleanup removes the workspace. A failure is reported as a warning only.
func (o *Orchestrator) cleanup(ctx context.Context, workspace string, sink Sink, logger *slog.Logger) {
	if err := o.workspaces.RemoveWorkspace(context.WithoutCancel(ctx), workspace); err != nil {
		logger.Warn("failed to remove workspace",
			slog.String("workspace", workspace),
			slog.String("error", err.Error()),
		)
		o.log(sink, "Warning: could not remove temporary files in "+workspace)
	}
}

func (o *Orchestrator) log(sink Sink, msg string) {
	sink.Emit(LogLine{Message: msg, Time: time.Now()})
}

// complete emits the terminal event for a failed or cancelled run.
func (o *Orchestrator) complete(sink Sink, err error) {
	if errors.Is(err, ErrCancelled) {
		sink.Emit(Completion{Cancelled: true, Message: "Processing cancelled"})
		return
	}
	sink.Emit(Completion{Message: err.Error(), Diagnostics: Diagnostics(err)})
}

// checkInput fails with ErrInputNotFound unless path is an existing file.
func checkInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return fmt.Errorf("stat input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, runner.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}

// Diagnostics returns the captured tool output carried by err, if any.
func Diagnostics(err error) string {
	var (
		segErr      *media.SegmentError
		concatErr   *media.ConcatError
		analysisErr *silence.AnalysisError
	)
	switch {
	case errors.As(err, &segErr):
		return segErr.Diagnostics
	case errors.As(err, &concatErr):
		return concatErr.Diagnostics
	case errors.As(err, &analysisErr):
		return analysisErr.Diagnostics
	}
	return ""
}

// reporter scales per-file progress into the share of file index in a batch.
type reporter struct {
	sink  Sink
	index int
	total int
}

func (r reporter) progress(percent int, status string) {
	r.sink.Emit(Progress{
		Percent: (r.index*100 + percent) / r.total,
		Status:  status,
	})
}
