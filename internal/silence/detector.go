// Package silence finds silent stretches in a media file using the
// silencedetect audio filter of ffmpeg.
package silence

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/trimflow/internal/runner"
)

// Markers written by silencedetect on the diagnostic stream.
const (
	startMarker = "silence_start:"
	endMarker   = "silence_end:"
)

// Static errors for silence detection.
var (
	// ErrAnalysisFailed is returned when the analysis invocation exits non-zero.
	ErrAnalysisFailed = errors.New("silence analysis failed")
	// ErrInvalidOptions is returned for a non-positive minimum duration.
	ErrInvalidOptions = errors.New("invalid silence options")
)

// Interval is a detected silent span in seconds. Duration is End-Start.
type Interval struct {
	Start    float64
	End      float64
	Duration float64
}

// Options configures the silencedetect filter.
type Options struct {
	// ThresholdDB is the level in dB below which audio counts as silence.
	ThresholdDB float64
	// MinDuration is the shortest silence, in seconds, that gets reported.
	MinDuration float64
}

// DefaultOptions returns the default detection settings.
func DefaultOptions() Options {
	return Options{
		ThresholdDB: -30,
		MinDuration: 0.5,
	}
}

// Filter renders the silencedetect filter expression. Numbers always use a
// decimal point regardless of locale.
func (o Options) Filter() string {
	return fmt.Sprintf("silencedetect=noise=%sdB:d=%s", formatFloat(o.ThresholdDB), formatFloat(o.MinDuration))
}

// commandRunner is the subset of runner.Runner used here.
type commandRunner interface {
	Run(ctx context.Context, cmd runner.Command) (runner.Result, error)
}

// Detector runs the analysis pass and parses its report.
type Detector struct {
	ffmpegPath string
	runner     commandRunner
	timeout    time.Duration
	logger     *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithTimeout bounds the analysis invocation. Zero leaves it unbounded.
func WithTimeout(d time.Duration) DetectorOption {
	return func(det *Detector) { det.timeout = d }
}

// NewDetector creates a Detector. If ffmpegPath is empty, it defaults to
// "ffmpeg" (found in PATH).
func NewDetector(ffmpegPath string, r commandRunner, logger *slog.Logger, opts ...DetectorOption) *Detector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		ffmpegPath: ffmpegPath,
		runner:     r,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Args builds the analysis argument vector: decode audio only, apply the
// filter and discard media output.
func Args(inputPath string, opts Options) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-nostats",
		"-i", inputPath,
		"-vn", "-sn", "-dn",
		"-af", opts.Filter(),
		"-f", "null",
		"-",
	}
}

// Detect runs the analysis over inputPath and returns the silence intervals in
// the order ffmpeg reported them.
func (d *Detector) Detect(ctx context.Context, inputPath string, opts Options) ([]Interval, error) {
	if opts.MinDuration <= 0 {
		return nil, fmt.Errorf("%w: minimum duration %s", ErrInvalidOptions, formatFloat(opts.MinDuration))
	}

	cmd := runner.Command{
		Path:    d.ffmpegPath,
		Args:    Args(inputPath, opts),
		Timeout: d.timeout,
	}
	d.logger.Debug("running silence analysis", slog.String("command", cmd.String()))

	res, err := d.runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("silence analysis: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, &AnalysisError{ExitCode: res.ExitCode, Diagnostics: res.Diagnostics()}
	}

	// silencedetect writes its report to stderr.
	intervals := ParseReport(res.Stderr)
	d.logger.Debug("silence analysis finished",
		slog.Int("intervals", len(intervals)),
		slog.Int("report_bytes", len(res.Stderr)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return intervals, nil
}

// AnalysisError reports a failed analysis invocation.
type AnalysisError struct {
	ExitCode    int
	Diagnostics string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%v: exit code %d", ErrAnalysisFailed, e.ExitCode)
}

func (e *AnalysisError) Unwrap() error { return ErrAnalysisFailed }

// ParseReport parses a silencedetect report.
func ParseReport(report string) []Interval {
	return Parse(strings.Lines(report))
}

// Parse folds report lines into intervals.
//
// Only the most recent unmatched silence_start is tracked. A silence_end with
// no open start is ignored, and lines whose timestamp does not parse add
// nothing. A start still open when the lines run out is dropped, so silence
// that runs to the end of the file is not reported.
func Parse(lines iter.Seq[string]) []Interval {
	var (
		intervals []Interval
		open      float64
		hasOpen   bool
	)
	for line := range lines {
		switch {
		case strings.Contains(line, startMarker):
			if v, ok := timestampAfter(line, startMarker); ok {
				open, hasOpen = v, true
			}
		case strings.Contains(line, endMarker) && hasOpen:
			if v, ok := timestampAfter(line, endMarker); ok {
				intervals = append(intervals, Interval{Start: open, End: v, Duration: v - open})
				hasOpen = false
			}
		}
	}
	return intervals
}

// timestampAfter parses the first token following marker in line.
func timestampAfter(line, marker string) (float64, bool) {
	_, rest, ok := strings.Cut(line, marker)
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
