// Package media cuts and joins media files by driving the ffmpeg CLI.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/maauso/trimflow/internal/runner"
	"github.com/maauso/trimflow/internal/segment"
)

// DefaultExtractTimeout bounds a single clip extraction. It is not derived
// from the clip length.
const DefaultExtractTimeout = 30 * time.Second

// commandRunner is the subset of runner.Runner used here.
type commandRunner interface {
	Run(ctx context.Context, cmd runner.Command) (runner.Result, error)
}

// EncodeOptions controls how extracted clips are encoded.
type EncodeOptions struct {
	// Preset is the libx264 speed preset.
	Preset string
	// CRF is the libx264 constant rate factor.
	CRF int
	// AudioBitrate is passed to the aac encoder, e.g. "192k".
	AudioBitrate string
}

// DefaultEncodeOptions returns the fast preset used for clip extraction.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Preset:       "ultrafast",
		CRF:          23,
		AudioBitrate: "192k",
	}
}

// Extractor cuts keep segments out of an input file into a workspace.
type Extractor struct {
	ffmpegPath string
	runner     commandRunner
	timeout    time.Duration
	encode     EncodeOptions
	logger     *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithExtractTimeout overrides DefaultExtractTimeout.
func WithExtractTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithEncodeOptions overrides DefaultEncodeOptions. Empty fields keep their default.
func WithEncodeOptions(o EncodeOptions) ExtractorOption {
	return func(e *Extractor) {
		if o.Preset != "" {
			e.encode.Preset = o.Preset
		}
		if o.CRF > 0 {
			e.encode.CRF = o.CRF
		}
		if o.AudioBitrate != "" {
			e.encode.AudioBitrate = o.AudioBitrate
		}
	}
}

// NewExtractor creates an Extractor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewExtractor(ffmpegPath string, r commandRunner, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		ffmpegPath: ffmpegPath,
		runner:     r,
		timeout:    DefaultExtractTimeout,
		encode:     DefaultEncodeOptions(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClipName returns the file name of clip index out of total. The index is
// zero-padded to at least three digits, wider when total needs it, so names
// sort in extraction order.
func ClipName(index, total int) string {
	width := max(3, len(strconv.Itoa(max(total-1, 0))))
	return fmt.Sprintf("segment_%0*d.mp4", width, index)
}

// Args builds the extraction argument vector.
//
// -ss is placed before -i so ffmpeg seeks the input instead of decoding up to
// the start point. That is much faster per clip at the cost of a small
// accuracy risk around the first keyframe.
func (e *Extractor) Args(inputPath, outputPath string, seg segment.KeepSegment) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(seg.Start),
		"-i", inputPath,
		"-t", formatSeconds(seg.Duration()),
		"-c:v", "libx264",
		"-preset", e.encode.Preset,
		"-crf", strconv.Itoa(e.encode.CRF),
		"-c:a", "aac",
		"-b:a", e.encode.AudioBitrate,
		"-avoid_negative_ts", "make_zero",
		outputPath,
	}
}

// Extract cuts seg, clip index out of total, into workspace and returns the
// clip path. Every failure is returned as a *SegmentError.
func (e *Extractor) Extract(ctx context.Context, inputPath, workspace string, index, total int, seg segment.KeepSegment) (string, error) {
	clipPath := filepath.Join(workspace, ClipName(index, total))
	cmd := runner.Command{
		Path:    e.ffmpegPath,
		Args:    e.Args(inputPath, clipPath, seg),
		Timeout: e.timeout,
	}

	e.logger.Debug("extracting segment",
		slog.Int("index", index),
		slog.Float64("start", seg.Start),
		slog.Float64("end", seg.End),
		slog.String("command", cmd.String()),
	)

	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		segErr := &SegmentError{Index: index, Total: total, ExitCode: res.ExitCode, Diagnostics: res.Diagnostics(), Cause: err}
		switch {
		case errors.Is(err, runner.ErrTimedOut):
			segErr.Kind = ErrSegmentExtractionTimedOut
		case errors.Is(err, runner.ErrCancelled):
			// Cancellation is not an extraction failure; let it through as is.
			return "", fmt.Errorf("segment %d/%d: %w", index+1, total, err)
		default:
			segErr.Kind = ErrSegmentExtractionFailed
		}
		return "", segErr
	}
	if res.ExitCode != 0 {
		return "", &SegmentError{
			Index:       index,
			Total:       total,
			ExitCode:    res.ExitCode,
			Diagnostics: res.Diagnostics(),
			Kind:        ErrSegmentExtractionFailed,
		}
	}

	// A zero exit code alone does not prove the clip was written.
	if _, err := verifyOutput(clipPath); err != nil {
		return "", &SegmentError{
			Index:       index,
			Total:       total,
			Diagnostics: res.Diagnostics(),
			Kind:        ErrOutputVerificationFailed,
			Cause:       err,
		}
	}

	return clipPath, nil
}

// verifyOutput checks that path exists and is not empty, returning its size.
func verifyOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return info.Size(), nil
}

// FileSize returns the size of path, or 0 if it cannot be read.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// formatSeconds renders seconds with millisecond precision and a decimal point.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
