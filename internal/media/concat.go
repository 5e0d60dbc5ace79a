package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/trimflow/internal/runner"
)

// Concatenation defaults.
const (
	// DefaultConcatTimeout bounds the join invocation.
	DefaultConcatTimeout = 60 * time.Second
	// ManifestName is the concat demuxer list written into the workspace.
	ManifestName = "concat.txt"
)

// Concatenator joins clips with the concat demuxer and stream copy.
type Concatenator struct {
	ffmpegPath string
	runner     commandRunner
	timeout    time.Duration
	logger     *slog.Logger
}

// ConcatenatorOption configures a Concatenator.
type ConcatenatorOption func(*Concatenator)

// WithConcatTimeout overrides DefaultConcatTimeout.
func WithConcatTimeout(d time.Duration) ConcatenatorOption {
	return func(c *Concatenator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewConcatenator creates a Concatenator.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewConcatenator(ffmpegPath string, r commandRunner, logger *slog.Logger, opts ...ConcatenatorOption) *Concatenator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Concatenator{
		ffmpegPath: ffmpegPath,
		runner:     r,
		timeout:    DefaultConcatTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Manifest renders the concat list for clips, one "file" line per clip in
// the order given. Entries are base names, resolved by ffmpeg relative to
// the manifest's directory.
func Manifest(clips []string) []byte {
	var b bytes.Buffer
	for _, clip := range clips {
		// Escape single quotes the way the concat demuxer expects.
		name := strings.ReplaceAll(filepath.Base(clip), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", name)
	}
	return b.Bytes()
}

// WriteManifest writes Manifest(clips) into workspace and returns its path.
func WriteManifest(workspace string, clips []string) (string, error) {
	path := filepath.Join(workspace, ManifestName)
	if err := os.WriteFile(path, Manifest(clips), 0o600); err != nil {
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	return path, nil
}

// Args builds the concatenation argument vector for a manifest in the
// working directory.
func (c *Concatenator) Args(outputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", ManifestName,
		"-c", "copy",
		outputPath,
	}
}

// Concat joins clips, which must all live in workspace, into outputPath in
// exactly the order given. The order is never re-derived from a directory
// listing. It returns the size of the written output.
func (c *Concatenator) Concat(ctx context.Context, workspace string, clips []string, outputPath string) (int64, error) {
	if len(clips) == 0 {
		return 0, ErrNoClips
	}
	for _, clip := range clips {
		if filepath.Dir(clip) != filepath.Clean(workspace) {
			return 0, fmt.Errorf("clip %s is outside workspace %s", clip, workspace)
		}
	}

	if _, err := WriteManifest(workspace, clips); err != nil {
		return 0, err
	}

	// The process runs inside the workspace, so the output must be absolute.
	absOutput, err := filepath.Abs(outputPath)
	if err != nil {
		return 0, fmt.Errorf("resolve output path: %w", err)
	}

	cmd := runner.Command{
		Path:    c.ffmpegPath,
		Args:    c.Args(absOutput),
		Dir:     workspace,
		Timeout: c.timeout,
	}
	c.logger.Debug("concatenating segments",
		slog.Int("clips", len(clips)),
		slog.String("command", cmd.String()),
	)

	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrTimedOut):
			return 0, &ConcatError{ExitCode: res.ExitCode, Diagnostics: res.Diagnostics(), Kind: ErrConcatenationTimedOut, Cause: err}
		case errors.Is(err, runner.ErrCancelled):
			return 0, fmt.Errorf("concatenation: %w", err)
		default:
			return 0, &ConcatError{ExitCode: res.ExitCode, Diagnostics: res.Diagnostics(), Kind: ErrConcatenationFailed, Cause: err}
		}
	}
	if res.ExitCode != 0 {
		return 0, &ConcatError{ExitCode: res.ExitCode, Diagnostics: res.Diagnostics(), Kind: ErrConcatenationFailed}
	}

	size, err := verifyOutput(absOutput)
	if err != nil {
		return 0, &ConcatError{Diagnostics: res.Diagnostics(), Kind: ErrOutputVerificationFailed, Cause: err}
	}
	return size, nil
}
