package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/trimflow/internal/runner"
)

// DefaultProbeTimeout bounds a duration probe.
const DefaultProbeTimeout = 30 * time.Second

// Prober reads container metadata with ffprobe.
type Prober struct {
	ffprobePath string
	runner      commandRunner
	timeout     time.Duration
}

// NewProber creates a Prober.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewProber(ffprobePath string, r commandRunner) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, runner: r, timeout: DefaultProbeTimeout}
}

// Duration returns the duration in seconds of a media file.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	res, err := p.runner.Run(ctx, runner.Command{
		Path: p.ffprobePath,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
		Timeout: p.timeout,
	})
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("%w: exit code %d, stderr: %s", ErrFFprobeExecution, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	s := strings.TrimSpace(res.Stdout)
	duration, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return duration, nil
}
