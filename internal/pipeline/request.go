package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/trimflow/internal/silence"
)

// DefaultOutputSuffix is appended to the input stem to name batch outputs.
const DefaultOutputSuffix = "_trimmed"

// ErrInvalidRequest is returned when a Request fails validation.
var ErrInvalidRequest = errors.New("invalid request")

var validate = validator.New()

// Request describes one pipeline run. When BatchInputs is set, InputPath and
// OutputPath are ignored and one output is derived per input.
type Request struct {
	// InputPath is the video to process.
	InputPath string `validate:"required_without=BatchInputs"`
	// OutputPath is where the result is written. Empty means the derived path.
	OutputPath string
	// ThresholdDB is the silence level in dB.
	ThresholdDB float64 `validate:"gte=-120,lte=0"`
	// MinSilenceDuration is the shortest silence removed, in seconds.
	MinSilenceDuration float64 `validate:"gt=0"`
	// BatchInputs lists inputs processed one after another.
	BatchInputs []string `validate:"omitempty,dive,required"`
	// Upload publishes each output when a publisher is configured.
	Upload bool
	// RunID names the run in published object keys. Generated when empty.
	RunID string
}

// NewRequest returns a single-file request with default detection settings.
func NewRequest(inputPath string) Request {
	d := silence.DefaultOptions()
	return Request{
		InputPath:          inputPath,
		ThresholdDB:        d.ThresholdDB,
		MinSilenceDuration: d.MinDuration,
	}
}

// IsBatch reports whether the request names more than a single input.
func (r Request) IsBatch() bool {
	return len(r.BatchInputs) > 0
}

// Validate checks field ranges and that no output would overwrite its input.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !r.IsBatch() && r.OutputPath != "" && samePath(r.InputPath, r.OutputPath) {
		return fmt.Errorf("%w: output path equals input path", ErrInvalidRequest)
	}
	return nil
}

// SilenceOptions returns the detection settings of the request.
func (r Request) SilenceOptions() silence.Options {
	return silence.Options{ThresholdDB: r.ThresholdDB, MinDuration: r.MinSilenceDuration}
}

// DeriveOutputPath appends suffix to the file stem of inputPath, keeping the
// directory and extension: talk.mp4 becomes talk_trimmed.mp4.
func DeriveOutputPath(inputPath, suffix string) string {
	if suffix == "" {
		suffix = DefaultOutputSuffix
	}
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + suffix + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
