package media

import (
	"errors"
	"fmt"
)

// Static errors for media operations.
var (
	// ErrSegmentExtractionFailed is returned when ffmpeg exits non-zero while cutting a clip.
	ErrSegmentExtractionFailed = errors.New("segment extraction failed")
	// ErrSegmentExtractionTimedOut is returned when a clip is not cut within the extraction timeout.
	ErrSegmentExtractionTimedOut = errors.New("segment extraction timed out")
	// ErrConcatenationFailed is returned when ffmpeg exits non-zero while joining clips.
	ErrConcatenationFailed = errors.New("concatenation failed")
	// ErrConcatenationTimedOut is returned when joining does not finish within the concat timeout.
	ErrConcatenationTimedOut = errors.New("concatenation timed out")
	// ErrOutputVerificationFailed is returned when an expected file is missing or empty.
	ErrOutputVerificationFailed = errors.New("output verification failed")
	// ErrNoClips is returned when Concat is called without clips.
	ErrNoClips = errors.New("no clips provided")
	// ErrToolNotFound is returned when ffmpeg or ffprobe cannot be resolved.
	ErrToolNotFound = errors.New("media tool not found")
	// ErrFFprobeExecution is returned when ffprobe fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrSameFile is returned when a copy would overwrite its own source.
	ErrSameFile = errors.New("source and destination are the same file")
)

// SegmentError describes a failure on one clip. Index is zero-based.
type SegmentError struct {
	Index       int
	Total       int
	ExitCode    int
	Diagnostics string
	// Kind is one of ErrSegmentExtractionFailed, ErrSegmentExtractionTimedOut
	// or ErrOutputVerificationFailed.
	Kind  error
	Cause error
}

func (e *SegmentError) Error() string {
	msg := fmt.Sprintf("segment %d/%d: %v", e.Index+1, e.Total, e.Kind)
	if errors.Is(e.Kind, ErrSegmentExtractionFailed) {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *SegmentError) Unwrap() []error {
	return nonNil(e.Kind, e.Cause)
}

// ConcatError describes a failure while joining clips.
type ConcatError struct {
	ExitCode    int
	Diagnostics string
	// Kind is one of ErrConcatenationFailed, ErrConcatenationTimedOut or
	// ErrOutputVerificationFailed.
	Kind  error
	Cause error
}

func (e *ConcatError) Error() string {
	msg := e.Kind.Error()
	if errors.Is(e.Kind, ErrConcatenationFailed) {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *ConcatError) Unwrap() []error {
	return nonNil(e.Kind, e.Cause)
}

func nonNil(errs ...error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
