// Package segment turns detected silences into the spans of media to keep.
package segment

import (
	"cmp"
	"errors"
	"slices"

	"github.com/maauso/trimflow/internal/silence"
)

// Minimum lengths, in seconds, below which a keep span is dropped.
const (
	// MinGap applies to content between two silences, or before the first.
	MinGap = 0.1
	// MinTrailing applies to content after the last silence.
	MinTrailing = 0.5
)

// ErrEmptyKeepSegments is returned when nothing remains after planning.
var ErrEmptyKeepSegments = errors.New("no segments to keep after removing silences")

// KeepSegment is a span of the input, in seconds, that survives trimming.
type KeepSegment struct {
	Start float64
	End   float64
}

// Duration returns End-Start.
func (s KeepSegment) Duration() float64 {
	return s.End - s.Start
}

// Plan returns the complement of intervals within [0, total] as ordered keep
// segments.
//
// Intervals are sorted by start first; the input slice is not modified. The
// cursor only moves forward, to the latest silence end seen, so overlapping,
// adjacent or nested intervals never reopen content. Gaps of MinGap or less and a trailing
// remainder of MinTrailing or less are dropped.
func Plan(intervals []silence.Interval, total float64) ([]KeepSegment, error) {
	sorted := slices.Clone(intervals)
	slices.SortStableFunc(sorted, func(a, b silence.Interval) int {
		return cmp.Compare(a.Start, b.Start)
	})

	var segments []KeepSegment
	cursor := 0.0
	for _, iv := range sorted {
		if iv.Start-cursor > MinGap {
			segments = append(segments, KeepSegment{Start: cursor, End: iv.Start})
		}
		cursor = max(cursor, iv.End)
	}
	if total-cursor > MinTrailing {
		segments = append(segments, KeepSegment{Start: cursor, End: total})
	}

	if len(segments) == 0 {
		return nil, ErrEmptyKeepSegments
	}
	return segments, nil
}

// KeptDuration sums the length of all segments.
func KeptDuration(segments []KeepSegment) float64 {
	var total float64
	for _, s := range segments {
		total += s.Duration()
	}
	return total
}
