package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a notification emitted while a run is in progress. It is one of
// Progress, LogLine or Completion.
type Event interface {
	isEvent()
}

// Progress reports overall completion of the run.
type Progress struct {
	// Percent is in [0, 100].
	Percent int
	Status  string
}

// LogLine is a human-readable line describing a step of the run.
type LogLine struct {
	Message string
	Time    time.Time
}

// Completion is the last event of every run.
type Completion struct {
	Success   bool
	Cancelled bool
	Message   string
	// Diagnostics holds the captured tool output for process failures.
	Diagnostics string
}

func (Progress) isEvent()   {}
func (LogLine) isEvent()    {}
func (Completion) isEvent() {}

// Sink receives events. Emit must not block the caller.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// ChannelSink forwards events to a buffered channel. Events are dropped when
// the buffer is full.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
}

// Compile-time check that ChannelSink implements Sink.
var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, max(buffer, 1))}
}

// Emit queues e without blocking.
func (s *ChannelSink) Emit(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events did not fit in the buffer.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close closes the channel. Later events are discarded.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
