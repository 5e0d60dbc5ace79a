// Package job provides the Job aggregate for silence removal runs submitted
// to the server, with a state machine, progress and a tail of log lines, as
// well as repository interfaces for persistence.
package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maauso/trimflow/internal/job/id"
	"github.com/maauso/trimflow/internal/pipeline"
)

// MaxLogLines is how many recent log lines a job keeps.
const MaxLogLines = 100

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for the worker.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is processing the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every input was processed.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the pipeline stopped on an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled before it finished.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrUnknownStatus is returned by ParseStatus for an unrecognized name.
var ErrUnknownStatus = errors.New("unknown job status")

// ParseStatus converts a status name, in any case, to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Output describes one produced file.
type Output struct {
	Input       string
	Path        string
	URL         string
	Silences    int
	Segments    int
	Passthrough bool
	SizeBytes   int64
}

// Job represents a silence removal run submitted to the service.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Request is what the pipeline is asked to do.
	Request pipeline.Request
	// Progress is the percentage of completion (0-100).
	Progress int
	// StatusText describes the current step.
	StatusText string
	// Logs holds the most recent pipeline log lines.
	Logs []string
	// Outputs lists the produced files once the job completed.
	Outputs []Output
	// Error contains any error message if the job failed.
	Error string
	// Diagnostics holds captured tool output for process failures.
	Diagnostics string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job for req with a generated ID and IN_QUEUE status.
func New(req pipeline.Request) *Job {
	return NewWithID(id.Generate(), req)
}

// NewWithID creates a new Job with the specified ID and IN_QUEUE status.
func NewWithID(jobID string, req pipeline.Request) *Job {
	now := time.Now()
	req.RunID = jobID
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Request:   req,
		Logs:      make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete records the outputs and transitions the job to COMPLETED.
func (j *Job) Complete(outputs []Output) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Outputs = outputs
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED with an error message and diagnostics.
func (j *Job) Fail(errMsg, diagnostics string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.Diagnostics = diagnostics
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100) and status text.
func (j *Job) UpdateProgress(progress int, text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.StatusText = text
	j.UpdatedAt = time.Now()
}

// AppendLog adds a log line, keeping at most MaxLogLines.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Logs = append(j.Logs, line)
	if over := len(j.Logs) - MaxLogLines; over > 0 {
		j.Logs = slices.Delete(j.Logs, 0, over)
	}
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	req := j.Request
	req.BatchInputs = slices.Clone(j.Request.BatchInputs)

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Request:     req,
		Progress:    j.Progress,
		StatusText:  j.StatusText,
		Logs:        slices.Clone(j.Logs),
		Outputs:     slices.Clone(j.Outputs),
		Error:       j.Error,
		Diagnostics: j.Diagnostics,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
