package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores jobs between the HTTP handlers and the worker.
type Repository interface {
	// Save inserts or replaces job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns the job with the given ID, or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns the jobs in any of statuses, oldest first. No statuses
	// means every job.
	List(ctx context.Context, statuses ...Status) ([]*Job, error)

	// Delete removes a job, or returns ErrJobNotFound.
	Delete(ctx context.Context, id string) error
}
