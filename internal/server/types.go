// Package server provides the HTTP API for submitting and tracking silence
// removal jobs. DTOs are kept separate from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a new job.
// Paths refer to the server's filesystem.
type CreateJobRequest struct {
	// InputPath is the video to process. Required unless BatchInputs is set.
	InputPath string `json:"input_path" validate:"required_without=BatchInputs"`
	// OutputPath is where the result is written. Defaults to <stem>_trimmed<ext>.
	OutputPath string `json:"output_path,omitempty"`
	// BatchInputs lists videos processed one after another.
	BatchInputs []string `json:"batch_inputs,omitempty" validate:"omitempty,dive,required"`
	// ThresholdDB is the silence level in dB. Defaults to the server setting.
	ThresholdDB *float64 `json:"threshold_db,omitempty" validate:"omitempty,gte=-120,lte=0"`
	// MinSilenceDuration is the shortest silence removed, in seconds.
	MinSilenceDuration *float64 `json:"min_silence_duration,omitempty" validate:"omitempty,gt=0"`
	// Upload publishes the outputs to S3.
	Upload bool `json:"upload"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// OutputResponse describes one produced file.
type OutputResponse struct {
	Input       string `json:"input"`
	Path        string `json:"path"`
	URL         string `json:"url,omitempty"`
	Silences    int    `json:"silences"`
	Segments    int    `json:"segments"`
	Passthrough bool   `json:"passthrough"`
	SizeBytes   int64  `json:"size_bytes"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// StatusText describes the current step.
	StatusText string `json:"status_text,omitempty"`
	// Logs holds recent pipeline log lines.
	Logs []string `json:"logs,omitempty"`
	// Outputs lists produced files once the job completed.
	Outputs []OutputResponse `json:"outputs,omitempty"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// Diagnostics holds captured tool output for process failures.
	Diagnostics string    `json:"diagnostics,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
