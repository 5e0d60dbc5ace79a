package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/trimflow/internal/job"
	"github.com/maauso/trimflow/internal/job/id"
	"github.com/maauso/trimflow/internal/pipeline"
	"github.com/maauso/trimflow/internal/silence"
	"github.com/maauso/trimflow/internal/storage"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	validator *validator.Validate
	logger    *slog.Logger
	defaults  silence.Options
	mediaRoot string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithDefaults sets the detection settings used when a request omits them.
func WithDefaults(opts silence.Options) HandlerOption {
	return func(h *Handlers) {
		h.defaults = opts
	}
}

// WithMediaRoot confines request paths to root. Relative paths are resolved
// against it. Without a media root every job submission is rejected.
func WithMediaRoot(root string) HandlerOption {
	return func(h *Handlers) {
		h.mediaRoot = root
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		defaults:  silence.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if err := h.confinePaths(&req); err != nil {
		h.logger.Warn("request path rejected",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.Submit(r.Context(), h.toPipelineRequest(req))
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		case errors.Is(err, job.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "job queue is full", "QUEUE_FULL")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// ListJobs handles GET /jobs requests. The optional status query parameter
// takes a comma-separated list of statuses to filter by.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for name := range strings.SplitSeq(raw, ",") {
			st, err := job.ParseStatus(name)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), "INVALID_STATUS")
				return
			}
			statuses = append(statuses, st)
		}
	}

	jobs, err := h.service.List(r.Context(), statuses...)
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrJobFinished):
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(cancelled))
}

// confinePaths rewrites every path in req to an absolute path under the media
// root, failing for any path that would leave it.
func (h *Handlers) confinePaths(req *CreateJobRequest) error {
	resolve := func(p *string) error {
		if *p == "" {
			return nil
		}
		resolved, err := storage.ResolveUnder(h.mediaRoot, *p)
		if err != nil {
			return err
		}
		*p = resolved
		return nil
	}

	if err := resolve(&req.InputPath); err != nil {
		return err
	}
	if err := resolve(&req.OutputPath); err != nil {
		return err
	}
	for i := range req.BatchInputs {
		if err := resolve(&req.BatchInputs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) toPipelineRequest(req CreateJobRequest) pipeline.Request {
	out := pipeline.Request{
		InputPath:          req.InputPath,
		OutputPath:         req.OutputPath,
		BatchInputs:        req.BatchInputs,
		ThresholdDB:        h.defaults.ThresholdDB,
		MinSilenceDuration: h.defaults.MinDuration,
		Upload:             req.Upload,
	}
	if req.ThresholdDB != nil {
		out.ThresholdDB = *req.ThresholdDB
	}
	if req.MinSilenceDuration != nil {
		out.MinSilenceDuration = *req.MinSilenceDuration
	}
	return out
}

// pathJobID reads and checks the {id} path value, writing an error response
// when it is missing or malformed.
func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job ID", "INVALID_JOB_ID")
		return "", false
	}
	return jobID, true
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		Progress:    j.Progress,
		StatusText:  j.StatusText,
		Logs:        j.Logs,
		Error:       j.Error,
		Diagnostics: j.Diagnostics,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	for _, o := range j.Outputs {
		resp.Outputs = append(resp.Outputs, OutputResponse{
			Input:       o.Input,
			Path:        o.Path,
			URL:         o.URL,
			Silences:    o.Silences,
			Segments:    o.Segments,
			Passthrough: o.Passthrough,
			SizeBytes:   o.SizeBytes,
		})
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
