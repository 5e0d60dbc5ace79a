package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/trimflow/internal/job"
	"github.com/maauso/trimflow/internal/pipeline"
	"github.com/maauso/trimflow/internal/silence"
)

// mockPipeline implements the pipeline runner used by job.Service.
type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Run(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (pipeline.Result, error) {
	args := m.Called(ctx, req, sink)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T, opts ...job.ServiceOption) (*Handlers, *job.Service, *mockPipeline, job.Repository) {
	t.Helper()
	repo := job.NewMemoryRepository()
	p := &mockPipeline{}
	svc := job.NewService(repo, p, testLogger(), opts...)
	h := NewHandlers(svc, testLogger(),
		WithDefaults(silence.Options{ThresholdDB: -40, MinDuration: 1}),
		WithMediaRoot(testMediaRoot),
	)
	return h, svc, p, repo
}

const testMediaRoot = "/videos"

func postJob(t *testing.T, h *Handlers, body any) *httptest.ResponseRecorder {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)
	return rec
}

func ptr[T any](v T) *T { return &v }

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateJob_Success(t *testing.T) {
	h, svc, _, _ := newTestHandlers(t)

	rec := postJob(t, h, CreateJobRequest{InputPath: "/videos/talk.mp4"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)

	stored, err := svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "/videos/talk.mp4", stored.Request.InputPath)
	assert.Equal(t, -40.0, stored.Request.ThresholdDB)
	assert.Equal(t, 1.0, stored.Request.MinSilenceDuration)
	assert.Equal(t, resp.ID, stored.Request.RunID)
}

func TestCreateJob_OverridesDefaults(t *testing.T) {
	h, svc, _, _ := newTestHandlers(t, job.WithUploads(true))

	rec := postJob(t, h, CreateJobRequest{
		BatchInputs:        []string{"/videos/a.mp4", "/videos/b.mp4"},
		ThresholdDB:        ptr(0.0),
		MinSilenceDuration: ptr(0.25),
		Upload:             true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	stored, err := svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/videos/a.mp4", "/videos/b.mp4"}, stored.Request.BatchInputs)
	assert.Equal(t, 0.0, stored.Request.ThresholdDB)
	assert.Equal(t, 0.25, stored.Request.MinSilenceDuration)
	assert.True(t, stored.Request.Upload)
}

func TestCreateJob_ResolvesRelativePaths(t *testing.T) {
	h, svc, _, _ := newTestHandlers(t)

	rec := postJob(t, h, CreateJobRequest{InputPath: "in/talk.mp4", OutputPath: "out/talk.mp4"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	stored, err := svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "/videos/in/talk.mp4", stored.Request.InputPath)
	assert.Equal(t, "/videos/out/talk.mp4", stored.Request.OutputPath)
}

func TestCreateJob_RejectsPathsOutsideMediaRoot(t *testing.T) {
	tests := []struct {
		name string
		body CreateJobRequest
	}{
		{"absolute output elsewhere", CreateJobRequest{InputPath: "/videos/in.mp4", OutputPath: "/home/u/.profile"}},
		{"absolute input elsewhere", CreateJobRequest{InputPath: "/etc/passwd"}},
		{"traversal in output", CreateJobRequest{InputPath: "in.mp4", OutputPath: "../home/u/.profile"}},
		{"traversal in input", CreateJobRequest{InputPath: "clips/../../etc/in.mp4"}},
		{"traversal in batch", CreateJobRequest{BatchInputs: []string{"a.mp4", "../b.mp4"}}},
		{"sibling directory", CreateJobRequest{InputPath: "/videos_other/in.mp4"}},
		{"media root itself", CreateJobRequest{InputPath: "/videos"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, _, _ := newTestHandlers(t)

			rec := postJob(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)

			jobs, _ := svc.List(context.Background())
			assert.Empty(t, jobs)
		})
	}
}

func TestCreateJob_RequiresMediaRoot(t *testing.T) {
	svc := job.NewService(job.NewMemoryRepository(), &mockPipeline{}, testLogger())
	h := NewHandlers(svc, testLogger())

	rec := postJob(t, h, CreateJobRequest{InputPath: "/videos/talk.mp4"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJob_UploadWithoutPublishing(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	rec := postJob(t, h, CreateJobRequest{InputPath: "talk.mp4", Upload: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("invalid json")))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body CreateJobRequest
	}{
		{"missing input", CreateJobRequest{}},
		{"threshold above zero", CreateJobRequest{InputPath: "a.mp4", ThresholdDB: ptr(5.0)}},
		{"threshold too low", CreateJobRequest{InputPath: "a.mp4", ThresholdDB: ptr(-200.0)}},
		{"zero min silence", CreateJobRequest{InputPath: "a.mp4", MinSilenceDuration: ptr(0.0)}},
		{"empty batch entry", CreateJobRequest{BatchInputs: []string{"a.mp4", ""}}},
		{"output equals input", CreateJobRequest{InputPath: "/videos/a.mp4", OutputPath: "/videos/a.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc, _, _ := newTestHandlers(t)

			rec := postJob(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)

			jobs, _ := svc.List(context.Background())
			assert.Empty(t, jobs)
		})
	}
}

func TestCreateJob_QueueFull(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, job.WithQueueSize(1))

	rec := postJob(t, h, CreateJobRequest{InputPath: "a.mp4"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = postJob(t, h, CreateJobRequest{InputPath: "b.mp4"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "QUEUE_FULL", resp.Code)
}

func TestGetJob_Success(t *testing.T) {
	h, _, _, repo := newTestHandlers(t)
	ctx := context.Background()

	testJob := job.New(pipeline.NewRequest("/videos/talk.mp4"))
	require.NoError(t, testJob.Start())
	testJob.AppendLog("Found 2 silence periods")
	require.NoError(t, testJob.Complete([]job.Output{{
		Input:     "/videos/talk.mp4",
		Path:      "/videos/talk_trimmed.mp4",
		URL:       "https://bucket.s3.us-east-1.amazonaws.com/trimflow/x/talk_trimmed.mp4",
		Silences:  2,
		Segments:  3,
		SizeBytes: 2048,
	}}))
	require.NoError(t, repo.Save(ctx, testJob))

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+testJob.ID, nil)
	req.SetPathValue("id", testJob.ID)
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, testJob.ID, resp.ID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, []string{"Found 2 silence periods"}, resp.Logs)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, "/videos/talk_trimmed.mp4", resp.Outputs[0].Path)
	assert.Equal(t, 3, resp.Outputs[0].Segments)
	assert.Contains(t, resp.Outputs[0].URL, "talk_trimmed.mp4")
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1701432000-a1b2c3d4", nil)
	req.SetPathValue("id", "job-1701432000-a1b2c3d4")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestGetJob_BadID(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	tests := []struct {
		id   string
		code string
	}{
		{"", "MISSING_JOB_ID"},
		{"nonexistent", "INVALID_JOB_ID"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
		req.SetPathValue("id", tt.id)
		rec := httptest.NewRecorder()

		h.GetJob(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, tt.code, resp.Code)
	}
}

func TestListJobs(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	postJob(t, h, CreateJobRequest{InputPath: "a.mp4"})
	postJob(t, h, CreateJobRequest{InputPath: "b.mp4"})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	h.ListJobs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ListJobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 2)
	for _, j := range resp.Jobs {
		assert.Equal(t, "IN_QUEUE", j.Status)
	}
}

func TestListJobs_StatusFilter(t *testing.T) {
	h, svc, _, _ := newTestHandlers(t)

	postJob(t, h, CreateJobRequest{InputPath: "a.mp4"})
	rec := postJob(t, h, CreateJobRequest{InputPath: "b.mp4"})
	var created CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	_, err := svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)

	list := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/jobs?"+query, nil)
		rec := httptest.NewRecorder()
		h.ListJobs(rec, req)
		return rec
	}

	rec = list("status=cancelled")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListJobsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, created.ID, resp.Jobs[0].ID)

	rec = list("status=IN_QUEUE,CANCELLED")
	resp = ListJobsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Jobs, 2)

	rec = list("status=finished")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "INVALID_STATUS", errResp.Code)
}

func TestCancelJob(t *testing.T) {
	h, _, _, repo := newTestHandlers(t)

	rec := postJob(t, h, CreateJobRequest{InputPath: "a.mp4"})
	var created CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	cancel := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/cancel", nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		h.CancelJob(rec, req)
		return rec
	}

	rec = cancel(created.ID)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CANCELLED", resp.Status)

	stored, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, stored.Status)

	rec = cancel(created.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = cancel("job-1701432000-a1b2c3d4")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Integration(t *testing.T) {
	h, svc, p, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	p.On("Run", mock.Anything, mock.MatchedBy(func(r pipeline.Request) bool {
		return r.InputPath == "/videos/talk.mp4"
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			sink := args.Get(2).(pipeline.Sink)
			sink.Emit(pipeline.Progress{Percent: 50, Status: "Removing silences..."})
		}).
		Return(pipeline.Result{Files: []pipeline.FileResult{{
			Input:    "/videos/talk.mp4",
			Output:   "/videos/talk_trimmed.mp4",
			Segments: 2,
		}}}, nil)

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	defer func() {
		stop()
		<-done
	}()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	bodyJSON, _ := json.Marshal(CreateJobRequest{InputPath: "/videos/talk.mp4"})
	req = httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created CreateJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	var got JobResponse
	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+created.ID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		got = JobResponse{}
		_ = json.NewDecoder(rec.Body).Decode(&got)
		return got.Status == "COMPLETED"
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "/videos/talk_trimmed.mp4", got.Outputs[0].Path)
	p.AssertExpectations(t)

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddleware_DefaultRefusesOrigins(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
