package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judicial-sync/internal/circuitbreaker"
	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/ratelimit"
)

type fakeJobService struct {
	jobs    map[string]*models.SyncJob
	addErr  error
	listErr error
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{jobs: make(map[string]*models.SyncJob)}
}

func (f *fakeJobService) AddJob(_ context.Context, jobType models.JobType, options any, priority int, scheduledFor time.Time) (*models.SyncJob, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	raw, err := models.EncodeOptions(jobType, options)
	if err != nil {
		return nil, syncerrors.NewPermanent("invalid job options", err)
	}
	if priority <= 0 {
		priority = models.PriorityMedium
	}
	job := &models.SyncJob{
		ID:           "job-" + string(jobType),
		Type:         jobType,
		Status:       models.JobStatusPending,
		Options:      raw,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		CreatedAt:    time.Now(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobService) GetJob(_ context.Context, jobID string) (*models.SyncJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, syncerrors.NewNotFound("sync job", jobID)
	}
	return job, nil
}

func (f *fakeJobService) ListJobs(_ context.Context, status models.JobStatus, limit int) ([]*models.SyncJob, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.SyncJob
	for _, job := range f.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobService) Stats(_ context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{}
	for _, job := range f.jobs {
		if job.Status == models.JobStatusPending {
			stats.Pending++
		}
	}
	return stats, nil
}

type fakeQuotaService struct {
	stats    *ratelimit.UsageStats
	statsErr error
	resets   int
}

func (f *fakeQuotaService) GetUsageStats(_ context.Context) (*ratelimit.UsageStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeQuotaService) ResetWindow(_ context.Context) error {
	f.resets++
	return nil
}

type fakeBreakerService struct {
	stats circuitbreaker.Stats
}

func (f *fakeBreakerService) GetStats() circuitbreaker.Stats {
	return f.stats
}

type testServer struct {
	server  *Server
	jobs    *fakeJobService
	quota   *fakeQuotaService
	breaker *fakeBreakerService
}

func newTestServer() *testServer {
	jobs := newFakeJobService()
	quota := &fakeQuotaService{
		stats: &ratelimit.UsageStats{TotalRequests: 120, Limit: 5000, Remaining: 4880},
	}
	breaker := &fakeBreakerService{
		stats: circuitbreaker.Stats{Name: "courtlistener", State: circuitbreaker.StateClosed},
	}
	server := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 1000},
		jobs, quota, breaker)
	return &testServer{server: server, jobs: jobs, quota: quota, breaker: breaker}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "POST", "/api/v1/sync/jobs", map[string]any{
		"type":     "judge",
		"options":  map[string]any{"batchSize": 10, "forceRefresh": true},
		"priority": models.PriorityHigh,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var job models.SyncJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.JobTypeJudge, job.Type)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.PriorityHigh, job.Priority)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest("POST", "/api/v1/sync/jobs", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJob_UnknownType(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "POST", "/api/v1/sync/jobs", map[string]any{"type": "bogus"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
}

func TestCreateJob_MalformedOptions(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "POST", "/api/v1/sync/jobs", map[string]any{
		"type":    "court",
		"options": map[string]any{"batchSize": "not-a-number"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	ts := newTestServer()
	job, err := ts.jobs.AddJob(context.Background(), models.JobTypeCourt, nil, 0, time.Now())
	require.NoError(t, err)

	w := ts.do(t, "GET", "/api/v1/sync/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.SyncJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
}

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "GET", "/api/v1/sync/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer()
	_, err := ts.jobs.AddJob(context.Background(), models.JobTypeCourt, nil, 0, time.Now())
	require.NoError(t, err)
	_, err = ts.jobs.AddJob(context.Background(), models.JobTypeJudge, nil, 0, time.Now())
	require.NoError(t, err)

	w := ts.do(t, "GET", "/api/v1/sync/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs  []*models.SyncJob `json:"jobs"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestListJobs_InvalidStatus(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "GET", "/api/v1/sync/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	ts := newTestServer()
	_, err := ts.jobs.AddJob(context.Background(), models.JobTypeCourt, nil, 0, time.Now())
	require.NoError(t, err)

	w := ts.do(t, "GET", "/api/v1/sync/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PipelineStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Queue.Pending)
	require.NotNil(t, resp.Quota)
	assert.Equal(t, 5000, resp.Quota.Limit)
	assert.Equal(t, circuitbreaker.StateClosed, resp.Breaker.State)
}

func TestStats_QuotaOutageIsBestEffort(t *testing.T) {
	ts := newTestServer()
	ts.quota.statsErr = syncerrors.NewPersistence("quota read", nil)

	w := ts.do(t, "GET", "/api/v1/sync/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PipelineStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Quota)
	require.NotNil(t, resp.Queue)
}

func TestRateLimitReset(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "POST", "/api/v1/sync/rate-limit/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.quota.resets)
}

func TestRateLimitUsage(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "GET", "/api/v1/sync/rate-limit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats ratelimit.UsageStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 120, stats.TotalRequests)
}

func TestHealth(t *testing.T) {
	ts := newTestServer()

	w := ts.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestAPIRateLimit(t *testing.T) {
	jobs := newFakeJobService()
	quota := &fakeQuotaService{stats: &ratelimit.UsageStats{}}
	breaker := &fakeBreakerService{}
	server := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 1},
		jobs, quota, breaker)

	var limited bool
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected per-client rate limit to trip")
}
