package storage

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judicial-sync/internal/config"
	"github.com/judicial-sync/internal/models"
)

// testPostgres connects to the local test database, skipping the test when
// Postgres is not reachable. Tables are truncated so each test starts clean.
func testPostgres(t *testing.T) *PostgresDB {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "judicial_sync",
		User:           "sync",
		Password:       "sync_dev_password",
		MaxConnections: 10,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return nil
	}
	t.Cleanup(db.Close)

	ctx := testContext(t)
	for _, table := range []string{"sync_jobs", "sync_progress", "courts", "judges"} {
		if _, err := db.Pool().Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			t.Skipf("Skipping test - schema not migrated: %v", err)
			return nil
		}
	}
	return db
}

func newTestJob(jobType models.JobType, priority int) *models.SyncJob {
	return &models.SyncJob{
		ID:           uuid.New().String(),
		Type:         jobType,
		Status:       models.JobStatusPending,
		Options:      json.RawMessage(`{}`),
		Priority:     priority,
		ScheduledFor: time.Now().Add(-time.Second),
		MaxRetries:   3,
	}
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeJudge, models.PriorityMedium)
	job.Options = json.RawMessage(`{"judgeIds":["j-100"],"includeDecisions":true}`)
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobTypeJudge, got.Type)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.JSONEq(t, string(job.Options), string(got.Options))
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.ClaimedBy)
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	_, err := repo.GetByID(ctx, uuid.New().String())
	assert.Error(t, err)
}

func TestJobRepository_ClaimNext_PriorityOrder(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	low := newTestJob(models.JobTypeCourt, models.PriorityLow)
	high := newTestJob(models.JobTypeJudge, models.PriorityImmediate)
	medium := newTestJob(models.JobTypeDecision, models.PriorityMedium)
	for _, job := range []*models.SyncJob{low, high, medium} {
		require.NoError(t, repo.Create(ctx, job))
	}

	first, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, models.JobStatusRunning, first.Status)
	require.NotNil(t, first.ClaimedBy)
	assert.Equal(t, "worker-1", *first.ClaimedBy)
	assert.NotNil(t, first.StartedAt)

	second, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, medium.ID, second.ID)

	third, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, low.ID, third.ID)

	none, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobRepository_ClaimNext_RespectsSchedule(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	future := newTestJob(models.JobTypeJudge, models.PriorityImmediate)
	future.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(ctx, future))

	due := newTestJob(models.JobTypeCourt, models.PriorityLow)
	require.NoError(t, repo.Create(ctx, due))

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, due.ID, claimed.ID, "future-scheduled job must not be claimable")

	none, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

// TestJobRepository_ClaimNext_Concurrent races many claimers against a
// smaller set of jobs and verifies every job is claimed exactly once.
func TestJobRepository_ClaimNext_Concurrent(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	const jobCount = 5
	const workerCount = 20

	jobIDs := make(map[string]bool, jobCount)
	for i := 0; i < jobCount; i++ {
		job := newTestJob(models.JobTypeJudge, models.PriorityMedium)
		require.NoError(t, repo.Create(ctx, job))
		jobIDs[job.ID] = false
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	claims := make(map[string]int)

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := repo.ClaimNext(ctx, "racer")
				if err != nil {
					t.Errorf("ClaimNext() error = %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claims[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claims, jobCount)
	for id, n := range claims {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
		_, known := jobIDs[id]
		assert.True(t, known)
	}
}

func TestJobRepository_CompleteLifecycle(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeCourt, models.PriorityMedium)
	require.NoError(t, repo.Create(ctx, job))

	// Completing a pending job must be rejected.
	err := repo.Complete(ctx, job.ID, json.RawMessage(`{}`))
	assert.Error(t, err)

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	result, _ := json.Marshal(models.JobResult{Processed: 12, Updated: 12, DurationMs: 840})
	require.NoError(t, repo.Complete(ctx, job.ID, result))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, string(result), string(got.Result))

	// Terminal jobs stay terminal.
	assert.Error(t, repo.Complete(ctx, job.ID, result))
	assert.Error(t, repo.MarkFailed(ctx, job.ID, "late failure"))
}

func TestJobRepository_Requeue(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeDecision, models.PriorityMedium)
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	retryAt := time.Now().Add(30 * time.Second)
	require.NoError(t, repo.Requeue(ctx, job.ID, "upstream timeout", retryAt))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.ClaimedBy)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "upstream timeout", *got.ErrorMessage)
	assert.WithinDuration(t, retryAt, got.ScheduledFor, time.Second)

	// Not claimable until the retry delay elapses.
	none, err := repo.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobRepository_MarkFailed(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeJudge, models.PriorityMedium)
	require.NoError(t, repo.Create(ctx, job))

	_, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, job.ID, "invalid judge id"))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "invalid judge id", *got.ErrorMessage)
}

func TestJobRepository_ReclaimStale(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeJudge, models.PriorityMedium)
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.ClaimNext(ctx, "worker-crashed")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Fresh running job is not reclaimed.
	n, err := repo.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Backdate started_at past the threshold.
	_, err = db.Pool().Exec(ctx,
		`UPDATE sync_jobs SET started_at = NOW() - INTERVAL '45 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	n, err = repo.ReclaimStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.ClaimedBy)
	assert.Equal(t, 0, got.RetryCount, "crash reclaim does not charge the retry budget")
}

func TestJobRepository_Stats(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	pending := newTestJob(models.JobTypeCourt, models.PriorityLow)
	require.NoError(t, repo.Create(ctx, pending))

	deferred := newTestJob(models.JobTypeJudge, models.PriorityMedium)
	deferred.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, repo.Create(ctx, deferred))

	running := newTestJob(models.JobTypeDecision, models.PriorityImmediate)
	require.NoError(t, repo.Create(ctx, running))
	_, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(0), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(1), stats.Eligible, "deferred job is pending but not eligible")
}

func TestJobRepository_DeleteTerminalOlderThan(t *testing.T) {
	db := testPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := newTestJob(models.JobTypeCourt, models.PriorityMedium)
	require.NoError(t, repo.Create(ctx, job))
	_, err := repo.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, job.ID, json.RawMessage(`{}`)))

	// Completed just now, cutoff in the past: nothing to delete.
	n, err := repo.DeleteTerminalOlderThan(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteTerminalOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, job.ID)
	assert.Error(t, err)
}
