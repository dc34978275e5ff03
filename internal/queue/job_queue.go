// Package queue is the persistent job queue driving the sync pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/logging"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/retry"
	"github.com/judicial-sync/internal/storage"
	"github.com/judicial-sync/internal/telemetry"
)

// JobStore is the persistence surface the queue needs. Satisfied by
// storage.JobRepository; tests substitute an in-memory implementation.
type JobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	ClaimNext(ctx context.Context, workerID string) (*models.SyncJob, error)
	Complete(ctx context.Context, jobID string, result json.RawMessage) error
	MarkFailed(ctx context.Context, jobID string, errorMessage string) error
	Requeue(ctx context.Context, jobID string, errorMessage string, scheduledFor time.Time) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.SyncJob, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ JobStore = (*storage.JobRepository)(nil)

// JobQueue manages sync job lifecycle on top of the job store: validation
// and defaults on the way in, retry decisions on the way out.
type JobQueue struct {
	store             JobStore
	policy            *retry.Policy
	defaultMaxRetries int
	staleRunningAfter time.Duration
}

// Config configures a job queue.
type Config struct {
	Store             JobStore
	Policy            *retry.Policy
	DefaultMaxRetries int
	StaleRunningAfter time.Duration
}

// NewJobQueue creates a job queue.
func NewJobQueue(cfg *Config) (*JobQueue, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	policy := cfg.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	maxRetries := cfg.DefaultMaxRetries
	if maxRetries <= 0 {
		maxRetries = policy.MaxRetries
	}
	stale := cfg.StaleRunningAfter
	if stale <= 0 {
		stale = 30 * time.Minute
	}

	return &JobQueue{
		store:             cfg.Store,
		policy:            policy,
		defaultMaxRetries: maxRetries,
		staleRunningAfter: stale,
	}, nil
}

// AddJob validates, defaults, and enqueues a new sync job. Returns the
// stored job with its assigned ID.
func (q *JobQueue) AddJob(ctx context.Context, jobType models.JobType, options any, priority int, scheduledFor time.Time) (*models.SyncJob, error) {
	if !models.ValidJobType(jobType) {
		return nil, syncerrors.NewPermanent(fmt.Sprintf("unknown job type %q", jobType), nil)
	}

	raw, err := models.EncodeOptions(jobType, options)
	if err != nil {
		return nil, syncerrors.NewPermanent("invalid job options", err)
	}
	// Round-trip through the typed shape so malformed options are rejected
	// at enqueue time, not when a worker claims the job.
	if _, err := models.DecodeOptions(jobType, raw); err != nil {
		return nil, syncerrors.NewPermanent("invalid job options", err)
	}

	if priority <= 0 {
		priority = models.PriorityMedium
	}
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	job := &models.SyncJob{
		ID:           uuid.New().String(),
		Type:         jobType,
		Status:       models.JobStatusPending,
		Options:      raw,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		MaxRetries:   q.defaultMaxRetries,
	}

	if err := q.store.Create(ctx, job); err != nil {
		return nil, err
	}

	telemetry.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
	logging.WithFields(map[string]any{
		"jobId":    job.ID,
		"jobType":  job.Type,
		"priority": job.Priority,
	}).Info("Sync job enqueued")

	return job, nil
}

// GetJob retrieves a job by ID.
func (q *JobQueue) GetJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return q.store.GetByID(ctx, jobID)
}

// ClaimNextJob atomically claims the highest-priority eligible job for the
// calling worker. Returns nil when the queue is empty.
func (q *JobQueue) ClaimNextJob(ctx context.Context, workerID string) (*models.SyncJob, error) {
	job, err := q.store.ClaimNext(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		telemetry.JobsInFlight.Inc()
	}
	return job, nil
}

// CompleteJob records a successful outcome and transitions the job terminal.
func (q *JobQueue) CompleteJob(ctx context.Context, job *models.SyncJob, result *models.JobResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}

	if err := q.store.Complete(ctx, job.ID, raw); err != nil {
		return err
	}

	telemetry.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
	telemetry.JobsInFlight.Dec()
	logging.WithFields(map[string]any{
		"jobId":     job.ID,
		"jobType":   job.Type,
		"processed": result.Processed,
		"errored":   result.Errored,
	}).Info("Sync job completed")

	return nil
}

// FailJob handles a failed attempt. Permanent failures and exhausted retry
// budgets go terminal; everything else is requeued with backoff, honoring
// any upstream retry hint (a 429's Retry-After, a quota window reset) as a
// floor on the delay.
func (q *JobQueue) FailJob(ctx context.Context, job *models.SyncJob, failure error) error {
	if !q.policy.ShouldRetry(failure, job.RetryCount) {
		if err := q.store.MarkFailed(ctx, job.ID, failure.Error()); err != nil {
			return err
		}
		telemetry.JobsFailed.WithLabelValues(string(job.Type)).Inc()
		telemetry.JobsInFlight.Dec()
		logging.WithFields(map[string]any{
			"jobId":      job.ID,
			"jobType":    job.Type,
			"retryCount": job.RetryCount,
			"permanent":  syncerrors.IsPermanent(failure),
		}).WithError(failure).Error("Sync job failed terminally")
		return nil
	}

	attempt := job.RetryCount + 1
	delay := q.policy.BackoffFor(failure, attempt)
	scheduledFor := time.Now().Add(delay)

	if err := q.store.Requeue(ctx, job.ID, failure.Error(), scheduledFor); err != nil {
		return err
	}

	telemetry.JobsRetried.WithLabelValues(string(job.Type)).Inc()
	telemetry.JobsInFlight.Dec()
	logging.WithFields(map[string]any{
		"jobId":   job.ID,
		"jobType": job.Type,
		"attempt": attempt,
		"delay":   delay.String(),
	}).WithError(failure).Warn("Sync job requeued for retry")

	return nil
}

// ReclaimStale returns running jobs from crashed workers to the pending
// pool. Reclaims do not charge the retry budget.
func (q *JobQueue) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := q.store.ReclaimStale(ctx, q.staleRunningAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.JobsReclaimed.Add(float64(n))
		telemetry.JobsInFlight.Sub(float64(n))
		logging.WithField("count", n).Warn("Reclaimed stale running jobs")
	}
	return n, nil
}

// ListJobs returns jobs in the given status.
func (q *JobQueue) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.SyncJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return q.store.ListByStatus(ctx, status, limit)
}

// Stats returns per-status queue counts.
func (q *JobQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.store.Stats(ctx)
}

// DeleteTerminalOlderThan removes terminal jobs past retention; used by the
// cleanup handler.
func (q *JobQueue) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return q.store.DeleteTerminalOlderThan(ctx, cutoff)
}
