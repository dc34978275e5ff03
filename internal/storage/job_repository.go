package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/models"
)

// JobRepository handles sync job persistence, including the atomic claim.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, type, status, options, priority, scheduled_for,
	started_at, completed_at, claimed_by, result, error_message,
	retry_count, max_retries, created_at, updated_at`

// Create persists a new pending job.
func (r *JobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (
			id, type, status, options, priority, scheduled_for,
			retry_count, max_retries, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		job.Options,
		job.Priority,
		job.ScheduledFor,
		job.RetryCount,
		job.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	return nil
}

// GetByID retrieves a sync job by ID.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = $1`

	row := r.db.Pool().QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, syncerrors.NewNotFound("sync job", jobID)
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the highest-priority eligible job for workerID.
//
// The inner SELECT and the UPDATE execute as one statement, with
// FOR UPDATE SKIP LOCKED ensuring two workers racing on the same row never
// both see it: one locks and transitions it, the other skips to the next
// eligible row or gets nothing. The status guard on the outer UPDATE keeps
// the pending -> running transition the only valid path in.
//
// Returns nil without error when no job is eligible.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string) (*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'running', started_at = NOW(), claimed_by = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE status = 'pending' AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING ` + jobColumns

	row := r.db.Pool().QueryRow(ctx, query, workerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}
	return job, nil
}

// Complete transitions a running job to completed and stores its result.
func (r *JobRepository) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	query := `
		UPDATE sync_jobs
		SET status = 'completed', completed_at = NOW(), result = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, result)
	if err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync job %s is not running, cannot complete", jobID)
	}
	return nil
}

// MarkFailed transitions a running job to terminal failed state.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errorMessage string) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', completed_at = NOW(), error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark sync job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync job %s is not running, cannot fail", jobID)
	}
	return nil
}

// Requeue returns a running job to the pending pool with a new schedule,
// bumping retry_count and recording the failure reason.
func (r *JobRepository) Requeue(ctx context.Context, jobID string, errorMessage string, scheduledFor time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = 'pending', retry_count = retry_count + 1,
			scheduled_for = $3, error_message = $2,
			started_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, errorMessage, scheduledFor)
	if err != nil {
		return fmt.Errorf("failed to requeue sync job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync job %s is not running, cannot requeue", jobID)
	}
	return nil
}

// ReclaimStale requeues running jobs whose started_at is older than the
// cutoff. A job stuck running past the staleness threshold almost certainly
// belonged to a crashed worker; the retry budget is not charged for it.
func (r *JobRepository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'pending', started_at = NULL, claimed_by = NULL,
			scheduled_for = NOW(), updated_at = NOW()
		WHERE status = 'running' AND started_at < NOW() - $1::interval
	`

	tag, err := r.db.Pool().Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByStatus retrieves jobs by status ordered by priority then age.
func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.SyncJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}

	return jobs, nil
}

// Stats returns per-status job counts.
func (r *JobRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_for <= NOW())
		FROM sync_jobs
	`

	var stats models.QueueStats
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Eligible,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &stats, nil
}

// DeleteTerminalOlderThan removes completed and failed jobs past their
// retention window. Returns the number of rows removed.
func (r *JobRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sync_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sync jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.Options,
		&job.Priority,
		&job.ScheduledFor,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ClaimedBy,
		&job.Result,
		&job.ErrorMessage,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
