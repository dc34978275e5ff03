package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/judicial-sync/internal/models"
)

// ProgressRepository handles per-entity sync progress persistence.
type ProgressRepository struct {
	db *PostgresDB
}

// NewProgressRepository creates a new progress repository.
func NewProgressRepository(db *PostgresDB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

const progressColumns = `entity_id, has_positions, has_education,
	has_political_affiliations, opinions_count, dockets_count,
	total_cases_count, error_count, last_error, last_synced_at,
	positions_synced_at, education_synced_at, affiliations_synced_at,
	opinions_synced_at, dockets_synced_at, created_at, updated_at`

// Get retrieves the progress record for an entity. Returns nil without error
// when the entity has never been synced.
func (r *ProgressRepository) Get(ctx context.Context, entityID string) (*models.SyncProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM sync_progress WHERE entity_id = $1`

	row := r.db.Pool().QueryRow(ctx, query, entityID)
	rec, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync progress: %w", err)
	}
	return rec, nil
}

// Upsert merges a partial update into the stored record. Nil fields pass
// NULL and COALESCE keeps the existing value, so unspecified fields are
// untouched; this is what lets a judge job and a decision job update the
// same entity concurrently without clobbering each other. The record is
// created on first touch.
//
// Monotonicity of the phase booleans is enforced above this layer: the
// tracker drops false values from updates unless the caller forced a reset,
// so a false arriving here is intentional.
func (r *ProgressRepository) Upsert(ctx context.Context, entityID string, u *models.ProgressUpdate) error {
	query := `
		INSERT INTO sync_progress (
			entity_id, has_positions, has_education, has_political_affiliations,
			opinions_count, dockets_count, total_cases_count,
			last_error, last_synced_at,
			positions_synced_at, education_synced_at, affiliations_synced_at,
			opinions_synced_at, dockets_synced_at,
			created_at, updated_at
		)
		VALUES (
			$1, COALESCE($2, FALSE), COALESCE($3, FALSE), COALESCE($4, FALSE),
			COALESCE($5, 0), COALESCE($6, 0), COALESCE($7, 0),
			$8, NOW(), $9, $10, $11, $12, $13, NOW(), NOW()
		)
		ON CONFLICT (entity_id) DO UPDATE SET
			has_positions = COALESCE($2, sync_progress.has_positions),
			has_education = COALESCE($3, sync_progress.has_education),
			has_political_affiliations = COALESCE($4, sync_progress.has_political_affiliations),
			opinions_count = COALESCE($5, sync_progress.opinions_count),
			dockets_count = COALESCE($6, sync_progress.dockets_count),
			total_cases_count = COALESCE($7, sync_progress.total_cases_count),
			last_error = COALESCE($8, sync_progress.last_error),
			last_synced_at = NOW(),
			positions_synced_at = COALESCE($9, sync_progress.positions_synced_at),
			education_synced_at = COALESCE($10, sync_progress.education_synced_at),
			affiliations_synced_at = COALESCE($11, sync_progress.affiliations_synced_at),
			opinions_synced_at = COALESCE($12, sync_progress.opinions_synced_at),
			dockets_synced_at = COALESCE($13, sync_progress.dockets_synced_at),
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		entityID,
		u.HasPositions,
		u.HasEducation,
		u.HasPoliticalAffiliations,
		u.OpinionsCount,
		u.DocketsCount,
		u.TotalCasesCount,
		u.LastError,
		u.PositionsSyncedAt,
		u.EducationSyncedAt,
		u.AffiliationsSyncedAt,
		u.OpinionsSyncedAt,
		u.DocketsSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync progress: %w", err)
	}
	return nil
}

// ResetPhases explicitly clears the named phase booleans for a force
// refresh. COALESCE merging cannot express "set false", so the reset is a
// dedicated statement.
func (r *ProgressRepository) ResetPhases(ctx context.Context, entityID string, u *models.ProgressUpdate) error {
	query := `
		UPDATE sync_progress SET
			has_positions = COALESCE($2, has_positions),
			has_education = COALESCE($3, has_education),
			has_political_affiliations = COALESCE($4, has_political_affiliations),
			updated_at = NOW()
		WHERE entity_id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query,
		entityID,
		u.HasPositions,
		u.HasEducation,
		u.HasPoliticalAffiliations,
	)
	if err != nil {
		return fmt.Errorf("failed to reset sync phases: %w", err)
	}
	return nil
}

// RecordError bumps the error count and stores the last failure reason.
func (r *ProgressRepository) RecordError(ctx context.Context, entityID string, message string) error {
	query := `
		INSERT INTO sync_progress (entity_id, error_count, last_error, created_at, updated_at)
		VALUES ($1, 1, $2, NOW(), NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			error_count = sync_progress.error_count + 1,
			last_error = $2,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query, entityID, message)
	if err != nil {
		return fmt.Errorf("failed to record sync error: %w", err)
	}
	return nil
}

// ListIncomplete returns entities that still have unfinished phases, oldest
// sync first, for the decision and judge handlers to work through.
func (r *ProgressRepository) ListIncomplete(ctx context.Context, limit int) ([]*models.SyncProgress, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM sync_progress
		WHERE NOT (has_positions AND has_education AND has_political_affiliations
			AND opinions_count > 0 AND dockets_count > 0)
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete progress: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncProgress
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync progress: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync progress: %w", err)
	}

	return records, nil
}

func scanProgress(row pgx.Row) (*models.SyncProgress, error) {
	var rec models.SyncProgress
	err := row.Scan(
		&rec.EntityID,
		&rec.HasPositions,
		&rec.HasEducation,
		&rec.HasPoliticalAffiliations,
		&rec.OpinionsCount,
		&rec.DocketsCount,
		&rec.TotalCasesCount,
		&rec.ErrorCount,
		&rec.LastError,
		&rec.LastSyncedAt,
		&rec.PositionsSyncedAt,
		&rec.EducationSyncedAt,
		&rec.AffiliationsSyncedAt,
		&rec.OpinionsSyncedAt,
		&rec.DocketsSyncedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
