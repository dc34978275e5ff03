package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/judicial-sync/internal/models"
)

// JudgeRepository handles judge directory persistence.
type JudgeRepository struct {
	db *PostgresDB
}

// NewJudgeRepository creates a new judge repository.
func NewJudgeRepository(db *PostgresDB) *JudgeRepository {
	return &JudgeRepository{db: db}
}

// Upsert creates or refreshes a judge record.
func (r *JudgeRepository) Upsert(ctx context.Context, judge *models.Judge) error {
	query := `
		INSERT INTO judges (id, name, court_id, date_created, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			court_id = EXCLUDED.court_id,
			date_created = EXCLUDED.date_created,
			last_synced_at = NOW(),
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		judge.ID,
		judge.Name,
		judge.CourtID,
		judge.DateCreated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert judge: %w", err)
	}
	return nil
}

// GetByID retrieves a judge by ID.
func (r *JudgeRepository) GetByID(ctx context.Context, id string) (*models.Judge, error) {
	query := `
		SELECT id, name, court_id, date_created, last_synced_at, created_at, updated_at
		FROM judges WHERE id = $1
	`

	var judge models.Judge
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&judge.ID,
		&judge.Name,
		&judge.CourtID,
		&judge.DateCreated,
		&judge.LastSyncedAt,
		&judge.CreatedAt,
		&judge.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("judge not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get judge: %w", err)
	}
	return &judge, nil
}

// ListStale returns judges whose last sync is older than the cutoff (or who
// have never been synced), oldest first.
func (r *JudgeRepository) ListStale(ctx context.Context, limit int) ([]*models.Judge, error) {
	query := `
		SELECT id, name, court_id, date_created, last_synced_at, created_at, updated_at
		FROM judges
		ORDER BY last_synced_at ASC NULLS FIRST
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list judges: %w", err)
	}
	defer rows.Close()

	var judges []*models.Judge
	for rows.Next() {
		var judge models.Judge
		err := rows.Scan(
			&judge.ID,
			&judge.Name,
			&judge.CourtID,
			&judge.DateCreated,
			&judge.LastSyncedAt,
			&judge.CreatedAt,
			&judge.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan judge: %w", err)
		}
		judges = append(judges, &judge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating judges: %w", err)
	}

	return judges, nil
}

// Count returns the number of judge records.
func (r *JudgeRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM judges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count judges: %w", err)
	}
	return n, nil
}
