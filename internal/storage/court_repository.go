package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/judicial-sync/internal/models"
)

// CourtRepository handles court directory persistence.
type CourtRepository struct {
	db *PostgresDB
}

// NewCourtRepository creates a new court repository.
func NewCourtRepository(db *PostgresDB) *CourtRepository {
	return &CourtRepository{db: db}
}

// Upsert creates or refreshes a court record.
func (r *CourtRepository) Upsert(ctx context.Context, court *models.Court) error {
	query := `
		INSERT INTO courts (id, name, jurisdiction, url, in_use, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			jurisdiction = EXCLUDED.jurisdiction,
			url = EXCLUDED.url,
			in_use = EXCLUDED.in_use,
			last_synced_at = NOW(),
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		court.ID,
		court.Name,
		court.Jurisdiction,
		court.URL,
		court.InUse,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert court: %w", err)
	}
	return nil
}

// GetByID retrieves a court by ID.
func (r *CourtRepository) GetByID(ctx context.Context, id string) (*models.Court, error) {
	query := `
		SELECT id, name, jurisdiction, url, in_use, last_synced_at, created_at, updated_at
		FROM courts WHERE id = $1
	`

	var court models.Court
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&court.ID,
		&court.Name,
		&court.Jurisdiction,
		&court.URL,
		&court.InUse,
		&court.LastSyncedAt,
		&court.CreatedAt,
		&court.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("court not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get court: %w", err)
	}
	return &court, nil
}

// Count returns the number of court records.
func (r *CourtRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM courts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count courts: %w", err)
	}
	return n, nil
}
