package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/judicial-sync/internal/models"
)

// DecisionArchive stores fetched opinions and dockets in ClickHouse. Rows are
// append-only and deduplicated by the ReplacingMergeTree on (judge, kind,
// source id); per-judge counts feed the analytics-ready computation.
type DecisionArchive struct {
	db *ClickHouseDB
}

// NewDecisionArchive creates a new decision archive.
func NewDecisionArchive(db *ClickHouseDB) *DecisionArchive {
	return &DecisionArchive{db: db}
}

// BatchInsert appends a batch of decisions.
func (a *DecisionArchive) BatchInsert(ctx context.Context, decisions []*models.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	batch, err := a.db.Conn().PrepareBatch(ctx,
		"INSERT INTO decision_archive (judge_id, source_id, kind, court_id, date_filed, fetched_at)")
	if err != nil {
		return fmt.Errorf("failed to prepare decision batch: %w", err)
	}

	for _, d := range decisions {
		if err := batch.Append(
			d.JudgeID,
			d.SourceID,
			string(d.Kind),
			d.CourtID,
			d.DateFiled,
			d.FetchedAt,
		); err != nil {
			return fmt.Errorf("failed to append decision: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert decisions: %w", err)
	}
	return nil
}

// CountByJudge returns per-kind counts of archived decisions for a judge.
// Counts are by distinct source id so rows duplicated by a re-fetch do not
// inflate them before the merge tree collapses.
func (a *DecisionArchive) CountByJudge(ctx context.Context, judgeID string) (opinions, dockets uint64, err error) {
	query := `
		SELECT
			uniqExactIf(source_id, kind = 'opinion'),
			uniqExactIf(source_id, kind = 'docket')
		FROM decision_archive
		WHERE judge_id = ?
	`

	row := a.db.Conn().QueryRow(ctx, query, judgeID)
	if err := row.Scan(&opinions, &dockets); err != nil {
		return 0, 0, fmt.Errorf("failed to count decisions for judge %s: %w", judgeID, err)
	}
	return opinions, dockets, nil
}

// PruneFetchedBefore drops archive rows fetched before the cutoff. Used by
// the cleanup job when log pruning is requested; superseded duplicates are
// collapsed by the merge tree, this removes rows no view depends on.
func (a *DecisionArchive) PruneFetchedBefore(ctx context.Context, cutoff time.Time) error {
	query := `ALTER TABLE decision_archive DELETE WHERE fetched_at < ?`
	if err := a.db.Conn().Exec(ctx, query, cutoff); err != nil {
		return fmt.Errorf("failed to prune decision archive: %w", err)
	}
	return nil
}
