// Package progress maintains per-judge sync completeness records.
package progress

import (
	"context"

	"github.com/judicial-sync/internal/logging"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/storage"
)

// DefaultAnalysisThreshold is the minimum archived case count before a judge
// is considered analytics-ready.
const DefaultAnalysisThreshold = 50

// Tracker enforces the progress invariants above the repository: phase
// booleans only move forward unless a force refresh explicitly resets them,
// and partial updates never clobber fields they do not mention.
type Tracker struct {
	repo              *storage.ProgressRepository
	analysisThreshold int
}

// NewTracker creates a progress tracker.
func NewTracker(repo *storage.ProgressRepository, analysisThreshold int) *Tracker {
	if analysisThreshold <= 0 {
		analysisThreshold = DefaultAnalysisThreshold
	}
	return &Tracker{repo: repo, analysisThreshold: analysisThreshold}
}

// Get returns the progress record for an entity, nil if never synced.
func (t *Tracker) Get(ctx context.Context, entityID string) (*models.SyncProgress, error) {
	return t.repo.Get(ctx, entityID)
}

// Upsert merges a partial update into the entity's record, creating it on
// first touch. False phase booleans are dropped unless ForceReset is set;
// a monotonic field cannot regress through the normal update path.
func (t *Tracker) Upsert(ctx context.Context, entityID string, update *models.ProgressUpdate) error {
	if update.ForceReset {
		if err := t.repo.ResetPhases(ctx, entityID, resetPortion(update)); err != nil {
			return err
		}
		logging.WithField("entityId", entityID).Info("Sync phases force reset")
	}

	return t.repo.Upsert(ctx, entityID, dropRegressions(update))
}

// resetPortion extracts only the false booleans, which are the ones the
// reset statement needs to clear.
func resetPortion(u *models.ProgressUpdate) *models.ProgressUpdate {
	out := &models.ProgressUpdate{}
	if u.HasPositions != nil && !*u.HasPositions {
		out.HasPositions = u.HasPositions
	}
	if u.HasEducation != nil && !*u.HasEducation {
		out.HasEducation = u.HasEducation
	}
	if u.HasPoliticalAffiliations != nil && !*u.HasPoliticalAffiliations {
		out.HasPoliticalAffiliations = u.HasPoliticalAffiliations
	}
	return out
}

// dropRegressions removes false phase booleans so the merge can only move
// phases forward. The returned value shares pointers with the input.
func dropRegressions(u *models.ProgressUpdate) *models.ProgressUpdate {
	out := *u
	if out.HasPositions != nil && !*out.HasPositions {
		out.HasPositions = nil
	}
	if out.HasEducation != nil && !*out.HasEducation {
		out.HasEducation = nil
	}
	if out.HasPoliticalAffiliations != nil && !*out.HasPoliticalAffiliations {
		out.HasPoliticalAffiliations = nil
	}
	return &out
}

// RecordError bumps the entity's error count and stores the failure reason.
func (t *Tracker) RecordError(ctx context.Context, entityID string, err error) error {
	return t.repo.RecordError(ctx, entityID, err.Error())
}

// ListIncomplete returns entities with unfinished phases, oldest sync first.
func (t *Tracker) ListIncomplete(ctx context.Context, limit int) ([]*models.SyncProgress, error) {
	return t.repo.ListIncomplete(ctx, limit)
}

// DerivePhase returns the furthest phase whose prerequisites are all met.
// The order is fixed; a judge with opinions but no positions still reports
// the positions phase, because display progress may not skip ahead of the
// earliest gap.
func DerivePhase(rec *models.SyncProgress) models.SyncPhase {
	if rec == nil {
		return models.PhaseDiscovery
	}
	if !rec.HasPositions {
		return models.PhasePositions
	}
	if !rec.HasEducation || !rec.HasPoliticalAffiliations {
		return models.PhaseDetails
	}
	if rec.OpinionsCount == 0 {
		return models.PhaseOpinions
	}
	if rec.DocketsCount == 0 {
		return models.PhaseDockets
	}
	return models.PhaseComplete
}

// IsComplete reports whether every phase is satisfied.
func IsComplete(rec *models.SyncProgress) bool {
	return DerivePhase(rec) == models.PhaseComplete
}

// IsAnalyticsReady reports whether enough cases are archived for this judge
// to feed the analysis pipeline.
func (t *Tracker) IsAnalyticsReady(rec *models.SyncProgress) bool {
	return rec != nil && rec.TotalCasesCount >= t.analysisThreshold
}
