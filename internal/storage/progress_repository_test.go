package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judicial-sync/internal/models"
)

func TestProgressRepository_Get_Missing(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	rec, err := repo.Get(ctx, "j-missing")
	require.NoError(t, err)
	assert.Nil(t, rec, "never-synced entity has no progress record")
}

func TestProgressRepository_Upsert_CreatesOnFirstTouch(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	now := time.Now()
	err := repo.Upsert(ctx, "j-100", &models.ProgressUpdate{
		HasPositions:      models.BoolPtr(true),
		PositionsSyncedAt: models.TimePtr(now),
	})
	require.NoError(t, err)

	rec, err := repo.Get(ctx, "j-100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasPositions)
	assert.False(t, rec.HasEducation)
	assert.Zero(t, rec.OpinionsCount)
	assert.NotNil(t, rec.LastSyncedAt)
	require.NotNil(t, rec.PositionsSyncedAt)
	assert.WithinDuration(t, now, *rec.PositionsSyncedAt, time.Second)
}

// Partial updates from different job types must merge without clobbering
// each other: a decision job writing counts leaves the judge job's phase
// booleans alone and vice versa.
func TestProgressRepository_Upsert_MergesByPresence(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	require.NoError(t, repo.Upsert(ctx, "j-200", &models.ProgressUpdate{
		HasPositions: models.BoolPtr(true),
		HasEducation: models.BoolPtr(true),
	}))

	require.NoError(t, repo.Upsert(ctx, "j-200", &models.ProgressUpdate{
		OpinionsCount:   models.IntPtr(37),
		DocketsCount:    models.IntPtr(14),
		TotalCasesCount: models.IntPtr(51),
	}))

	rec, err := repo.Get(ctx, "j-200")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasPositions, "count-only update must not clear phases")
	assert.True(t, rec.HasEducation)
	assert.Equal(t, 37, rec.OpinionsCount)
	assert.Equal(t, 14, rec.DocketsCount)
	assert.Equal(t, 51, rec.TotalCasesCount)
}

func TestProgressRepository_ResetPhases(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	require.NoError(t, repo.Upsert(ctx, "j-300", &models.ProgressUpdate{
		HasPositions:             models.BoolPtr(true),
		HasEducation:             models.BoolPtr(true),
		HasPoliticalAffiliations: models.BoolPtr(true),
	}))

	// Clear positions only; the other phases survive.
	require.NoError(t, repo.ResetPhases(ctx, "j-300", &models.ProgressUpdate{
		HasPositions: models.BoolPtr(false),
	}))

	rec, err := repo.Get(ctx, "j-300")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.HasPositions)
	assert.True(t, rec.HasEducation)
	assert.True(t, rec.HasPoliticalAffiliations)
}

func TestProgressRepository_RecordError(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	require.NoError(t, repo.RecordError(ctx, "j-400", "positions fetch failed"))
	require.NoError(t, repo.RecordError(ctx, "j-400", "opinions fetch failed"))

	rec, err := repo.Get(ctx, "j-400")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ErrorCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "opinions fetch failed", *rec.LastError)
}

func TestProgressRepository_ListIncomplete(t *testing.T) {
	db := testPostgres(t)
	repo := NewProgressRepository(db)
	ctx := testContext(t)

	// Fully synced entity.
	require.NoError(t, repo.Upsert(ctx, "j-done", &models.ProgressUpdate{
		HasPositions:             models.BoolPtr(true),
		HasEducation:             models.BoolPtr(true),
		HasPoliticalAffiliations: models.BoolPtr(true),
		OpinionsCount:            models.IntPtr(10),
		DocketsCount:             models.IntPtr(5),
	}))

	// Entity still missing dockets.
	require.NoError(t, repo.Upsert(ctx, "j-partial", &models.ProgressUpdate{
		HasPositions:             models.BoolPtr(true),
		HasEducation:             models.BoolPtr(true),
		HasPoliticalAffiliations: models.BoolPtr(true),
		OpinionsCount:            models.IntPtr(10),
	}))

	records, err := repo.ListIncomplete(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "j-partial", records[0].EntityID)
}
