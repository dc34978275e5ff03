package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/judicial-sync/internal/courtlistener"
	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/progress"
	"github.com/judicial-sync/internal/queue"
	"github.com/judicial-sync/internal/storage"
)

// Default batch bounds applied when options leave them unset.
const (
	DefaultCourtBatchSize       = 200
	DefaultJudgeBatchSize       = 25
	DefaultDecisionBatchSize    = 10
	DefaultMaxDecisionsPerJudge = 500
	DefaultCleanupOlderThanDays = 30
)

// CourtListenerAPI is the upstream surface the handlers need. Satisfied by
// courtlistener.Client; tests substitute a fake.
type CourtListenerAPI interface {
	ListCourts(ctx context.Context, jurisdiction, cursor string, pageSize int) (*courtlistener.CourtPage, error)
	ListJudges(ctx context.Context, cursor string, pageSize int) (*courtlistener.JudgePage, error)
	GetJudge(ctx context.Context, judgeID string) (*models.Judge, error)
	ListPositions(ctx context.Context, judgeID string) ([]courtlistener.Position, error)
	ListEducations(ctx context.Context, judgeID string) ([]courtlistener.Education, error)
	ListPoliticalAffiliations(ctx context.Context, judgeID string) ([]courtlistener.PoliticalAffiliation, error)
	ListOpinions(ctx context.Context, judgeID string, since time.Time, cursor string, pageSize int) (*courtlistener.DecisionPage, error)
	ListDockets(ctx context.Context, judgeID string, since time.Time, cursor string, pageSize int) (*courtlistener.DecisionPage, error)
}

var _ CourtListenerAPI = (*courtlistener.Client)(nil)

// CourtStore persists court directory rows.
type CourtStore interface {
	Upsert(ctx context.Context, court *models.Court) error
}

// JudgeStore persists judge directory rows.
type JudgeStore interface {
	Upsert(ctx context.Context, judge *models.Judge) error
	ListStale(ctx context.Context, limit int) ([]*models.Judge, error)
}

// ProgressSink records per-judge sync completeness.
type ProgressSink interface {
	Get(ctx context.Context, entityID string) (*models.SyncProgress, error)
	Upsert(ctx context.Context, entityID string, update *models.ProgressUpdate) error
	RecordError(ctx context.Context, entityID string, err error) error
}

// DecisionSink archives fetched decisions.
type DecisionSink interface {
	BatchInsert(ctx context.Context, decisions []*models.Decision) error
	CountByJudge(ctx context.Context, judgeID string) (opinions, dockets uint64, err error)
	PruneFetchedBefore(ctx context.Context, cutoff time.Time) error
}

var (
	_ CourtStore   = (*storage.CourtRepository)(nil)
	_ JudgeStore   = (*storage.JudgeRepository)(nil)
	_ ProgressSink = (*progress.Tracker)(nil)
	_ DecisionSink = (*storage.DecisionArchive)(nil)
)

// Handlers bundles the dependencies shared by the four job handlers.
type Handlers struct {
	client   CourtListenerAPI
	courts   CourtStore
	judges   JudgeStore
	progress ProgressSink
	archive  DecisionSink
	queue    *queue.JobQueue
}

// NewHandlers creates the handler set and registers it on the worker.
func NewHandlers(client CourtListenerAPI, courts CourtStore, judges JudgeStore, sink ProgressSink, archive DecisionSink, q *queue.JobQueue) *Handlers {
	return &Handlers{
		client:   client,
		courts:   courts,
		judges:   judges,
		progress: sink,
		archive:  archive,
		queue:    q,
	}
}

// RegisterAll installs every handler on the worker.
func (h *Handlers) RegisterAll(w *SyncWorker) {
	w.Register(models.JobTypeCourt, h.HandleCourtSync)
	w.Register(models.JobTypeJudge, h.HandleJudgeSync)
	w.Register(models.JobTypeDecision, h.HandleDecisionSync)
	w.Register(models.JobTypeCleanup, h.HandleCleanup)
}

// fatal reports whether an item failure should abort the whole batch.
// Rate-limit and circuit-open failures would fail every remaining item the
// same way, so the job requeues instead, carrying the retry hint; progress
// already persisted per item is not lost.
func fatal(err error) bool {
	switch syncerrors.KindOf(err) {
	case syncerrors.KindRateLimit, syncerrors.KindCircuitOpen:
		return true
	}
	return false
}

// HandleCourtSync pages through the court directory and upserts every row.
func (h *Handlers) HandleCourtSync(ctx context.Context, job *models.SyncJob) (*models.JobResult, error) {
	decoded, err := models.DecodeOptions(job.Type, job.Options)
	if err != nil {
		return nil, syncerrors.NewPermanent("failed to decode court sync options", err)
	}
	opts := decoded.(models.CourtSyncOptions)
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultCourtBatchSize
	}

	result := &models.JobResult{}
	cursor := ""
	for result.Processed < opts.BatchSize {
		page, err := h.client.ListCourts(ctx, opts.Jurisdiction, cursor, opts.BatchSize-result.Processed)
		if err != nil {
			if result.Processed == 0 || fatal(err) {
				return nil, err
			}
			// Mid-batch transient failure: keep what we have.
			result.AddItemError("", "courts", err)
			break
		}

		for _, court := range page.Courts {
			result.Processed++
			if err := h.courts.Upsert(ctx, court); err != nil {
				result.AddItemError(court.ID, "courts", syncerrors.NewPersistence("court upsert", err))
				continue
			}
			result.Updated++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Printf("[SyncWorker] Court sync: %d processed, %d updated, %d errored",
		result.Processed, result.Updated, result.Errored)
	return result, nil
}

// HandleJudgeSync discovers or refreshes judges and syncs their positions,
// education, and political affiliation phases.
func (h *Handlers) HandleJudgeSync(ctx context.Context, job *models.SyncJob) (*models.JobResult, error) {
	decoded, err := models.DecodeOptions(job.Type, job.Options)
	if err != nil {
		return nil, syncerrors.NewPermanent("failed to decode judge sync options", err)
	}
	opts := decoded.(models.JudgeSyncOptions)
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultJudgeBatchSize
	}

	batch, err := h.judgeBatch(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &models.JobResult{}
	for _, judge := range batch {
		result.Processed++
		if err := h.syncJudge(ctx, judge, opts.ForceRefresh); err != nil {
			if fatal(err) {
				return nil, err
			}
			if recordErr := h.progress.RecordError(ctx, judge.ID, err); recordErr != nil {
				log.Printf("[SyncWorker] Failed to record sync error for judge %s: %v", judge.ID, recordErr)
			}
			result.AddItemError(judge.ID, "details", err)
			continue
		}
		result.Updated++
	}

	log.Printf("[SyncWorker] Judge sync: %d processed, %d updated, %d errored",
		result.Processed, result.Updated, result.Errored)
	return result, nil
}

// judgeBatch selects the judges this job works on: fresh discovery from the
// upstream directory when DiscoverLimit is set, otherwise the stalest known
// judges.
func (h *Handlers) judgeBatch(ctx context.Context, opts models.JudgeSyncOptions) ([]*models.Judge, error) {
	if opts.DiscoverLimit <= 0 {
		return h.judges.ListStale(ctx, opts.BatchSize)
	}

	limit := opts.DiscoverLimit
	if limit > opts.BatchSize {
		limit = opts.BatchSize
	}

	var batch []*models.Judge
	cursor := ""
	for len(batch) < limit {
		page, err := h.client.ListJudges(ctx, cursor, limit-len(batch))
		if err != nil {
			return nil, err
		}
		for _, judge := range page.Judges {
			if err := h.judges.Upsert(ctx, judge); err != nil {
				return nil, syncerrors.NewPersistence("judge upsert", err)
			}
			batch = append(batch, judge)
			if len(batch) == limit {
				break
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return batch, nil
}

// syncJudge fetches the three detail phases for one judge, persisting each
// phase as soon as it lands so a later failure loses nothing already done.
func (h *Handlers) syncJudge(ctx context.Context, judge *models.Judge, forceRefresh bool) error {
	if forceRefresh {
		reset := &models.ProgressUpdate{
			HasPositions:             models.BoolPtr(false),
			HasEducation:             models.BoolPtr(false),
			HasPoliticalAffiliations: models.BoolPtr(false),
			ForceReset:               true,
		}
		if err := h.progress.Upsert(ctx, judge.ID, reset); err != nil {
			return syncerrors.NewPersistence("progress reset", err)
		}
	}

	positions, err := h.client.ListPositions(ctx, judge.ID)
	if err != nil {
		return err
	}
	now := time.Now()
	update := &models.ProgressUpdate{
		HasPositions:      models.BoolPtr(true),
		PositionsSyncedAt: models.TimePtr(now),
	}
	if err := h.progress.Upsert(ctx, judge.ID, update); err != nil {
		return syncerrors.NewPersistence("progress update", err)
	}

	// The primary court assignment comes from the most recent position.
	if len(positions) > 0 && positions[len(positions)-1].Court != "" {
		court := positions[len(positions)-1].Court
		judge.CourtID = &court
		if err := h.judges.Upsert(ctx, judge); err != nil {
			return syncerrors.NewPersistence("judge upsert", err)
		}
	}

	// Education and affiliation payloads are not persisted; the record
	// tracks completion markers only, so each fetch is the success check
	// that gates marking its phase done.
	if _, err := h.client.ListEducations(ctx, judge.ID); err != nil {
		return err
	}
	update = &models.ProgressUpdate{
		HasEducation:      models.BoolPtr(true),
		EducationSyncedAt: models.TimePtr(time.Now()),
	}
	if err := h.progress.Upsert(ctx, judge.ID, update); err != nil {
		return syncerrors.NewPersistence("progress update", err)
	}

	if _, err := h.client.ListPoliticalAffiliations(ctx, judge.ID); err != nil {
		return err
	}
	update = &models.ProgressUpdate{
		HasPoliticalAffiliations: models.BoolPtr(true),
		AffiliationsSyncedAt:     models.TimePtr(time.Now()),
	}
	return h.progress.Upsert(ctx, judge.ID, update)
}

// HandleDecisionSync fetches recent opinions and dockets per judge, archives
// them, and refreshes the per-judge case counts.
func (h *Handlers) HandleDecisionSync(ctx context.Context, job *models.SyncJob) (*models.JobResult, error) {
	decoded, err := models.DecodeOptions(job.Type, job.Options)
	if err != nil {
		return nil, syncerrors.NewPermanent("failed to decode decision sync options", err)
	}
	opts := decoded.(models.DecisionSyncOptions)
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultDecisionBatchSize
	}
	if opts.MaxDecisionsPerJudge <= 0 {
		opts.MaxDecisionsPerJudge = DefaultMaxDecisionsPerJudge
	}

	var since time.Time
	if opts.DaysSinceLast > 0 && !opts.ForceRefresh {
		since = time.Now().AddDate(0, 0, -opts.DaysSinceLast)
	}

	judges, err := h.judges.ListStale(ctx, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &models.JobResult{}
	for _, judge := range judges {
		result.Processed++
		if err := h.syncDecisions(ctx, judge.ID, since, opts.MaxDecisionsPerJudge); err != nil {
			if fatal(err) {
				return nil, err
			}
			if recordErr := h.progress.RecordError(ctx, judge.ID, err); recordErr != nil {
				log.Printf("[SyncWorker] Failed to record sync error for judge %s: %v", judge.ID, recordErr)
			}
			result.AddItemError(judge.ID, "decisions", err)
			continue
		}
		result.Updated++
	}

	log.Printf("[SyncWorker] Decision sync: %d processed, %d updated, %d errored",
		result.Processed, result.Updated, result.Errored)
	return result, nil
}

func (h *Handlers) syncDecisions(ctx context.Context, judgeID string, since time.Time, limit int) error {
	fetched, err := h.fetchDecisions(ctx, judgeID, since, limit, h.client.ListOpinions)
	if err != nil {
		return err
	}
	dockets, err := h.fetchDecisions(ctx, judgeID, since, limit, h.client.ListDockets)
	if err != nil {
		return err
	}
	fetched = append(fetched, dockets...)

	if len(fetched) > 0 {
		if err := h.archive.BatchInsert(ctx, fetched); err != nil {
			return syncerrors.NewPersistence("decision archive insert", err)
		}
	}

	opinions, docketCount, err := h.archive.CountByJudge(ctx, judgeID)
	if err != nil {
		return syncerrors.NewPersistence("decision count", err)
	}

	now := time.Now()
	update := &models.ProgressUpdate{
		OpinionsCount:    models.IntPtr(int(opinions)),
		DocketsCount:     models.IntPtr(int(docketCount)),
		TotalCasesCount:  models.IntPtr(int(opinions + docketCount)),
		OpinionsSyncedAt: models.TimePtr(now),
		DocketsSyncedAt:  models.TimePtr(now),
	}
	if err := h.progress.Upsert(ctx, judgeID, update); err != nil {
		return syncerrors.NewPersistence("progress update", err)
	}
	return nil
}

type decisionLister func(ctx context.Context, judgeID string, since time.Time, cursor string, pageSize int) (*courtlistener.DecisionPage, error)

func (h *Handlers) fetchDecisions(ctx context.Context, judgeID string, since time.Time, limit int, list decisionLister) ([]*models.Decision, error) {
	var out []*models.Decision
	cursor := ""
	for len(out) < limit {
		page, err := list(ctx, judgeID, since, cursor, limit-len(out))
		if err != nil {
			return nil, err
		}
		for _, d := range page.Decisions {
			out = append(out, d)
			if len(out) == limit {
				break
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// HandleCleanup deletes terminal jobs past retention and optionally prunes
// the decision archive.
func (h *Handlers) HandleCleanup(ctx context.Context, job *models.SyncJob) (*models.JobResult, error) {
	decoded, err := models.DecodeOptions(job.Type, job.Options)
	if err != nil {
		return nil, syncerrors.NewPermanent("failed to decode cleanup options", err)
	}
	opts := decoded.(models.CleanupOptions)
	if opts.OlderThanDays <= 0 {
		opts.OlderThanDays = DefaultCleanupOlderThanDays
	}

	cutoff := time.Now().AddDate(0, 0, -opts.OlderThanDays)

	deleted, err := h.queue.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	result := &models.JobResult{Processed: int(deleted), Updated: int(deleted)}

	if opts.CleanupLogs {
		if err := h.archive.PruneFetchedBefore(ctx, cutoff); err != nil {
			result.AddItemError("", "archive", syncerrors.NewPersistence("archive prune", err))
		}
	}

	log.Printf("[SyncWorker] Cleanup: removed %d terminal jobs older than %d days",
		deleted, opts.OlderThanDays)
	return result, nil
}
