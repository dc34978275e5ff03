// Package worker runs the sync job processing loop.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/queue"
)

// Handler processes one claimed job and returns its result. A returned error
// is a job-level failure routed through the retry policy; item-level
// failures belong inside the result.
type Handler func(ctx context.Context, job *models.SyncJob) (*models.JobResult, error)

// SyncWorker claims jobs from the queue and dispatches them to registered
// handlers. One claimed job is never dropped: an unknown type fails the job
// through the normal path so the failure is visible in the job record.
type SyncWorker struct {
	workerID     string
	queue        *queue.JobQueue
	handlers     map[models.JobType]Handler
	pollInterval time.Duration
	reclaimEvery int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SyncWorkerConfig holds configuration for a sync worker.
type SyncWorkerConfig struct {
	WorkerID string
	Queue    *queue.JobQueue

	// PollInterval is how long the worker sleeps when the queue is empty.
	// Default: 5s.
	PollInterval time.Duration

	// ReclaimEvery is the number of poll cycles between stale-job reclaim
	// sweeps. Default: 12.
	ReclaimEvery int
}

// NewSyncWorker creates a sync worker.
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("job queue cannot be nil")
	}
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("worker ID cannot be empty")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	reclaimEvery := cfg.ReclaimEvery
	if reclaimEvery <= 0 {
		reclaimEvery = 12
	}

	return &SyncWorker{
		workerID:     cfg.WorkerID,
		queue:        cfg.Queue,
		handlers:     make(map[models.JobType]Handler),
		pollInterval: pollInterval,
		reclaimEvery: reclaimEvery,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Register installs the handler for a job type. Not safe to call after
// Start.
func (w *SyncWorker) Register(jobType models.JobType, handler Handler) {
	w.handlers[jobType] = handler
}

// Start begins the processing loop in a goroutine.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker %s is already running", w.workerID)
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[SyncWorker] %s starting with poll interval %v", w.workerID, w.pollInterval)

	go w.loop(ctx)
	return nil
}

// Stop gracefully stops the worker, waiting for the in-flight job.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker %s is not running", w.workerID)
	}
	w.mu.Unlock()

	log.Printf("[SyncWorker] %s stopping", w.workerID)
	close(w.stopCh)

	select {
	case <-w.doneCh:
		log.Printf("[SyncWorker] %s stopped gracefully", w.workerID)
	case <-ctx.Done():
		log.Printf("[SyncWorker] %s stop timed out", w.workerID)
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *SyncWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("[SyncWorker] %s: context cancelled", w.workerID)
			return
		case <-w.stopCh:
			return
		default:
		}

		cycles++
		if cycles%w.reclaimEvery == 0 {
			if _, err := w.queue.ReclaimStale(ctx); err != nil {
				log.Printf("[SyncWorker] %s: reclaim error: %v", w.workerID, err)
			}
		}

		job, err := w.queue.ClaimNextJob(ctx, w.workerID)
		if err != nil {
			log.Printf("[SyncWorker] %s: claim error: %v", w.workerID, err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		w.process(ctx, job)
	}
}

// ProcessOne claims and processes at most one job. Returns the claimed job,
// nil when the queue was empty. Used by tests and one-shot invocations.
func (w *SyncWorker) ProcessOne(ctx context.Context) (*models.SyncJob, error) {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	w.process(ctx, job)
	return job, nil
}

func (w *SyncWorker) process(ctx context.Context, job *models.SyncJob) {
	log.Printf("[SyncWorker] %s processing job %s (type=%s, attempt=%d)",
		w.workerID, job.ID, job.Type, job.RetryCount+1)

	handler, ok := w.handlers[job.Type]
	if !ok {
		// Should not happen: the queue validates types at enqueue. Fail the
		// job rather than leaving it running forever.
		err := syncerrors.NewPermanent(fmt.Sprintf("no handler registered for job type %q", job.Type), nil)
		if failErr := w.queue.FailJob(ctx, job, err); failErr != nil {
			log.Printf("[SyncWorker] %s: failed to fail job %s: %v", w.workerID, job.ID, failErr)
		}
		return
	}

	start := time.Now()
	result, err := handler(ctx, job)
	if err != nil {
		if failErr := w.queue.FailJob(ctx, job, err); failErr != nil {
			log.Printf("[SyncWorker] %s: failed to fail job %s: %v", w.workerID, job.ID, failErr)
		}
		return
	}

	if result == nil {
		result = &models.JobResult{}
	}
	result.Retries = job.RetryCount
	result.DurationMs = time.Since(start).Milliseconds()

	if err := w.queue.CompleteJob(ctx, job, result); err != nil {
		log.Printf("[SyncWorker] %s: failed to complete job %s: %v", w.workerID, job.ID, err)
	}
}

func (w *SyncWorker) sleep(ctx context.Context) {
	select {
	case <-time.After(w.pollInterval):
	case <-ctx.Done():
	case <-w.stopCh:
	}
}
