// Package main provides the sync worker entry point for the judicial sync
// pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/judicial-sync/internal/circuitbreaker"
	"github.com/judicial-sync/internal/config"
	"github.com/judicial-sync/internal/courtlistener"
	"github.com/judicial-sync/internal/logging"
	"github.com/judicial-sync/internal/progress"
	"github.com/judicial-sync/internal/queue"
	"github.com/judicial-sync/internal/ratelimit"
	"github.com/judicial-sync/internal/retry"
	"github.com/judicial-sync/internal/storage"
	"github.com/judicial-sync/internal/worker"
)

func main() {
	fmt.Println("Judicial Sync Worker")
	log.Println("Worker starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisStore.Close()

	logger.Info("Database connections established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := clickhouse.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure ClickHouse schema")
	}

	// Repositories
	jobRepo := storage.NewJobRepository(postgres)
	courtRepo := storage.NewCourtRepository(postgres)
	judgeRepo := storage.NewJudgeRepository(postgres)
	progressRepo := storage.NewProgressRepository(postgres)
	archive := storage.NewDecisionArchive(clickhouse)

	// Upstream protection: quota tracker and circuit breaker shared by every
	// CourtListener call this process makes.
	quotaTracker, err := ratelimit.NewQuotaTracker(&ratelimit.QuotaTrackerConfig{
		Redis:       redisStore.Client(),
		HourlyQuota: cfg.CourtListener.HourlyQuota,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create quota tracker")
	}

	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:             "courtlistener",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	client, err := courtlistener.NewClient(&courtlistener.ClientConfig{
		BaseURL: cfg.CourtListener.BaseURL,
		Token:   cfg.CourtListener.Token,
		Timeout: cfg.CourtListener.Timeout,
		Limiter: quotaTracker,
		Breaker: breaker,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create CourtListener client")
	}

	policy := retry.NewPolicy(
		cfg.Queue.DefaultMaxRetries,
		cfg.Retry.BaseDelay,
		cfg.Retry.MaxDelay,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)

	jobQueue, err := queue.NewJobQueue(&queue.Config{
		Store:             jobRepo,
		Policy:            policy,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		StaleRunningAfter: cfg.Queue.StaleRunningAfter,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create job queue")
	}

	tracker := progress.NewTracker(progressRepo, cfg.Progress.AnalysisThreshold)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())
	}

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		WorkerID:     workerID,
		Queue:        jobQueue,
		PollInterval: cfg.Worker.PollInterval,
		ReclaimEvery: cfg.Worker.ReclaimEvery,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	worker.NewHandlers(client, courtRepo, judgeRepo, tracker, archive, jobQueue).RegisterAll(syncWorker)

	if err := syncWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync worker")
	}
	logger.WithFields(map[string]any{"workerId": workerID}).Info("Sync worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := syncWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Worker did not stop cleanly")
	}

	logger.Info("Worker exited")
}
