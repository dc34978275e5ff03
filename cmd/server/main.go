// Package main provides the API server entry point for the judicial sync
// pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/judicial-sync/internal/api"
	"github.com/judicial-sync/internal/circuitbreaker"
	"github.com/judicial-sync/internal/config"
	"github.com/judicial-sync/internal/logging"
	"github.com/judicial-sync/internal/queue"
	"github.com/judicial-sync/internal/ratelimit"
	"github.com/judicial-sync/internal/retry"
	"github.com/judicial-sync/internal/storage"
)

func main() {
	fmt.Println("Judicial Sync API Server")
	log.Println("Server starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()
	logger.WithFields(map[string]any{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisStore.Close()

	logger.Info("Database connections established")

	jobRepo := storage.NewJobRepository(postgres)

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

	quotaTracker, err := ratelimit.NewQuotaTracker(&ratelimit.QuotaTrackerConfig{
		Redis:       redisStore.Client(),
		HourlyQuota: cfg.CourtListener.HourlyQuota,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create quota tracker")
	}

	// The server never calls the upstream API itself; this breaker exists so
	// the stats endpoint reports the configured thresholds.
	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:             "courtlistener",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  int(cfg.Server.RequestsPerSecond),
	}

	server := api.NewServer(serverConfig, jobQueue, quotaTracker, breaker)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]any{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
