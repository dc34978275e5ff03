// Package api provides the HTTP control plane for the sync pipeline.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/judicial-sync/internal/circuitbreaker"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/queue"
	"github.com/judicial-sync/internal/ratelimit"
	"github.com/judicial-sync/internal/telemetry"
)

// Service interfaces for dependency injection and testing

// JobService defines the queue operations the API exposes.
type JobService interface {
	AddJob(ctx context.Context, jobType models.JobType, options any, priority int, scheduledFor time.Time) (*models.SyncJob, error)
	GetJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.SyncJob, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// QuotaService defines the upstream quota operations the API exposes.
type QuotaService interface {
	GetUsageStats(ctx context.Context) (*ratelimit.UsageStats, error)
	ResetWindow(ctx context.Context) error
}

// BreakerService exposes circuit breaker observability.
type BreakerService interface {
	GetStats() circuitbreaker.Stats
}

var (
	_ JobService     = (*queue.JobQueue)(nil)
	_ QuotaService   = (*ratelimit.QuotaTracker)(nil)
	_ BreakerService = (*circuitbreaker.CircuitBreaker)(nil)
)

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobService
	quota      QuotaService
	breaker    BreakerService
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // Per-client API rate limit
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, jobs JobService, quota QuotaService, breaker BreakerService) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		jobs:    jobs,
		quota:   quota,
		breaker: breaker,
		config:  config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rps := s.config.RequestsPerSec
	if rps <= 0 {
		rps = 20
	}
	rateLimiter := NewRateLimiter(rps)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check and metrics endpoints
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", telemetry.Handler()).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/sync/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/sync/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/sync/jobs/{id}", s.handleGetJob).Methods("GET")

	// Pipeline observability endpoints
	api.HandleFunc("/sync/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/sync/rate-limit", s.handleRateLimitUsage).Methods("GET")
	api.HandleFunc("/sync/rate-limit/reset", s.handleRateLimitReset).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "judicial-sync",
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
