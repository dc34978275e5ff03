package api

import (
	"log"
	"net/http"

	"github.com/judicial-sync/internal/circuitbreaker"
	"github.com/judicial-sync/internal/models"
	"github.com/judicial-sync/internal/ratelimit"
)

// PipelineStats aggregates the health of the whole sync pipeline.
type PipelineStats struct {
	Queue   *models.QueueStats    `json:"queue"`
	Quota   *ratelimit.UsageStats `json:"quota"`
	Breaker circuitbreaker.Stats  `json:"breaker"`
}

// handleStats handles GET /api/v1/sync/stats - Pipeline overview
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	queueStats, err := s.jobs.Stats(r.Context())
	if err != nil {
		log.Printf("Stats error: %v", err)
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	// Quota stats are best-effort: a Redis outage should not blank out the
	// queue view.
	quotaStats, err := s.quota.GetUsageStats(r.Context())
	if err != nil {
		log.Printf("Quota stats error: %v", err)
		quotaStats = nil
	}

	respondJSON(w, http.StatusOK, &PipelineStats{
		Queue:   queueStats,
		Quota:   quotaStats,
		Breaker: s.breaker.GetStats(),
	})
}

// handleRateLimitUsage handles GET /api/v1/sync/rate-limit - Quota window usage
func (s *Server) handleRateLimitUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.quota.GetUsageStats(r.Context())
	if err != nil {
		log.Printf("Quota stats error: %v", err)
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleRateLimitReset handles POST /api/v1/sync/rate-limit/reset - Clear the
// current quota window. Operational escape hatch, not part of normal flow.
func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if err := s.quota.ResetWindow(r.Context()); err != nil {
		log.Printf("Quota reset error: %v", err)
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
