package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/judicial-sync/internal/models"
)

// handleCreateJob handles POST /api/v1/sync/jobs - Enqueue a sync job
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type         models.JobType  `json:"type"`
		Options      json.RawMessage `json:"options,omitempty"`
		Priority     int             `json:"priority,omitempty"`
		ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if !models.ValidJobType(req.Type) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid job type", map[string]interface{}{
			"type": req.Type,
		})
		return
	}

	opts, err := models.DecodeOptions(req.Type, req.Options)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid job options", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	scheduledFor := time.Now()
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	job, err := s.jobs.AddJob(r.Context(), req.Type, opts, req.Priority, scheduledFor)
	if err != nil {
		log.Printf("CreateJob error: %v", err)
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// handleGetJob handles GET /api/v1/sync/jobs/{id} - Fetch one job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleListJobs handles GET /api/v1/sync/jobs?status=&limit= - List jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobStatusPending
	}
	switch status {
	case models.JobStatusPending, models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid status value", map[string]interface{}{
			"status": status,
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid limit value", nil)
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		log.Printf("ListJobs error: %v", err)
		statusCode, code, message := mapSyncError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
