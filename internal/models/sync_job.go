// Package models defines the persisted record types shared across the sync pipeline.
package models

import (
	"encoding/json"
	"time"
)

// JobType identifies which handler a sync job is dispatched to.
type JobType string

const (
	JobTypeCourt    JobType = "court"
	JobTypeJudge    JobType = "judge"
	JobTypeDecision JobType = "decision"
	JobTypeCleanup  JobType = "cleanup"
)

// ValidJobType reports whether t is a member of the closed job type set.
func ValidJobType(t JobType) bool {
	switch t {
	case JobTypeCourt, JobTypeJudge, JobTypeDecision, JobTypeCleanup:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Priority conventions used by producers when enqueueing jobs.
const (
	PriorityImmediate = 200
	PriorityHigh      = 150
	PriorityElevated  = 140
	PriorityMedium    = 100
	PriorityLow       = 10
)

// SyncJob is one unit of synchronization work. A job is created pending,
// claimed by exactly one worker (pending -> running), and ends completed or
// failed. Completed jobs are retained for audit; cleanup is itself a job type.
type SyncJob struct {
	ID           string          `json:"id"`
	Type         JobType         `json:"type"`
	Status       JobStatus       `json:"status"`
	Options      json.RawMessage `json:"options"`
	Priority     int             `json:"priority"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ClaimedBy    *string         `json:"claimedBy,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsTerminal reports whether the job can no longer transition.
func (j *SyncJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobResult is the structured outcome payload stored on completion.
// Item-level errors inside a successful batch are recorded here rather than
// failing the job; partial success is a first-class outcome.
type JobResult struct {
	Processed  int         `json:"processed"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Errored    int         `json:"errored"`
	Retries    int         `json:"retries,omitempty"`
	DurationMs int64       `json:"durationMs"`
	ItemErrors []ItemError `json:"itemErrors,omitempty"`
}

// ItemError records a single failed item within a batch.
type ItemError struct {
	EntityID string `json:"entityId"`
	Phase    string `json:"phase,omitempty"`
	Message  string `json:"message"`
}

// AddItemError appends an item-level failure and bumps the errored count.
func (r *JobResult) AddItemError(entityID, phase string, err error) {
	r.Errored++
	r.ItemErrors = append(r.ItemErrors, ItemError{
		EntityID: entityID,
		Phase:    phase,
		Message:  err.Error(),
	})
}

// QueueStats summarizes job counts per status for operational tooling.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Eligible  int64 `json:"eligible"`
}
