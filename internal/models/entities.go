package models

import "time"

// Court is a court directory record maintained by the court handler.
type Court struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Jurisdiction string     `json:"jurisdiction"`
	URL          string     `json:"url,omitempty"`
	InUse        bool       `json:"inUse"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Judge is a judge directory record. EntityID in SyncProgress refers to
// Judge.ID.
type Judge struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CourtID      *string    `json:"courtId,omitempty"`
	DateCreated  *time.Time `json:"dateCreated,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// DecisionKind distinguishes archived decision rows.
type DecisionKind string

const (
	DecisionOpinion DecisionKind = "opinion"
	DecisionDocket  DecisionKind = "docket"
)

// Decision is one archived opinion or docket row for a judge. Decisions are
// append-only, high volume, and queried only in aggregate (per-judge counts).
type Decision struct {
	JudgeID   string       `json:"judgeId"`
	SourceID  string       `json:"sourceId"`
	Kind      DecisionKind `json:"kind"`
	CourtID   string       `json:"courtId,omitempty"`
	DateFiled *time.Time   `json:"dateFiled,omitempty"`
	FetchedAt time.Time    `json:"fetchedAt"`
}
