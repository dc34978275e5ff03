package models

import "time"

// SyncPhase is one ordered stage of per-judge completeness. The displayed
// phase is derived from the record fields; phases cannot be skipped even
// though the underlying fields may be populated out of order by different
// job types.
type SyncPhase string

const (
	PhaseDiscovery SyncPhase = "discovery"
	PhasePositions SyncPhase = "positions"
	PhaseDetails   SyncPhase = "details"
	PhaseOpinions  SyncPhase = "opinions"
	PhaseDockets   SyncPhase = "dockets"
	PhaseComplete  SyncPhase = "complete"
)

// SyncProgress tracks multi-phase completion for a single judge. Created
// lazily on first sync, updated incrementally forever; there is no deletion
// path in normal operation.
//
// Phase booleans are monotonic: once set, a later partial update that omits
// the field leaves it set. Only an explicit force refresh resets one.
type SyncProgress struct {
	EntityID                 string     `json:"entityId"`
	HasPositions             bool       `json:"hasPositions"`
	HasEducation             bool       `json:"hasEducation"`
	HasPoliticalAffiliations bool       `json:"hasPoliticalAffiliations"`
	OpinionsCount            int        `json:"opinionsCount"`
	DocketsCount             int        `json:"docketsCount"`
	TotalCasesCount          int        `json:"totalCasesCount"`
	ErrorCount               int        `json:"errorCount"`
	LastError                *string    `json:"lastError,omitempty"`
	LastSyncedAt             *time.Time `json:"lastSyncedAt,omitempty"`
	PositionsSyncedAt        *time.Time `json:"positionsSyncedAt,omitempty"`
	EducationSyncedAt        *time.Time `json:"educationSyncedAt,omitempty"`
	AffiliationsSyncedAt     *time.Time `json:"affiliationsSyncedAt,omitempty"`
	OpinionsSyncedAt         *time.Time `json:"opinionsSyncedAt,omitempty"`
	DocketsSyncedAt          *time.Time `json:"docketsSyncedAt,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// ProgressUpdate is a partial update merged by field presence: nil fields are
// untouched in the stored record, which is what makes concurrent partial
// updates from different job types safe without per-entity locking.
type ProgressUpdate struct {
	HasPositions             *bool
	HasEducation             *bool
	HasPoliticalAffiliations *bool
	OpinionsCount            *int
	DocketsCount             *int
	TotalCasesCount          *int
	LastError                *string
	PositionsSyncedAt        *time.Time
	EducationSyncedAt        *time.Time
	AffiliationsSyncedAt     *time.Time
	OpinionsSyncedAt         *time.Time
	DocketsSyncedAt          *time.Time

	// ForceReset permits clearing phase booleans. Without it, false values
	// are dropped so the monotonic invariant holds.
	ForceReset bool
}

// BoolPtr returns a pointer to b for building partial updates.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to i for building partial updates.
func IntPtr(i int) *int { return &i }

// StringPtr returns a pointer to s for building partial updates.
func StringPtr(s string) *string { return &s }

// TimePtr returns a pointer to t for building partial updates.
func TimePtr(t time.Time) *time.Time { return &t }
