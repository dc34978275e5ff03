package models

import (
	"encoding/json"
	"fmt"
)

// Job options form a tagged union: the job's Type field is the discriminant
// and each handler only accepts the shape it understands. The queue itself
// treats options as opaque JSON.

// CourtSyncOptions parameterizes a court directory sync.
type CourtSyncOptions struct {
	BatchSize    int    `json:"batchSize,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// JudgeSyncOptions parameterizes a judge sync. ForceRefresh is the only way
// a completed phase may be reset for an entity.
type JudgeSyncOptions struct {
	BatchSize     int    `json:"batchSize,omitempty"`
	Jurisdiction  string `json:"jurisdiction,omitempty"`
	ForceRefresh  bool   `json:"forceRefresh,omitempty"`
	DiscoverLimit int    `json:"discoverLimit,omitempty"`
}

// DecisionSyncOptions parameterizes an opinion/docket sync.
type DecisionSyncOptions struct {
	BatchSize            int  `json:"batchSize,omitempty"`
	DaysSinceLast        int  `json:"daysSinceLast,omitempty"`
	MaxDecisionsPerJudge int  `json:"maxDecisionsPerJudge,omitempty"`
	ForceRefresh         bool `json:"forceRefresh,omitempty"`
}

// CleanupOptions parameterizes retention cleanup of old job records.
type CleanupOptions struct {
	OlderThanDays int  `json:"olderThanDays,omitempty"`
	CleanupLogs   bool `json:"cleanupLogs,omitempty"`
}

// DecodeOptions unmarshals raw job options into the typed shape for the given
// job type. Empty raw options decode to the zero value (handlers apply their
// own defaults).
func DecodeOptions(jobType JobType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var (
		out any
		err error
	)
	switch jobType {
	case JobTypeCourt:
		var o CourtSyncOptions
		err = json.Unmarshal(raw, &o)
		out = o
	case JobTypeJudge:
		var o JudgeSyncOptions
		err = json.Unmarshal(raw, &o)
		out = o
	case JobTypeDecision:
		var o DecisionSyncOptions
		err = json.Unmarshal(raw, &o)
		out = o
	case JobTypeCleanup:
		var o CleanupOptions
		err = json.Unmarshal(raw, &o)
		out = o
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	if err != nil {
		return nil, fmt.Errorf("malformed options for %s job: %w", jobType, err)
	}
	return out, nil
}

// EncodeOptions marshals typed options for persistence, validating that the
// value matches the job type's expected shape.
func EncodeOptions(jobType JobType, opts any) (json.RawMessage, error) {
	if opts == nil {
		return json.RawMessage("{}"), nil
	}

	ok := false
	switch jobType {
	case JobTypeCourt:
		_, ok = opts.(CourtSyncOptions)
	case JobTypeJudge:
		_, ok = opts.(JudgeSyncOptions)
	case JobTypeDecision:
		_, ok = opts.(DecisionSyncOptions)
	case JobTypeCleanup:
		_, ok = opts.(CleanupOptions)
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}
	if !ok {
		return nil, fmt.Errorf("options %T do not match job type %s", opts, jobType)
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	return raw, nil
}
