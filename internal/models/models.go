package models

import "time"

// Dataset identifies one of the tracked activity feeds.
type Dataset string

const (
	DatasetJumps Dataset = "jumps"
	DatasetKills Dataset = "kills"
)

// Datasets lists every tracked dataset in a stable order.
var Datasets = []Dataset{DatasetJumps, DatasetKills}

// Path returns the ESI resource path for the dataset.
func (d Dataset) Path() string {
	switch d {
	case DatasetJumps:
		return "universe/system_jumps"
	case DatasetKills:
		return "universe/system_kills"
	}
	return ""
}

// Table returns the warehouse table name for the dataset.
func (d Dataset) Table() string {
	switch d {
	case DatasetJumps:
		return "system_jumps"
	case DatasetKills:
		return "system_kills"
	}
	return ""
}

// EndpointState is the durable per-dataset record of the last observation.
// Zero-value fields mean "never observed".
type EndpointState struct {
	EndpointID        string     `json:"endpoint_id"`
	Validator         string     `json:"validator,omitempty"`
	LastModified      *time.Time `json:"last_modified,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	NextEligibleRunAt *time.Time `json:"next_eligible_run_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// OutcomeStatus classifies a single dataset fetch.
type OutcomeStatus int

const (
	OutcomeFresh OutcomeStatus = iota
	OutcomeNotModified
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeFresh:
		return "fresh"
	case OutcomeNotModified:
		return "not_modified"
	}
	return "failed"
}

// FetchOutcome is the ephemeral result of one conditional fetch.
// Body is populated if and only if Status is OutcomeFresh.
type FetchOutcome struct {
	Dataset      Dataset
	Status       OutcomeStatus
	Validator    string
	LastModified *time.Time
	ExpiresAt    *time.Time
	Body         []map[string]any
}

// IngestDecision is the joint decision computed once per run from the
// pair of fetch outcomes.
type IngestDecision struct {
	ShouldIngest      bool
	NextEligibleRunAt time.Time
}

// JumpRecord is one warehouse row for the jumps dataset.
type JumpRecord struct {
	SnapshotTimestamp time.Time `json:"snapshot_timestamp"`
	SystemID          int64     `json:"system_id"`
	ShipJumps         *int64    `json:"ship_jumps,omitempty"`
}

// KillRecord is one warehouse row for the kills dataset.
type KillRecord struct {
	SnapshotTimestamp time.Time `json:"snapshot_timestamp"`
	SystemID          int64     `json:"system_id"`
	ShipKills         *int64    `json:"ship_kills,omitempty"`
	NPCKills          *int64    `json:"npc_kills,omitempty"`
	PodKills          *int64    `json:"pod_kills,omitempty"`
}

// RunResult reports how a gate cycle concluded.
type RunResult int

const (
	RunSkipped RunResult = iota
	RunIngested
	RunNoChange
	RunFailed
)

func (r RunResult) String() string {
	switch r {
	case RunSkipped:
		return "skipped"
	case RunIngested:
		return "ingested"
	case RunNoChange:
		return "no_change"
	}
	return "failed"
}
