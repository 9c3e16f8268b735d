package domain

import "time"

// CycleKind distinguishes the one-off bootstrap from steady cycles.
type CycleKind string

const (
	CycleKindBootstrap CycleKind = "bootstrap"
	CycleKindSteady    CycleKind = "cycle"
)

// Cycle statuses.
const (
	CycleStatusSuccess = "success" // every call applied
	CycleStatusPartial = "partial" // at least one create or revoke failed
	CycleStatusSkipped = "skipped" // remote list unavailable, nothing applied
)

// Event actions.
const (
	ActionCreate = "create"
	ActionRevoke = "revoke"
	ActionAdopt  = "adopt"
	ActionHeal   = "heal"
)

// CycleReport records what one reconciliation pass observed and did.
type CycleReport struct {
	ID         string     `json:"id" db:"id"`
	Kind       CycleKind  `json:"kind" db:"kind"`
	Status     string     `json:"status" db:"status"`
	Resolved   []string   `json:"resolved" db:"-"`
	Added      []string   `json:"added" db:"-"`
	Removed    []string   `json:"removed" db:"-"`
	Created    int        `json:"created" db:"created"`
	Revoked    int        `json:"revoked" db:"revoked"`
	Adopted    int        `json:"adopted" db:"adopted"`
	Failures   int        `json:"failures" db:"failures"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" db:"finished_at"`

	Events []*AuthorizationEvent `json:"events,omitempty" db:"-"`
}

// AuthorizationEvent is one gateway interaction within a cycle.
type AuthorizationEvent struct {
	ID              string    `json:"id" db:"id"`
	CycleID         string    `json:"cycleId" db:"cycle_id"`
	Action          string    `json:"action" db:"action"`
	Address         string    `json:"address" db:"address"`
	AuthorizationID string    `json:"authorizationId,omitempty" db:"authorization_id"`
	Success         bool      `json:"success" db:"success"`
	Error           string    `json:"error,omitempty" db:"error"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Phase is the reconciler's lifecycle state.
type Phase string

const (
	PhaseBootstrapping Phase = "bootstrapping"
	PhaseSteady        Phase = "steady"
	PhaseShuttingDown  Phase = "shutting_down"
)

// CacheEntry is the status view of one cached address.
type CacheEntry struct {
	Address         string `json:"address"`
	AuthorizationID string `json:"authorizationId,omitempty"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Phase     Phase        `json:"phase"`
	Entries   []CacheEntry `json:"entries"`
	LastCycle *CycleReport `json:"lastCycle,omitempty"`
}
