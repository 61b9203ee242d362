package model

import "time"

// RunStatus represents the current state of a sync run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusEnriched RunStatus = "enriched"
	RunStatusWriting  RunStatus = "writing"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial"
	RunStatusFailed   RunStatus = "failed"
	RunStatusDryRun   RunStatus = "dry_run"
)

// SyncRun is the audit record of one pipeline invocation.
type SyncRun struct {
	ID        string             `json:"id"`
	Source    string             `json:"source"`    // dispatch file path
	Worksheet string             `json:"worksheet"` // destination table
	Status    RunStatus          `json:"status"`
	Metrics   *EnrichmentMetrics `json:"metrics,omitempty"`
	Write     *WriteResult       `json:"write,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ChangeAction is the write applied to one destination row.
type ChangeAction string

const (
	ChangeInsert ChangeAction = "insert"
	ChangeUpdate ChangeAction = "update"
)

// RowChange is one planned write recorded against a run. Position is zero
// for inserts, whose destination row is assigned by the store.
type RowChange struct {
	RunID    string       `json:"run_id"`
	Key      string       `json:"key"`
	Action   ChangeAction `json:"action"`
	Position int          `json:"position,omitempty"`
}
