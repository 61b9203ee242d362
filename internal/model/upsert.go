package model

import (
	"fmt"
	"time"
)

// RemoteRow is a row already stored in the destination table. Position is
// the store's own addressing (a 1-based sheet row number for spreadsheets).
type RemoteRow struct {
	Position int `json:"position"`
	Values   Row `json:"values"`
}

// PlannedUpdate rewrites the remote row at Position with Row.
type PlannedUpdate struct {
	Position int    `json:"position"`
	Key      string `json:"key"`
	Row      Row    `json:"row"`
}

// UpsertPlan partitions a batch into inserts and updates against a snapshot.
type UpsertPlan struct {
	KeyColumn  string          `json:"key_column"`
	Headers    []string        `json:"headers"`
	Inserts    []Row           `json:"inserts"`
	Updates    []PlannedUpdate `json:"updates"`
	Skipped    int             `json:"skipped"`
	Duplicates []string        `json:"duplicates,omitempty"`
	// Rejected holds the zero-based batch indices of rows with an empty key.
	Rejected []int `json:"rejected,omitempty"`
}

// Empty reports whether the plan has nothing to write.
func (p *UpsertPlan) Empty() bool {
	return p == nil || (len(p.Inserts) == 0 && len(p.Updates) == 0)
}

// ChunkState is the terminal or intermediate state of one executor chunk.
type ChunkState string

const (
	ChunkPending     ChunkState = "pending"
	ChunkSent        ChunkState = "sent"
	ChunkRateLimited ChunkState = "rate_limited"
	ChunkAcked       ChunkState = "acked"
	ChunkFailed      ChunkState = "failed"
)

// ChunkError records a chunk that ended in ChunkFailed.
type ChunkError struct {
	Op        string `json:"op"` // "insert" or "update"
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Attempts  int    `json:"attempts"`
	Transient bool   `json:"transient"`
	Err       string `json:"error"`
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("%s rows [%d,%d) failed after %d attempt(s): %s", e.Op, e.Start, e.End, e.Attempts, e.Err)
}

// WriteResult reports what a plan execution actually achieved. Counts only
// include rows the store acknowledged.
type WriteResult struct {
	Inserted    int          `json:"inserted"`
	Updated     int          `json:"updated"`
	Skipped     int          `json:"skipped"`
	Chunks      int          `json:"chunks"`
	RateLimited int          `json:"rate_limited"`
	Errors      []ChunkError `json:"errors,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// OK reports whether every chunk was acknowledged.
func (r *WriteResult) OK() bool {
	return r != nil && len(r.Errors) == 0
}

// Duration returns the wall time spent executing.
func (r *WriteResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
