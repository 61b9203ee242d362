// Package upsert plans and executes idempotent writes of a keyed batch
// against a remote tabular store.
package upsert

import (
	"context"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// Store is the remote tabular store contract. Retry, backoff and auth are
// left to the caller and the implementation respectively; errors that are
// worth retrying should satisfy resilience.IsTransient.
type Store interface {
	ReadSnapshot(ctx context.Context, table, key string) (*Snapshot, error)
	EnsureHeaders(ctx context.Context, table string, headers []string) error
	Append(ctx context.Context, table string, headers []string, rows []model.Row) error
	UpdateAt(ctx context.Context, table string, position int, headers []string, row model.Row) error
}

// BatchUpdater is implemented by stores that can rewrite several rows in one
// request. The executor prefers it over per-row UpdateAt calls.
type BatchUpdater interface {
	UpdateMany(ctx context.Context, table string, headers []string, updates []model.PlannedUpdate) error
}

// Snapshot is the current content of a remote table, keyed by the unique
// key column.
type Snapshot struct {
	Headers []string
	Rows    map[string]model.RemoteRow

	// Duplicates lists keys found on more than one remote row. Rows holds
	// the first occurrence.
	Duplicates []string
}

// Len returns the number of keyed rows.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}
