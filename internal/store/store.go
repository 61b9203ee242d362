// Package store persists the sync-run ledger: one row per pipeline run plus
// the row-level changes each run wrote.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	Worksheet string          `json:"worksheet,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// RunOutcome is the final state written when a run finishes.
type RunOutcome struct {
	Status  model.RunStatus
	Metrics *model.EnrichmentMetrics
	Write   *model.WriteResult
	Error   string
}

// Store defines the persistence interface for sync runs.
type Store interface {
	CreateRun(ctx context.Context, source, worksheet string) (*model.SyncRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FinishRun(ctx context.Context, runID string, out RunOutcome) error
	GetRun(ctx context.Context, runID string) (*model.SyncRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)

	RecordChanges(ctx context.Context, runID string, changes []model.RowChange) error
	ListChanges(ctx context.Context, runID string) ([]model.RowChange, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// ChangesFromPlan lists the writes a plan will make, inserts first.
func ChangesFromPlan(runID string, plan *model.UpsertPlan) []model.RowChange {
	if plan == nil {
		return nil
	}
	out := make([]model.RowChange, 0, len(plan.Inserts)+len(plan.Updates))
	for _, r := range plan.Inserts {
		out = append(out, model.RowChange{RunID: runID, Key: r[plan.KeyColumn], Action: model.ChangeInsert})
	}
	for _, u := range plan.Updates {
		out = append(out, model.RowChange{RunID: runID, Key: u.Key, Action: model.ChangeUpdate, Position: u.Position})
	}
	return out
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
