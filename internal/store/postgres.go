package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/db"
	"github.com/sells-group/dispatch-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	worksheet    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	metrics      JSONB,
	write_result JSONB,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_changes (
	run_id   TEXT NOT NULL REFERENCES sync_runs(id),
	row_key  TEXT NOT NULL,
	action   TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, row_key)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_worksheet ON sync_runs(worksheet);
`

// Migrate creates the ledger tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source, worksheet string) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, source, worksheet, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, source, worksheet, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.SyncRun{
		ID:        id,
		Source:    source,
		Worksheet: worksheet,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	metricsJSON, writeJSON, err := marshalOutcome(out)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, metrics = $2, write_result = $3, error = $4, updated_at = $5 WHERE id = $6`,
		string(out.Status), metricsJSON, writeJSON, out.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const selectRun = `SELECT id, source, worksheet, status, metrics, write_result, error, created_at, updated_at FROM sync_runs`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.SyncRun, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx, selectRun+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := selectRun + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Worksheet != "" {
		query += fmt.Sprintf(` AND worksheet = $%d`, argIdx)
		args = append(args, filter.Worksheet)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// RecordChanges merges the planned writes of a run through a temp table.
func (s *PostgresStore) RecordChanges(ctx context.Context, runID string, changes []model.RowChange) error {
	rows := make([][]any, len(changes))
	for i, c := range changes {
		rows[i] = []any{runID, c.Key, string(c.Action), c.Position}
	}
	_, err := db.BulkMerge(ctx, s.pool, db.Merge{
		Table:   "sync_changes",
		Columns: []string{"run_id", "row_key", "action", "position"},
		Keys:    []string{"run_id", "row_key"},
		Touch:   "recorded_at",
	}, rows)
	return eris.Wrapf(err, "postgres: record changes for run %s", runID)
}

func (s *PostgresStore) ListChanges(ctx context.Context, runID string) ([]model.RowChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, row_key, action, position FROM sync_changes WHERE run_id = $1 ORDER BY action, row_key`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changes")
	}
	defer rows.Close()

	var out []model.RowChange
	for rows.Next() {
		var c model.RowChange
		var action string
		if err := rows.Scan(&c.RunID, &c.Key, &action, &c.Position); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		c.Action = model.ChangeAction(action)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list changes iterate")
}

func scanPostgresRun(row pgx.Row) (*model.SyncRun, error) {
	var r model.SyncRun
	var status string
	var metricsJSON, writeJSON []byte

	if err := row.Scan(&r.ID, &r.Source, &r.Worksheet, &status, &metricsJSON, &writeJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := unmarshalOutcome(&r, metricsJSON, writeJSON); err != nil {
		return nil, err
	}
	return &r, nil
}
