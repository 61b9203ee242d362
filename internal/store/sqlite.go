package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	worksheet  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	metrics    TEXT,
	write_result TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sync_changes (
	run_id   TEXT NOT NULL REFERENCES sync_runs(id),
	row_key  TEXT NOT NULL,
	action   TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (run_id, row_key)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_worksheet ON sync_runs(worksheet);
`

// Migrate creates the ledger tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, source, worksheet string) (*model.SyncRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, source, worksheet, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, source, worksheet, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, out RunOutcome) error {
	metricsJSON, writeJSON, err := marshalOutcome(out)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, metrics = ?, write_result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(out.Status), metricsJSON, writeJSON, out.Error, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.SyncRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, worksheet, status, metrics, write_result, error, created_at, updated_at FROM sync_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, source, worksheet, status, metrics, write_result, error, created_at, updated_at FROM sync_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Worksheet != "" {
		query += ` AND worksheet = ?`
		args = append(args, filter.Worksheet)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// RecordChanges stores the planned writes of a run. Recording the same key
// twice for a run keeps the latest action.
func (s *SQLiteStore) RecordChanges(ctx context.Context, runID string, changes []model.RowChange) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record changes")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sync_changes (run_id, row_key, action, position) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, row_key) DO UPDATE SET action = excluded.action, position = excluded.position, recorded_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record changes")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx, runID, c.Key, string(c.Action), c.Position); err != nil {
			return eris.Wrapf(err, "sqlite: record change %s", c.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit record changes")
}

func (s *SQLiteStore) ListChanges(ctx context.Context, runID string) ([]model.RowChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, row_key, action, position FROM sync_changes WHERE run_id = ? ORDER BY action, row_key`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RowChange
	for rows.Next() {
		var c model.RowChange
		if err := rows.Scan(&c.RunID, &c.Key, &c.Action, &c.Position); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list changes iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.SyncRun, error) {
	var r model.SyncRun
	var metricsJSON, writeJSON sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.Worksheet, &r.Status, &metricsJSON, &writeJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := unmarshalOutcome(&r, []byte(metricsJSON.String), []byte(writeJSON.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

// marshalOutcome encodes the optional JSON columns; nil values stay NULL.
func marshalOutcome(out RunOutcome) (metrics, write any, err error) {
	if out.Metrics != nil {
		b, err := json.Marshal(out.Metrics)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal metrics")
		}
		metrics = string(b)
	}
	if out.Write != nil {
		b, err := json.Marshal(out.Write)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal write result")
		}
		write = string(b)
	}
	return metrics, write, nil
}

func unmarshalOutcome(r *model.SyncRun, metrics, write []byte) error {
	if len(metrics) > 0 {
		r.Metrics = &model.EnrichmentMetrics{}
		if err := json.Unmarshal(metrics, r.Metrics); err != nil {
			return eris.Wrap(err, "store: unmarshal metrics")
		}
	}
	if len(write) > 0 {
		r.Write = &model.WriteResult{}
		if err := json.Unmarshal(write, r.Write); err != nil {
			return eris.Wrap(err, "store: unmarshal write result")
		}
	}
	return nil
}
