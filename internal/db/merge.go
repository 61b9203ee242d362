// Package db holds the Postgres plumbing shared by the ledger store.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes a keyed bulk write: rows are staged with COPY and merged
// into Table with INSERT ... ON CONFLICT.
type Merge struct {
	Table string
	// Columns is the column order of every staged row.
	Columns []string
	// Keys form the target's unique constraint.
	Keys []string
	// Update lists the columns overwritten on conflict. Nil means every
	// non-key column; an empty non-nil slice keeps existing rows untouched.
	Update []string
	// Touch, when set, is assigned now() on insert and on conflict.
	Touch string
}

func (m Merge) validate(rows [][]any) error {
	if m.Table == "" {
		return eris.New("db: merge: no table specified")
	}
	if len(m.Columns) == 0 {
		return eris.New("db: merge: no columns specified")
	}
	if len(m.Keys) == 0 {
		return eris.New("db: merge: no conflict keys specified")
	}
	cols := toSet(m.Columns)
	for _, k := range m.Keys {
		if !cols[k] {
			return eris.Errorf("db: merge: conflict key %q is not a staged column", k)
		}
	}
	for i, r := range rows {
		if len(r) != len(m.Columns) {
			return eris.Errorf("db: merge: row %d has %d values, want %d", i, len(r), len(m.Columns))
		}
	}
	return nil
}

func (m Merge) updateColumns() []string {
	if m.Update != nil {
		return m.Update
	}
	keys := toSet(m.Keys)
	var out []string
	for _, c := range m.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// stageTable names the ON COMMIT DROP table rows are copied into.
func (m Merge) stageTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(m.Table, ".", "_")
}

func (m Merge) createStageSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{m.stageTable()}.Sanitize(), qualified(m.Table))
}

func (m Merge) mergeSQL() string {
	insertCols, selectCols := identList(m.Columns), identList(m.Columns)
	if m.Touch != "" {
		insertCols += ", " + pgx.Identifier{m.Touch}.Sanitize()
		selectCols += ", now()"
	}

	var sets []string
	for _, c := range m.updateColumns() {
		id := pgx.Identifier{c}.Sanitize()
		sets = append(sets, id+" = EXCLUDED."+id)
	}
	if m.Touch != "" && (m.Update == nil || len(m.Update) > 0) {
		sets = append(sets, pgx.Identifier{m.Touch}.Sanitize()+" = now()")
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		qualified(m.Table), insertCols, selectCols,
		pgx.Identifier{m.stageTable()}.Sanitize(), identList(m.Keys), action)
}

// BulkMerge stages rows with COPY and merges them in one transaction,
// returning the number of target rows inserted or updated.
func BulkMerge(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(rows); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: merge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.createStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge: stage %s", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.stageTable()}, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge: copy into stage for %s", m.Table)
	}
	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge: insert on conflict for %s", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: merge: commit tx")
	}
	return tag.RowsAffected(), nil
}

// qualified quotes a table name that may carry a schema prefix.
func qualified(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}
