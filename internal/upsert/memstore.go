package upsert

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// MemoryStore is an in-process Store. Positions follow spreadsheet
// addressing: the header occupies row 1 and data starts at row 2.
type MemoryStore struct {
	mu      sync.Mutex
	headers map[string][]string
	rows    map[string][]model.Row
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		headers: make(map[string][]string),
		rows:    make(map[string][]model.Row),
	}
}

// ReadSnapshot implements Store.
func (m *MemoryStore) ReadSnapshot(_ context.Context, table, key string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{
		Headers: append([]string(nil), m.headers[table]...),
		Rows:    make(map[string]model.RemoteRow),
	}
	for i, r := range m.rows[table] {
		k := r[key]
		if k == "" {
			continue
		}
		if _, dup := snap.Rows[k]; dup {
			snap.Duplicates = append(snap.Duplicates, k)
			continue
		}
		snap.Rows[k] = model.RemoteRow{Position: i + 2, Values: r.Clone()}
	}
	return snap, nil
}

// EnsureHeaders implements Store. Missing headers are appended after the
// existing ones.
func (m *MemoryStore) EnsureHeaders(_ context.Context, table string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	have := make(map[string]bool)
	for _, h := range m.headers[table] {
		have[h] = true
	}
	for _, h := range headers {
		if !have[h] {
			m.headers[table] = append(m.headers[table], h)
			have[h] = true
		}
	}
	return nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, table string, headers []string, rows []model.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.rows[table] = append(m.rows[table], project(headers, r))
	}
	return nil
}

// UpdateAt implements Store.
func (m *MemoryStore) UpdateAt(_ context.Context, table string, position int, headers []string, row model.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := position - 2
	if i < 0 || i >= len(m.rows[table]) {
		return eris.Errorf("upsert: memory store %s has no row %d", table, position)
	}
	m.rows[table][i] = project(headers, row)
	return nil
}

// Rows returns a copy of the rows stored in table.
func (m *MemoryStore) Rows(table string) []model.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Row, len(m.rows[table]))
	for i, r := range m.rows[table] {
		out[i] = r.Clone()
	}
	return out
}

func project(headers []string, r model.Row) model.Row {
	out := make(model.Row, len(headers))
	for _, h := range headers {
		out[h] = r[h]
	}
	return out
}
