package upsert

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// ErrMissingKeyColumn is returned when the batch has no key column.
var ErrMissingKeyColumn = eris.New("upsert: key column missing from batch")

// Planner partitions batches into inserts and updates.
type Planner struct {
	// IgnoreColumns are written but not compared, so volatile metadata such
	// as a processing timestamp does not turn every row into an update.
	IgnoreColumns []string
}

// Plan partitions batch against snapshot using a Planner with no ignored
// columns.
func Plan(batch model.Table, snapshot map[string]model.RemoteRow, key string) (*model.UpsertPlan, error) {
	return Planner{}.Plan(batch, snapshot, key)
}

// Plan returns the inserts and updates that bring the remote table in line
// with batch. A row whose key is unknown is an insert. A known row where any
// compared column differs as a string is an update at the remote position.
// Identical rows are skipped. Rows with an empty key are left out and their
// zero-based indices reported in Rejected. When a key repeats inside the
// batch only the first row is planned and the key is reported in Duplicates.
func (p Planner) Plan(batch model.Table, snapshot map[string]model.RemoteRow, key string) (*model.UpsertPlan, error) {
	if !batch.HasColumn(key) {
		return nil, eris.Wrapf(ErrMissingKeyColumn, "upsert: plan on %q", key)
	}

	ignore := make(map[string]bool, len(p.IgnoreColumns))
	for _, c := range p.IgnoreColumns {
		ignore[c] = true
	}

	plan := &model.UpsertPlan{
		KeyColumn: key,
		Headers:   append([]string(nil), batch.Columns...),
	}
	seen := make(map[string]bool, len(batch.Rows))
	for i, row := range batch.Rows {
		k := row[key]
		if strings.TrimSpace(k) == "" {
			plan.Rejected = append(plan.Rejected, i)
			continue
		}
		if seen[k] {
			plan.Duplicates = append(plan.Duplicates, k)
			continue
		}
		seen[k] = true

		remote, ok := snapshot[k]
		switch {
		case !ok:
			plan.Inserts = append(plan.Inserts, row.Clone())
		case differs(batch.Columns, row, remote.Values, ignore):
			plan.Updates = append(plan.Updates, model.PlannedUpdate{
				Position: remote.Position,
				Key:      k,
				Row:      row.Clone(),
			})
		default:
			plan.Skipped++
		}
	}
	return plan, nil
}

func differs(cols []string, local, remote model.Row, ignore map[string]bool) bool {
	for _, c := range cols {
		if ignore[c] {
			continue
		}
		if local[c] != remote[c] {
			return true
		}
	}
	return false
}
