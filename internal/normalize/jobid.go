package normalize

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// jobNamespace scopes generated job IDs so they never collide with UUIDs
// minted elsewhere.
var jobNamespace = uuid.MustParse("6f1f8a52-3c0e-4c1b-9d55-2b7a0c4e9a11")

// AssignJobIDs returns a copy of t in which every row has a value in
// keyColumn, adding the column if needed. Generated IDs are UUIDv5 values
// derived from the row's other cells, so loading the same sheet twice yields
// the same IDs and re-syncing updates rather than duplicates. Identical rows
// are told apart by their occurrence order. The second return value is the
// number of IDs generated.
func AssignJobIDs(t model.Table, keyColumn string) (model.Table, int) {
	out := t.Clone()
	if !out.HasColumn(keyColumn) {
		out.Columns = append(out.Columns, keyColumn)
	}

	seen := make(map[string]int)
	generated := 0
	for _, row := range out.Rows {
		if strings.TrimSpace(row[keyColumn]) != "" {
			continue
		}

		var b strings.Builder
		for _, c := range out.Columns {
			if c == keyColumn {
				continue
			}
			b.WriteString(c)
			b.WriteByte('=')
			b.WriteString(row[c])
			b.WriteByte('\x1f')
		}
		content := b.String()
		n := seen[content]
		seen[content] = n + 1
		b.WriteString("#")
		b.WriteString(strconv.Itoa(n))

		row[keyColumn] = "job_" + uuid.NewSHA1(jobNamespace, []byte(b.String())).String()
		generated++
	}
	return out, generated
}
