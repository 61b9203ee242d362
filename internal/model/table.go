// Package model defines the record types that flow through the dispatch
// enrichment and sheet synchronization stages.
package model

// Row is a single tabular record keyed by column name. Cell values are the
// raw text as read from (or written to) a spreadsheet; an empty string is a
// null cell.
type Row map[string]string

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered sequence of rows with an explicit column order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable builds a table from a header row and positional data rows.
// Short rows are padded with empty cells; extra cells are ignored.
func NewTable(header []string, records [][]string) Table {
	cols := make([]string, len(header))
	copy(cols, header)

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(cols))
		for i, c := range cols {
			if i < len(rec) {
				row[c] = rec[i]
			} else {
				row[c] = ""
			}
		}
		rows = append(rows, row)
	}
	return Table{Columns: cols, Rows: rows}
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// HasColumn reports whether the table declares the named column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// MissingColumns returns the names from want that the table does not declare,
// in the order given.
func (t Table) MissingColumns(want ...string) []string {
	var missing []string
	for _, w := range want {
		if !t.HasColumn(w) {
			missing = append(missing, w)
		}
	}
	return missing
}

// Records renders the rows positionally in column order.
func (t Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			rec[j] = r[c]
		}
		out[i] = rec
	}
	return out
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = r.Clone()
	}
	return Table{Columns: cols, Rows: rows}
}
