// Package normalize canonicalizes raw spreadsheet tables before matching:
// column names, join keys, dates, and numeric cells.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// Options names the columns that get typed treatment. Names may be given in
// raw or normalized form.
type Options struct {
	DateColumn     string
	IdentityColumn string
	NumericColumns []string

	// KeepIncomplete retains rows whose date or identity is null after
	// coercion instead of dropping them.
	KeepIncomplete bool
}

// Report counts the data-quality issues absorbed during normalization.
type Report struct {
	InputRows        int      `json:"input_rows"`
	OutputRows       int      `json:"output_rows"`
	DroppedRows      int      `json:"dropped_rows"`
	NulledDates      int      `json:"nulled_dates"`
	NulledNumbers    int      `json:"nulled_numbers"`
	DuplicateColumns []string `json:"duplicate_columns,omitempty"`
}

var (
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace = regexp.MustCompile(`\s+`)
	underscore = regexp.MustCompile(`_+`)

	lower = cases.Lower(language.Und)
)

// ColumnName lower-cases a header, drops punctuation, and joins words with
// underscores. "Planned Miles (mi)" becomes "planned_miles_mi". A leading
// underscore marks a system column (such as "_kp_job_id") and is kept.
func ColumnName(name string) string {
	trimmed := strings.TrimSpace(name)
	s := lower.String(trimmed)
	s = nonWord.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(underscore.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "unnamed_column"
	}
	if strings.HasPrefix(trimmed, "_") {
		s = "_" + s
	}
	return s
}

// Identity canonicalizes a join key: Unicode-normalized, trimmed, lower-cased.
func Identity(v string) string {
	return lower.String(strings.TrimSpace(norm.NFKC.String(v)))
}

var dateLayouts = []string{
	model.DateLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"1-2-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// excelEpoch is day zero of the spreadsheet serial-date system.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses a cell into a calendar date (midnight UTC). Spreadsheet
// serial day numbers are accepted. ok is false for blank or unparsable cells.
func ParseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial >= 20000 && serial < 80000 {
		return excelEpoch.AddDate(0, 0, int(serial)), true
	}
	return time.Time{}, false
}

// ParseNumber coerces a cell to a float. Thousands separators, currency
// symbols, and surrounding whitespace are ignored. ok is false for blank,
// non-numeric, NaN, or infinite values.
func ParseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	v = strings.NewReplacer(",", "", "$", "", " ", "").Replace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatNumber renders a float without a trailing ".0" for whole values.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Table returns a normalized copy of in. The input is never modified.
//
// Unparsable dates and non-numeric values become empty (null) cells. Rows
// whose date or identity is null afterwards are dropped unless
// opts.KeepIncomplete is set.
func Table(in model.Table, opts Options) (model.Table, Report) {
	rep := Report{InputRows: len(in.Rows)}

	// Map each source column to its normalized name, first occurrence wins.
	var cols []string
	source := make(map[string]string, len(in.Columns))
	for _, c := range in.Columns {
		nc := ColumnName(c)
		if _, dup := source[nc]; dup {
			rep.DuplicateColumns = append(rep.DuplicateColumns, c)
			continue
		}
		source[nc] = c
		cols = append(cols, nc)
	}

	dateCol := columnOrEmpty(opts.DateColumn)
	idCol := columnOrEmpty(opts.IdentityColumn)
	numeric := make(map[string]bool, len(opts.NumericColumns))
	for _, n := range opts.NumericColumns {
		numeric[ColumnName(n)] = true
	}

	out := model.Table{Columns: cols, Rows: make([]model.Row, 0, len(in.Rows))}
	for _, r := range in.Rows {
		row := make(model.Row, len(cols))
		for _, nc := range cols {
			row[nc] = strings.TrimSpace(r[source[nc]])
		}

		if dateCol != "" && row[dateCol] != "" {
			if d, ok := ParseDate(row[dateCol]); ok {
				row[dateCol] = d.Format(model.DateLayout)
			} else {
				row[dateCol] = ""
				rep.NulledDates++
			}
		}
		if idCol != "" {
			row[idCol] = Identity(row[idCol])
		}
		for nc := range numeric {
			v, present := row[nc]
			if !present || v == "" {
				continue
			}
			if f, ok := ParseNumber(v); ok {
				row[nc] = FormatNumber(f)
			} else {
				row[nc] = ""
				rep.NulledNumbers++
			}
		}

		incomplete := (dateCol != "" && row[dateCol] == "") || (idCol != "" && row[idCol] == "")
		if incomplete && !opts.KeepIncomplete {
			rep.DroppedRows++
			continue
		}
		out.Rows = append(out.Rows, row)
	}

	rep.OutputRows = len(out.Rows)
	return out, rep
}

func columnOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return ColumnName(name)
}
