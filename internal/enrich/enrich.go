// Package enrich matches dispatch rows against telemetry trips and derives
// per-trip variance metrics.
package enrich

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/normalize"
)

// ErrMissingColumns is returned when a configured match or field column is
// absent from its table. Use errors.As with *MissingColumnsError for names.
var ErrMissingColumns = eris.New("enrich: missing columns")

// MissingColumnsError lists every absent column on each side.
type MissingColumnsError struct {
	Dispatch  []string
	Telemetry []string
}

func (e *MissingColumnsError) Error() string {
	var parts []string
	if len(e.Dispatch) > 0 {
		parts = append(parts, "dispatch: "+strings.Join(e.Dispatch, ", "))
	}
	if len(e.Telemetry) > 0 {
		parts = append(parts, "telemetry: "+strings.Join(e.Telemetry, ", "))
	}
	return "enrich: missing columns (" + strings.Join(parts, "; ") + ")"
}

// Is reports whether target is ErrMissingColumns.
func (e *MissingColumnsError) Is(target error) bool { return target == ErrMissingColumns }

// MatchColumns names the join columns on each side. Both are required.
type MatchColumns struct {
	DispatchDriver  string `yaml:"dispatch_driver"`
	DispatchDate    string `yaml:"dispatch_date"`
	TelemetryDriver string `yaml:"telemetry_driver"`
	TelemetryDate   string `yaml:"telemetry_date"`
}

// FieldColumns names the measured columns. They are optional: a column
// missing from its table yields null values rather than an error.
type FieldColumns struct {
	PlannedMiles string `yaml:"planned_miles"`
	PlannedStops string `yaml:"planned_stops"`
	TotalMiles   string `yaml:"total_miles"`
	IdleTime     string `yaml:"idle_time"`
	StopsCount   string `yaml:"stops_count"`
	FuelUsed     string `yaml:"fuel_used"`
}

// Options configures an Enricher.
type Options struct {
	Columns       MatchColumns
	Fields        FieldColumns
	KeyColumn     string
	ToleranceDays int
	TieBreak      TieBreak
	AvgSpeedMPH   float64
	SourcePrefix  string
}

// DefaultColumns matches the normalized dispatch sheet and Samsara trip
// export layouts.
func DefaultColumns() MatchColumns {
	return MatchColumns{
		DispatchDriver:  "driver_name",
		DispatchDate:    "date",
		TelemetryDriver: "driver_name",
		TelemetryDate:   "trip_date",
	}
}

// DefaultFields returns the standard measured column names.
func DefaultFields() FieldColumns {
	return FieldColumns{
		PlannedMiles: "planned_miles",
		PlannedStops: "planned_stops",
		TotalMiles:   "total_miles",
		IdleTime:     "idle_time_minutes",
		StopsCount:   "stops_count",
		FuelUsed:     "fuel_used_gallons",
	}
}

// DefaultOptions returns options with a one-day window, first-candidate
// tie-break, 35 mph estimate speed and the "samsara" output prefix.
func DefaultOptions() Options {
	return Options{
		Columns:       DefaultColumns(),
		Fields:        DefaultFields(),
		KeyColumn:     "_kp_job_id",
		ToleranceDays: 1,
		TieBreak:      TieBreakFirst,
		AvgSpeedMPH:   DefaultAvgSpeedMPH,
		SourcePrefix:  "samsara",
	}
}

// normalizeNames rewrites every configured column name the way the
// normalizer rewrites table headers, so "Driver Name" and "driver_name"
// address the same column. Unset names stay empty.
func (o *Options) normalizeNames() {
	for _, p := range []*string{
		&o.Columns.DispatchDriver, &o.Columns.DispatchDate,
		&o.Columns.TelemetryDriver, &o.Columns.TelemetryDate,
		&o.Fields.PlannedMiles, &o.Fields.PlannedStops, &o.Fields.TotalMiles,
		&o.Fields.IdleTime, &o.Fields.StopsCount, &o.Fields.FuelUsed,
		&o.KeyColumn,
	} {
		if strings.TrimSpace(*p) != "" {
			*p = normalize.ColumnName(*p)
		}
	}
}

// Result is the output of one enrichment run.
type Result struct {
	Records []model.EnrichedRecord
	Metrics model.EnrichmentMetrics

	columns []string
	prefix  string
}

// Enricher joins dispatch and telemetry tables.
type Enricher struct {
	opts Options
	calc Calculator
}

// New creates an Enricher. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Enricher {
	def := DefaultOptions()
	if opts.Columns == (MatchColumns{}) {
		opts.Columns = def.Columns
	}
	if opts.Fields == (FieldColumns{}) {
		opts.Fields = def.Fields
	}
	if opts.KeyColumn == "" {
		opts.KeyColumn = def.KeyColumn
	}
	if opts.TieBreak == "" {
		opts.TieBreak = def.TieBreak
	}
	if opts.AvgSpeedMPH <= 0 {
		opts.AvgSpeedMPH = def.AvgSpeedMPH
	}
	if opts.SourcePrefix == "" {
		opts.SourcePrefix = def.SourcePrefix
	}
	if opts.ToleranceDays < 0 {
		opts.ToleranceDays = 0
	}
	opts.normalizeNames()
	return &Enricher{opts: opts, calc: Calculator{AvgSpeedMPH: opts.AvgSpeedMPH}}
}

// Options returns the effective options.
func (e *Enricher) Options() Options { return e.opts }

// Enrich matches every dispatch row against telemetry. Output order follows
// the dispatch table and there is exactly one record per dispatch row. The
// run is deterministic: it reads no clock and no randomness.
func (e *Enricher) Enrich(dispatch, telemetry model.Table) (*Result, error) {
	if err := e.validate(dispatch, telemetry); err != nil {
		return nil, err
	}

	trips := e.telemetryRecords(telemetry)
	ix := newIndex(trips)
	used := make([]bool, len(trips))

	res := &Result{
		Records: make([]model.EnrichedRecord, 0, len(dispatch.Rows)),
		columns: dispatch.Columns,
		prefix:  e.opts.SourcePrefix,
	}

	var milesVar, stopsVar, idlePct []float64
	for _, row := range dispatch.Rows {
		d := e.dispatchRecord(row)
		cands, pos := ix.candidates(d, e.opts.ToleranceDays)

		rec := model.EnrichedRecord{Dispatch: d, Candidates: len(cands)}
		if i := bestIndex(d, cands, e.opts.TieBreak); i >= 0 {
			best := cands[i]
			used[pos[i]] = true
			rec.Match = &best
			rec.MatchFound = true
		}
		e.calc.Derive(&rec)

		if rec.MatchFound {
			res.Metrics.Matched++
			if rec.MilesVariance != nil {
				milesVar = append(milesVar, *rec.MilesVariance)
			}
			if rec.StopsVariance != nil {
				stopsVar = append(stopsVar, *rec.StopsVariance)
			}
			if rec.IdlePercentage != nil {
				idlePct = append(idlePct, *rec.IdlePercentage)
			}
		}
		res.Records = append(res.Records, rec)
	}

	m := &res.Metrics
	m.TotalDispatch = len(dispatch.Rows)
	m.TotalTelemetry = len(telemetry.Rows)
	m.UnmatchedDispatch = m.TotalDispatch - m.Matched
	m.UnmatchedTelemetry = m.TotalTelemetry
	for _, u := range used {
		if u {
			m.UnmatchedTelemetry--
		}
	}
	if m.TotalDispatch > 0 {
		m.MatchRate = float64(m.Matched) / float64(m.TotalDispatch)
	}
	m.AvgMilesVariance = mean(milesVar)
	m.AvgStopsVariance = mean(stopsVar)
	m.AvgIdlePercentage = mean(idlePct)

	zap.L().Debug("enrich: run complete",
		zap.Int("dispatch", m.TotalDispatch),
		zap.Int("telemetry", m.TotalTelemetry),
		zap.Int("matched", m.Matched),
		zap.Float64("match_rate", m.MatchRate),
	)
	return res, nil
}

// Enrich runs a one-off enrichment with default options except for the
// match columns and tolerance.
func Enrich(dispatch, telemetry model.Table, cols MatchColumns, toleranceDays int) (*Result, error) {
	opts := DefaultOptions()
	opts.Columns = cols
	opts.ToleranceDays = toleranceDays
	return New(opts).Enrich(dispatch, telemetry)
}

func (e *Enricher) validate(dispatch, telemetry model.Table) error {
	c := e.opts.Columns
	missing := &MissingColumnsError{
		Dispatch:  dispatch.MissingColumns(c.DispatchDriver, c.DispatchDate),
		Telemetry: telemetry.MissingColumns(c.TelemetryDriver, c.TelemetryDate),
	}
	if len(missing.Dispatch) == 0 && len(missing.Telemetry) == 0 {
		return nil
	}
	return missing
}

func (e *Enricher) dispatchRecord(row model.Row) model.DispatchRecord {
	c, f := e.opts.Columns, e.opts.Fields
	d := model.DispatchRecord{
		JobID:        row[e.opts.KeyColumn],
		Driver:       normalize.Identity(row[c.DispatchDriver]),
		PlannedMiles: number(row, f.PlannedMiles),
		PlannedStops: count(row, f.PlannedStops),
		Row:          row.Clone(),
	}
	if t, ok := normalize.ParseDate(row[c.DispatchDate]); ok {
		d.Date = &t
	}
	return d
}

// telemetryRecords converts rows in table order. A row without a driver or
// date can never match; it keeps its slot so positions stay aligned.
func (e *Enricher) telemetryRecords(t model.Table) []model.TelemetryRecord {
	c, f := e.opts.Columns, e.opts.Fields
	typed := map[string]bool{
		c.TelemetryDriver: true, c.TelemetryDate: true,
		f.TotalMiles: true, f.IdleTime: true, f.StopsCount: true, f.FuelUsed: true,
	}
	out := make([]model.TelemetryRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := model.TelemetryRecord{
			Driver:      normalize.Identity(row[c.TelemetryDriver]),
			TotalMiles:  number(row, f.TotalMiles),
			IdleMinutes: number(row, f.IdleTime),
			StopsCount:  count(row, f.StopsCount),
			FuelUsed:    number(row, f.FuelUsed),
		}
		if d, ok := normalize.ParseDate(row[c.TelemetryDate]); ok {
			rec.Date = d
		} else {
			rec.Driver = ""
		}
		for k, v := range row {
			if !typed[k] {
				if rec.Extra == nil {
					rec.Extra = make(model.Row)
				}
				rec.Extra[k] = v
			}
		}
		out = append(out, rec)
	}
	return out
}

func number(row model.Row, col string) *float64 {
	if col == "" {
		return nil
	}
	v, ok := normalize.ParseNumber(row[col])
	if !ok {
		return nil
	}
	return &v
}

func count(row model.Row, col string) *int {
	f := number(row, col)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}

// OutputColumns returns the enrichment columns appended after the dispatch
// columns, in order.
func OutputColumns(prefix string) []string {
	return []string{
		prefix + "_total_miles",
		prefix + "_idle_time",
		prefix + "_stops_count",
		prefix + "_fuel_used",
		prefix + "_match_found",
		prefix + "_match_date",
		prefix + "_match_driver",
		"miles_variance",
		"miles_variance_percent",
		"stops_variance",
		"stops_variance_percent",
		"estimated_trip_minutes",
		"idle_percentage",
	}
}

// Table renders the enriched table: all dispatch columns in their original
// order followed by OutputColumns. A dispatch column that already carries an
// output name (a previously enriched sheet) is overwritten, not repeated.
// Null values render as empty cells.
func (r *Result) Table() model.Table {
	extra := OutputColumns(r.prefix)
	taken := make(map[string]bool, len(extra))
	for _, c := range extra {
		taken[c] = true
	}
	cols := make([]string, 0, len(r.columns)+len(extra))
	for _, c := range r.columns {
		if !taken[c] {
			cols = append(cols, c)
		}
	}
	cols = append(cols, extra...)

	out := model.Table{Columns: cols, Rows: make([]model.Row, 0, len(r.Records))}
	for _, rec := range r.Records {
		row := make(model.Row, len(cols))
		for _, c := range r.columns {
			row[c] = rec.Dispatch.Row[c]
		}
		vals := []string{"", "", "", "", strconv.FormatBool(rec.MatchFound), "", ""}
		if m := rec.Match; m != nil {
			vals[0] = formatFloat(m.TotalMiles)
			vals[1] = formatFloat(m.IdleMinutes)
			vals[2] = formatInt(m.StopsCount)
			vals[3] = formatFloat(m.FuelUsed)
			vals[5] = m.Date.Format(model.DateLayout)
			vals[6] = m.Driver
		}
		vals = append(vals,
			formatFloat(rec.MilesVariance),
			formatFloat(rec.MilesVariancePercent),
			formatFloat(rec.StopsVariance),
			formatFloat(rec.StopsVariancePercent),
			formatFloat(rec.EstimatedTripMinutes),
			formatFloat(rec.IdlePercentage),
		)
		for i, c := range extra {
			row[c] = vals[i]
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// formatFloat renders up to four decimals so float noise never reaches the
// destination sheet and repeated runs compare equal.
func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	r := math.Round(*v*10000) / 10000
	if r == 0 {
		r = 0 // drop negative zero
	}
	return normalize.FormatNumber(r)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
