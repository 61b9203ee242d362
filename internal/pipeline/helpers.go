package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/enrich"
	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/normalize"
)

// stamp appends ProcessedAtColumn to every row.
func stamp(t model.Table, at time.Time) model.Table {
	out := t.Clone()
	if !out.HasColumn(ProcessedAtColumn) {
		out.Columns = append(out.Columns, ProcessedAtColumn)
	}
	v := at.Format(time.RFC3339)
	for _, r := range out.Rows {
		r[ProcessedAtColumn] = v
	}
	return out
}

// dispatchSchema requires the columns the configured options read.
func dispatchSchema(o enrich.Options) normalize.Schema {
	s := normalize.DispatchSchema
	s.Required = []string{o.Columns.DispatchDriver, o.Fields.PlannedMiles, o.Fields.PlannedStops}
	return s
}

// dateWindow spans the dispatch dates widened by the match tolerance. The
// end is exclusive.
func dateWindow(t model.Table, col string, toleranceDays int) (time.Time, time.Time, bool) {
	var lo, hi time.Time
	for _, r := range t.Rows {
		d, err := time.Parse(model.DateLayout, r[col])
		if err != nil {
			continue
		}
		if lo.IsZero() || d.Before(lo) {
			lo = d
		}
		if hi.IsZero() || d.After(hi) {
			hi = d
		}
	}
	if lo.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return lo.AddDate(0, 0, -toleranceDays), hi.AddDate(0, 0, toleranceDays+1), true
}

func logReport(source string, rep normalize.Report) {
	fields := []zap.Field{
		zap.String("source", source),
		zap.Int("input_rows", rep.InputRows),
		zap.Int("output_rows", rep.OutputRows),
	}
	if rep.DroppedRows+rep.NulledDates+rep.NulledNumbers+len(rep.DuplicateColumns) == 0 {
		zap.L().Debug("pipeline: normalized", fields...)
		return
	}
	zap.L().Warn("pipeline: normalized with data-quality issues", append(fields,
		zap.Int("dropped_rows", rep.DroppedRows),
		zap.Int("nulled_dates", rep.NulledDates),
		zap.Int("nulled_numbers", rep.NulledNumbers),
		zap.Strings("duplicate_columns", rep.DuplicateColumns),
	)...)
}

func successMessage(req Request, res *Result) string {
	return fmt.Sprintf("Synced %d dispatch rows to %s (%d inserted, %d updated, %d unchanged)",
		res.Metrics.TotalDispatch, req.Worksheet, res.Write.Inserted, res.Write.Updated, res.Write.Skipped)
}

func metricsOrNil(res *Result) *model.EnrichmentMetrics {
	if res.Metrics.TotalDispatch == 0 && res.Metrics.TotalTelemetry == 0 {
		return nil
	}
	m := res.Metrics
	return &m
}

func head(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}
