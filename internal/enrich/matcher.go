package enrich

import (
	"time"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// TieBreak selects one telemetry record when several candidates survive.
type TieBreak string

const (
	// TieBreakFirst keeps the first candidate in telemetry table order.
	TieBreakFirst TieBreak = "first"
	// TieBreakClosestDate keeps the candidate nearest the dispatch date,
	// falling back to table order on equal distance.
	TieBreakClosestDate TieBreak = "closest_date"
)

// FindMatches returns the telemetry records whose identity equals the
// dispatch driver and whose date lies within toleranceDays (inclusive) on
// either side of the dispatch date. Order follows telemetry. A dispatch
// record without a driver or date has no candidates.
func FindMatches(d model.DispatchRecord, telemetry []model.TelemetryRecord, toleranceDays int) []model.TelemetryRecord {
	if d.Driver == "" || d.Date == nil {
		return nil
	}
	var out []model.TelemetryRecord
	for _, t := range telemetry {
		if t.Driver == d.Driver && withinDays(*d.Date, t.Date, toleranceDays) {
			out = append(out, t)
		}
	}
	return out
}

// SelectBest picks one candidate according to tb. It returns false when
// there are no candidates.
func SelectBest(d model.DispatchRecord, candidates []model.TelemetryRecord, tb TieBreak) (model.TelemetryRecord, bool) {
	i := bestIndex(d, candidates, tb)
	if i < 0 {
		return model.TelemetryRecord{}, false
	}
	return candidates[i], true
}

func bestIndex(d model.DispatchRecord, candidates []model.TelemetryRecord, tb TieBreak) int {
	if len(candidates) == 0 {
		return -1
	}
	if tb != TieBreakClosestDate || d.Date == nil {
		return 0
	}
	best := 0
	bestDist := dayDistance(*d.Date, candidates[0].Date)
	for i := 1; i < len(candidates); i++ {
		if dist := dayDistance(*d.Date, candidates[i].Date); dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

// index groups telemetry positions by driver, preserving table order, so
// matching a large dispatch sheet does not rescan every trip per row.
type index struct {
	records  []model.TelemetryRecord
	byDriver map[string][]int
}

func newIndex(records []model.TelemetryRecord) *index {
	ix := &index{records: records, byDriver: make(map[string][]int)}
	for i, r := range records {
		ix.byDriver[r.Driver] = append(ix.byDriver[r.Driver], i)
	}
	return ix
}

// candidates is FindMatches over the index; it also returns the positions
// of the matches in the telemetry slice.
func (ix *index) candidates(d model.DispatchRecord, toleranceDays int) ([]model.TelemetryRecord, []int) {
	if d.Driver == "" || d.Date == nil {
		return nil, nil
	}
	var recs []model.TelemetryRecord
	var pos []int
	for _, i := range ix.byDriver[d.Driver] {
		if withinDays(*d.Date, ix.records[i].Date, toleranceDays) {
			recs = append(recs, ix.records[i])
			pos = append(pos, i)
		}
	}
	return recs, pos
}

func withinDays(a, b time.Time, tolerance int) bool {
	return dayDistance(a, b) <= tolerance
}

// dayDistance is the absolute number of calendar days between two dates.
func dayDistance(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
