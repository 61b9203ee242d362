package enrich

import (
	"math"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// DefaultAvgSpeedMPH is the assumed average speed used to estimate trip
// duration from distance when no measured duration is available.
const DefaultAvgSpeedMPH = 35.0

// Calculator derives variance and idle metrics for matched records.
type Calculator struct {
	AvgSpeedMPH float64
}

// Derive fills the derived fields of rec from its dispatch plan and match.
// Every derived field is nil for an unmatched record, and a percentage is
// nil whenever its denominator is nil or zero.
func (c Calculator) Derive(rec *model.EnrichedRecord) {
	rec.MilesVariance = nil
	rec.MilesVariancePercent = nil
	rec.StopsVariance = nil
	rec.StopsVariancePercent = nil
	rec.EstimatedTripMinutes = nil
	rec.IdlePercentage = nil

	if !rec.MatchFound || rec.Match == nil {
		return
	}
	m := rec.Match
	d := rec.Dispatch

	if m.TotalMiles != nil && d.PlannedMiles != nil {
		v := *m.TotalMiles - *d.PlannedMiles
		rec.MilesVariance = &v
		rec.MilesVariancePercent = percent(v, *d.PlannedMiles)
	}

	if m.StopsCount != nil && d.PlannedStops != nil {
		v := float64(*m.StopsCount - *d.PlannedStops)
		rec.StopsVariance = &v
		rec.StopsVariancePercent = percent(v, float64(*d.PlannedStops))
	}

	speed := c.AvgSpeedMPH
	if speed <= 0 {
		speed = DefaultAvgSpeedMPH
	}
	if m.TotalMiles != nil {
		est := *m.TotalMiles / speed * 60
		rec.EstimatedTripMinutes = &est
		if m.IdleMinutes != nil {
			rec.IdlePercentage = percent(*m.IdleMinutes, est)
		}
	}
}

// percent returns num/den*100 rounded to two places, or nil when den is 0.
func percent(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	p := round2(num / den * 100)
	return &p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
