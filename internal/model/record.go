package model

import "time"

// DateLayout is the canonical cell format for dates after normalization.
const DateLayout = "2006-01-02"

// DispatchRecord is one planned trip from the scheduling side.
type DispatchRecord struct {
	JobID        string     `json:"job_id"`
	Driver       string     `json:"driver"`
	Date         *time.Time `json:"date,omitempty"`
	PlannedMiles *float64   `json:"planned_miles,omitempty"`
	PlannedStops *int       `json:"planned_stops,omitempty"`

	// Row holds every original column, including the ones parsed into the
	// typed fields above, so the enriched output passes them through unchanged.
	Row Row `json:"row"`
}

// TelemetryRecord is one observed trip from the vehicle-tracking side.
type TelemetryRecord struct {
	Driver      string    `json:"driver"`
	Date        time.Time `json:"date"`
	TotalMiles  *float64  `json:"total_miles,omitempty"`
	IdleMinutes *float64  `json:"idle_minutes,omitempty"`
	StopsCount  *int      `json:"stops_count,omitempty"`
	FuelUsed    *float64  `json:"fuel_used,omitempty"`

	// Extra carries source columns that have no typed field.
	Extra Row `json:"extra,omitempty"`
}

// EnrichedRecord is a dispatch record with its best telemetry match and the
// derived variance metrics. Every derived pointer is nil when MatchFound is
// false; nil never means zero.
type EnrichedRecord struct {
	Dispatch   DispatchRecord   `json:"dispatch"`
	Match      *TelemetryRecord `json:"match,omitempty"`
	MatchFound bool             `json:"match_found"`
	Candidates int              `json:"candidates"`

	MilesVariance        *float64 `json:"miles_variance,omitempty"`
	MilesVariancePercent *float64 `json:"miles_variance_percent,omitempty"`
	StopsVariance        *float64 `json:"stops_variance,omitempty"`
	StopsVariancePercent *float64 `json:"stops_variance_percent,omitempty"`

	// EstimatedTripMinutes is derived from miles and an assumed average speed,
	// not a measured duration.
	EstimatedTripMinutes *float64 `json:"estimated_trip_minutes,omitempty"`
	IdlePercentage       *float64 `json:"idle_percentage,omitempty"`
}

// EnrichmentMetrics summarizes one enrichment run. Averages cover matched
// records only and are nil when no matched record carries the value.
type EnrichmentMetrics struct {
	TotalDispatch      int      `json:"total_dispatch"`
	TotalTelemetry     int      `json:"total_telemetry"`
	Matched            int      `json:"matched"`
	UnmatchedDispatch  int      `json:"unmatched_dispatch"`
	UnmatchedTelemetry int      `json:"unmatched_telemetry"`
	MatchRate          float64  `json:"match_rate"`
	AvgMilesVariance   *float64 `json:"avg_miles_variance,omitempty"`
	AvgStopsVariance   *float64 `json:"avg_stops_variance,omitempty"`
	AvgIdlePercentage  *float64 `json:"avg_idle_percentage,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
