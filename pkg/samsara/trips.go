package samsara

import (
	"strconv"
	"time"

	"github.com/sells-group/dispatch-sync/internal/model"
)

const (
	msPerMinute = 60_000.0
	mlPerGallon = 3785.41
)

// Standard telemetry column names produced by TripsTable.
const (
	ColTripID       = "trip_id"
	ColDriverID     = "driver_id"
	ColDriverName   = "driver_name"
	ColVehicleID    = "vehicle_id"
	ColTripStart    = "trip_start_time"
	ColTripEnd      = "trip_end_time"
	ColTripDate     = "trip_date"
	ColTotalMiles   = "total_miles"
	ColIdleMinutes  = "idle_time_minutes"
	ColStopsCount   = "stops_count"
	ColFuelGallons  = "fuel_used_gallons"
	tripDateLayout  = "2006-01-02"
	tripStampLayout = time.RFC3339
)

// TripColumns is the column order of every table TripsTable returns, even
// when there are no trips.
var TripColumns = []string{
	ColTripID, ColDriverID, ColDriverName, ColVehicleID,
	ColTripStart, ColTripEnd, ColTripDate,
	ColTotalMiles, ColIdleMinutes, ColStopsCount, ColFuelGallons,
}

// Trip is one trip as returned by /fleet/trips. Timestamps arrive either as
// RFC 3339 strings or as epoch milliseconds.
type Trip struct {
	ID            string   `json:"id"`
	DriverID      string   `json:"driverId"`
	DriverName    string   `json:"driverName"`
	VehicleID     string   `json:"vehicleId"`
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime"`
	StartMs       int64    `json:"startMs"`
	EndMs         int64    `json:"endMs"`
	DistanceMiles *float64 `json:"distanceMiles"`
	IdleTimeMs    *float64 `json:"idleTimeMs"`
	FuelUsedMl    *float64 `json:"fuelUsedMl"`
	StopCount     *int     `json:"stopCount"`
}

// Start returns the trip start, or false when the trip carries none.
func (t Trip) Start() (time.Time, bool) { return stamp(t.StartTime, t.StartMs) }

// End returns the trip end, or false when the trip carries none.
func (t Trip) End() (time.Time, bool) { return stamp(t.EndTime, t.EndMs) }

// TripsTable flattens trips into the standard telemetry table. Idle time is
// converted to minutes and fuel to gallons; the trip date is the calendar
// day of the start time in its own offset. Absent values stay empty.
func TripsTable(trips []Trip) model.Table {
	cols := make([]string, len(TripColumns))
	copy(cols, TripColumns)

	rows := make([]model.Row, 0, len(trips))
	for _, t := range trips {
		row := model.Row{
			ColTripID:     t.ID,
			ColDriverID:   t.DriverID,
			ColDriverName: t.DriverName,
			ColVehicleID:  t.VehicleID,
		}
		if s, ok := t.Start(); ok {
			row[ColTripStart] = s.Format(tripStampLayout)
			row[ColTripDate] = s.Format(tripDateLayout)
		}
		if e, ok := t.End(); ok {
			row[ColTripEnd] = e.Format(tripStampLayout)
		}
		if t.DistanceMiles != nil {
			row[ColTotalMiles] = formatFloat(*t.DistanceMiles)
		}
		if t.IdleTimeMs != nil {
			row[ColIdleMinutes] = formatFloat(*t.IdleTimeMs / msPerMinute)
		}
		if t.StopCount != nil {
			row[ColStopsCount] = strconv.Itoa(*t.StopCount)
		}
		if t.FuelUsedMl != nil {
			row[ColFuelGallons] = formatFloat(*t.FuelUsedMl / mlPerGallon)
		}
		for _, c := range cols {
			if _, ok := row[c]; !ok {
				row[c] = ""
			}
		}
		rows = append(rows, row)
	}
	return model.Table{Columns: cols, Rows: rows}
}

func stamp(s string, ms int64) (time.Time, bool) {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	if ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
