package normalize

import (
	"sort"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// Schema lists the columns a source sheet is expected to carry, in
// normalized form.
type Schema struct {
	Required []string
	Optional []string
}

// DispatchSchema describes the planned-trip export from the scheduling side.
var DispatchSchema = Schema{
	Required: []string{"driver_name", "planned_miles", "planned_stops"},
	Optional: []string{"route_id", "actual_miles", "actual_stops", "date", "notes", "_kp_job_id"},
}

// TelemetrySchema describes a trip export from the vehicle-tracking side.
var TelemetrySchema = Schema{
	Required: []string{"driver_name", "trip_date", "total_miles", "idle_time_minutes"},
	Optional: []string{
		"driver_id", "stops_count", "fuel_used_gallons", "vehicle_id", "trip_id",
		"trip_start_time", "trip_end_time",
	},
}

// SchemaReport is the outcome of a schema check. Missing required columns
// make the report invalid; unexpected columns are informational.
type SchemaReport struct {
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

// Valid reports whether every required column is present.
func (r SchemaReport) Valid() bool { return len(r.Missing) == 0 }

// Check compares a normalized table's columns against s.
func (s Schema) Check(t model.Table) SchemaReport {
	rep := SchemaReport{Missing: t.MissingColumns(s.Required...)}

	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, c := range s.Required {
		known[c] = true
	}
	for _, c := range s.Optional {
		known[c] = true
	}
	for _, c := range t.Columns {
		if !known[c] {
			rep.Unexpected = append(rep.Unexpected, c)
		}
	}
	sort.Strings(rep.Unexpected)
	return rep
}
