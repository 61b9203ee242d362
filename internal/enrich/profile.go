package enrich

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile is a YAML column-mapping file for sheets whose headers differ
// from the defaults. Unset fields keep the values they are applied over.
//
//	columns:
//	  dispatch_driver: driver
//	  dispatch_date: service_date
//	fields:
//	  planned_miles: route_miles
//	tolerance_days: 2
//	tie_break: closest_date
type Profile struct {
	Columns       MatchColumns `yaml:"columns"`
	Fields        FieldColumns `yaml:"fields"`
	ToleranceDays *int         `yaml:"tolerance_days"`
	TieBreak      TieBreak     `yaml:"tie_break"`
	AvgSpeedMPH   float64      `yaml:"avg_speed_mph"`
	SourcePrefix  string       `yaml:"source_prefix"`
}

// LoadProfile reads a match profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: read profile %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "enrich: parse profile")
	}
	switch p.TieBreak {
	case "", TieBreakFirst, TieBreakClosestDate:
	default:
		return nil, eris.Errorf("enrich: profile %s: unknown tie_break %q", path, p.TieBreak)
	}
	return &p, nil
}

// Apply overlays the profile's set fields onto opts.
func (p *Profile) Apply(opts Options) Options {
	if p == nil {
		return opts
	}
	setString(&opts.Columns.DispatchDriver, p.Columns.DispatchDriver)
	setString(&opts.Columns.DispatchDate, p.Columns.DispatchDate)
	setString(&opts.Columns.TelemetryDriver, p.Columns.TelemetryDriver)
	setString(&opts.Columns.TelemetryDate, p.Columns.TelemetryDate)

	setString(&opts.Fields.PlannedMiles, p.Fields.PlannedMiles)
	setString(&opts.Fields.PlannedStops, p.Fields.PlannedStops)
	setString(&opts.Fields.TotalMiles, p.Fields.TotalMiles)
	setString(&opts.Fields.IdleTime, p.Fields.IdleTime)
	setString(&opts.Fields.StopsCount, p.Fields.StopsCount)
	setString(&opts.Fields.FuelUsed, p.Fields.FuelUsed)

	if p.ToleranceDays != nil {
		opts.ToleranceDays = *p.ToleranceDays
	}
	if p.TieBreak != "" {
		opts.TieBreak = p.TieBreak
	}
	if p.AvgSpeedMPH > 0 {
		opts.AvgSpeedMPH = p.AvgSpeedMPH
	}
	setString(&opts.SourcePrefix, p.SourcePrefix)
	return opts
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
