package samsara

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsTable_Empty(t *testing.T) {
	tbl := TripsTable(nil)
	assert.Equal(t, TripColumns, tbl.Columns)
	assert.Empty(t, tbl.Rows)
}

func TestTripsTable_MissingValuesStayEmpty(t *testing.T) {
	tbl := TripsTable([]Trip{{ID: "t1", DriverName: "Jane Doe"}})
	require.Len(t, tbl.Rows, 1)
	row := tbl.Rows[0]
	for _, c := range []string{ColTripDate, ColTotalMiles, ColIdleMinutes, ColStopsCount, ColFuelGallons} {
		v, ok := row[c]
		assert.True(t, ok, c)
		assert.Empty(t, v, c)
	}
}

func TestTripsTable_ZeroIsNotNull(t *testing.T) {
	zero := 0.0
	tbl := TripsTable([]Trip{{ID: "t1", IdleTimeMs: &zero}})
	assert.Equal(t, "0", tbl.Rows[0][ColIdleMinutes])
}

func TestTripsTable_EpochMillis(t *testing.T) {
	// 2025-01-15T23:30:00Z
	tbl := TripsTable([]Trip{{ID: "t1", StartMs: 1736983800000}})
	assert.Equal(t, "2025-01-15", tbl.Rows[0][ColTripDate])
	assert.Equal(t, "2025-01-15T23:30:00Z", tbl.Rows[0][ColTripStart])
}

func TestTripsTable_DateUsesOwnOffset(t *testing.T) {
	tbl := TripsTable([]Trip{{ID: "t1", StartTime: "2025-01-15T22:00:00-06:00"}})
	assert.Equal(t, "2025-01-15", tbl.Rows[0][ColTripDate])
}
