package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/enrich"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestInitEnricher_FromConfig(t *testing.T) {
	withConfig(t, &config.Config{
		Enrich: config.EnrichConfig{
			SourcePrefix:  "telematics",
			ToleranceDays: 2,
			AvgSpeedMPH:   40,
			TieBreak:      "closest_date",
			DriverColumn:  "driver",
		},
		Sync: config.SyncConfig{KeyColumn: "job_id"},
	})

	e, err := initEnricher()
	require.NoError(t, err)

	o := e.Options()
	assert.Equal(t, "telematics", o.SourcePrefix)
	assert.Equal(t, 2, o.ToleranceDays)
	assert.Equal(t, 40.0, o.AvgSpeedMPH)
	assert.Equal(t, enrich.TieBreakClosestDate, o.TieBreak)
	assert.Equal(t, "driver", o.Columns.DispatchDriver)
	assert.Equal(t, "date", o.Columns.DispatchDate)
	assert.Equal(t, "job_id", o.KeyColumn)
}

func TestInitEnricher_ProfileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("columns:\n  dispatch_date: service_date\ntolerance_days: 0\n"), 0o600))

	withConfig(t, &config.Config{
		Enrich: config.EnrichConfig{ToleranceDays: 3, TieBreak: "first", ProfilePath: path},
	})

	e, err := initEnricher()
	require.NoError(t, err)
	assert.Equal(t, "service_date", e.Options().Columns.DispatchDate)
	assert.Equal(t, 0, e.Options().ToleranceDays)
}

func TestInitEnricher_UnknownTieBreak(t *testing.T) {
	withConfig(t, &config.Config{Enrich: config.EnrichConfig{TieBreak: "random"}})

	_, err := initEnricher()
	assert.ErrorContains(t, err, "unknown tie_break")
}

func TestInitSamsara_RequiresToken(t *testing.T) {
	withConfig(t, &config.Config{})

	_, err := initSamsara()
	assert.ErrorContains(t, err, "DISPATCH_SAMSARA_API_TOKEN")
}

func TestInitSamsara(t *testing.T) {
	withConfig(t, &config.Config{Samsara: config.SamsaraConfig{APIToken: "tok", TimeoutSecs: 5, RatePerSec: 2, PageLimit: 100, MaxPages: 3}})

	c, err := initSamsara()
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestInitSheets_RequiresCredentials(t *testing.T) {
	withConfig(t, &config.Config{Sheets: config.SheetsConfig{SpreadsheetID: "sid"}})

	_, err := initSheets()
	assert.ErrorContains(t, err, "credentials")
}

func TestSetIf(t *testing.T) {
	s := "keep"
	setIf(&s, "")
	assert.Equal(t, "keep", s)
	setIf(&s, "new")
	assert.Equal(t, "new", s)
}
