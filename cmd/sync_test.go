package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/normalize"
	"github.com/sells-group/dispatch-sync/internal/pipeline"
)

func TestParseWindow(t *testing.T) {
	start, end, err := parseWindow("", "")
	require.NoError(t, err)
	assert.True(t, start.IsZero())
	assert.True(t, end.IsZero())

	start, end, err = parseWindow("2025-01-14", "2025-01-18")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC), end)
}

func TestParseWindow_Errors(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"start only", "2025-01-14", ""},
		{"end only", "", "2025-01-18"},
		{"bad start", "01/14/2025", "2025-01-18"},
		{"bad end", "2025-01-14", "soon"},
		{"inverted", "2025-01-18", "2025-01-14"},
		{"empty range", "2025-01-14", "2025-01-14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseWindow(tt.start, tt.end)
			assert.Error(t, err)
		})
	}
}

func TestFormatSyncSummary(t *testing.T) {
	start := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	res := &pipeline.Result{
		RunID:  "run-1",
		Status: model.RunStatusPartial,
		Metrics: model.EnrichmentMetrics{
			TotalDispatch:  10,
			TotalTelemetry: 12,
			Matched:        8,
			MatchRate:      0.8,
		},
		Plan:            &model.UpsertPlan{Inserts: make([]model.Row, 3), Updates: make([]model.PlannedUpdate, 2), Skipped: 5},
		Write:           &model.WriteResult{Inserted: 3, Errors: []model.ChunkError{{Op: "update", Start: 0, End: 2, Attempts: 4, Err: "boom"}}},
		Schema:          normalize.SchemaReport{Missing: []string{"planned_stops"}},
		JobIDsGenerated: 2,
		Window:          [2]time.Time{start, start.AddDate(0, 0, 4)},
	}

	var buf bytes.Buffer
	formatSyncSummary(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "2025-01-14 to 2025-01-18")
	assert.Contains(t, out, "8 (80.0%)")
	assert.Contains(t, out, "3 insert(s), 2 update(s), 5 unchanged")
	assert.Contains(t, out, "planned_stops")
	assert.Contains(t, out, "Job IDs generated:")
	assert.Contains(t, out, "update rows [0,2) failed after 4 attempt(s): boom")
}

func TestFormatSyncSummary_DryRun(t *testing.T) {
	var buf bytes.Buffer
	formatSyncSummary(&buf, &pipeline.Result{Status: model.RunStatusDryRun})
	out := buf.String()

	assert.Contains(t, out, "dry_run")
	assert.NotContains(t, out, "Run:")
	assert.NotContains(t, out, "Written:")
	assert.NotContains(t, out, "Window:")
}
