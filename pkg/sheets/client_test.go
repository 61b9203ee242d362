package sheets

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/resilience"
	"github.com/sells-group/dispatch-sync/internal/upsert"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient("sid", StaticToken("test-token"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", StaticToken("x"))
	assert.ErrorIs(t, err, ErrMissingSpreadsheet)

	_, err = NewClient("sid", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token source")
}

func TestReadSnapshot_MissingWorksheet(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Sheet1")
	c := newTestClient(t, srv)

	snap, err := c.ReadSnapshot(context.Background(), "Enriched", "_kp_job_id")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Empty(t, snap.Headers)
	assert.Equal(t, 0, f.count("get"))
}

func TestReadSnapshot_RowsAndPositions(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched",
		[]string{"_kp_job_id", "driver_name", "miles"},
		[]string{"J1", "John Smith", "150"},
		[]string{"", "No Key", "1"},
		[]string{"J2", "Jane Doe"},
		[]string{"J1", "Dup", "9"},
	)
	c := newTestClient(t, srv)

	snap, err := c.ReadSnapshot(context.Background(), "Enriched", "_kp_job_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"_kp_job_id", "driver_name", "miles"}, snap.Headers)
	require.Equal(t, 2, snap.Len())

	assert.Equal(t, 2, snap.Rows["J1"].Position)
	assert.Equal(t, "John Smith", snap.Rows["J1"].Values["driver_name"])
	assert.Equal(t, 4, snap.Rows["J2"].Position)
	assert.Equal(t, "", snap.Rows["J2"].Values["miles"])
	assert.Equal(t, []string{"J1"}, snap.Duplicates)
}

func TestReadSnapshot_KeyColumnAbsent(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched", []string{"a", "b"}, []string{"1", "2"})
	c := newTestClient(t, srv)

	snap, err := c.ReadSnapshot(context.Background(), "Enriched", "_kp_job_id")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, []string{"a", "b"}, snap.Headers)
}

func TestEnsureHeaders_CreatesWorksheet(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Sheet1")
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.EnsureHeaders(ctx, "Enriched", []string{"id", "miles"}))
	assert.Equal(t, [][]string{{"id", "miles"}}, f.grid("Enriched"))
	assert.Equal(t, 1, f.count("batchUpdate"))

	// A second batch with a new column extends the header row in place.
	require.NoError(t, c.EnsureHeaders(ctx, "Enriched", []string{"miles", "stops", "id"}))
	assert.Equal(t, [][]string{{"id", "miles", "stops"}}, f.grid("Enriched"))
	assert.Equal(t, 2, f.count("put"))

	// Nothing new means no write.
	require.NoError(t, c.EnsureHeaders(ctx, "Enriched", []string{"id"}))
	assert.Equal(t, 2, f.count("put"))
}

func TestEnsureHeaders_WidensGrid(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched", []string{"id"})
	c := newTestClient(t, srv)

	headers := []string{"id"}
	for i := 0; i < 30; i++ {
		headers = append(headers, "col_"+columnLetter(i))
	}
	require.NoError(t, c.EnsureHeaders(context.Background(), "Enriched", headers))

	assert.Equal(t, 31, f.sheets["Enriched"].cols)
	assert.Equal(t, headers, f.grid("Enriched")[0])
}

func TestAppend_UsesWorksheetOrder(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched", []string{"miles", "notes", "id"})
	c := newTestClient(t, srv)

	err := c.Append(context.Background(), "Enriched", []string{"id", "miles"}, []model.Row{
		{"id": "J1", "miles": "10", "notes": "not in batch"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "", "J1"}, f.grid("Enriched")[1])
}

func TestUpdateMany_PreservesOtherColumns(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched",
		[]string{"id", "notes", "miles", "stops"},
		[]string{"J1", "keep me", "1", "2"},
		[]string{"J2", "and me", "3", "4"},
	)
	c := newTestClient(t, srv)

	err := c.UpdateMany(context.Background(), "Enriched", []string{"id", "miles", "stops"}, []model.PlannedUpdate{
		{Position: 2, Key: "J1", Row: model.Row{"id": "J1", "miles": "10", "stops": "20"}},
		{Position: 3, Key: "J2", Row: model.Row{"id": "J2", "miles": "30", "stops": "40"}},
	})
	require.NoError(t, err)

	g := f.grid("Enriched")
	assert.Equal(t, []string{"J1", "keep me", "10", "20"}, g[1])
	assert.Equal(t, []string{"J2", "and me", "30", "40"}, g[2])
	assert.Equal(t, 1, f.count("values.batchUpdate"))
}

func TestUpdateAt_RejectsHeaderRow(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched", []string{"id"})
	c := newTestClient(t, srv)

	err := c.UpdateAt(context.Background(), "Enriched", 1, []string{"id"}, model.Row{"id": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid row position")
}

func TestAppend_RateLimitedIsTransient(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Enriched", []string{"id"})
	f.failStatus, f.failNext = 429, 1
	c := newTestClient(t, srv)

	err := c.Append(context.Background(), "Enriched", []string{"id"}, []model.Row{{"id": "J1"}})
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
	assert.True(t, resilience.IsTransient(err))
}

func TestUpsertRoundTrip(t *testing.T) {
	f, srv := newFakeSheets(t)
	f.addSheet("Sheet1")
	c := newTestClient(t, srv)
	ctx := context.Background()
	const key = "_kp_job_id"

	batch := model.NewTable([]string{key, "driver_name", "miles"}, [][]string{
		{"J1", "John Smith", "150"},
		{"J2", "Jane Doe", "80.5"},
	})

	exec := upsert.NewExecutor(c, upsert.NewSession(0), resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond})

	apply := func() *model.UpsertPlan {
		t.Helper()
		snap, err := c.ReadSnapshot(ctx, "Enriched", key)
		require.NoError(t, err)
		plan, err := upsert.Plan(batch, snap.Rows, key)
		require.NoError(t, err)
		res := exec.Execute(ctx, "Enriched", plan, 1000)
		require.True(t, res.OK(), "%v", res.Errors)
		return plan
	}

	first := apply()
	assert.Len(t, first.Inserts, 2)
	assert.Equal(t, [][]string{
		{key, "driver_name", "miles"},
		{"J1", "John Smith", "150"},
		{"J2", "Jane Doe", "80.5"},
	}, f.grid("Enriched"))

	second := apply()
	assert.True(t, second.Empty())

	batch.Rows[1]["miles"] = "81"
	third := apply()
	require.Len(t, third.Updates, 1)
	assert.Equal(t, 3, third.Updates[0].Position)
	assert.Equal(t, "81", f.grid("Enriched")[2][2])
	assert.Equal(t, 1, f.count("values.batchUpdate"))
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA", 701: "ZZ", 702: "AAA"}
	for in, want := range tests {
		assert.Equal(t, want, columnLetter(in), "index %d", in)
	}
}

func TestQuoteSheet(t *testing.T) {
	assert.Equal(t, "'Raw Data'", quoteSheet("Raw Data"))
	assert.Equal(t, "'Bob''s'", quoteSheet("Bob's"))
}

func TestColumnRuns(t *testing.T) {
	runs := columnRuns([]string{"a", "b", "x", "c", "y", "y2", "d"}, toSet([]string{"a", "b", "c", "d"}))
	assert.Equal(t, []colRun{{0, 2}, {3, 4}, {6, 7}}, runs)
	assert.Empty(t, columnRuns([]string{"x"}, toSet([]string{"a"})))
}
