package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "dispatch.xlsx", "Enriched")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "dispatch.xlsx", got.Source)
		assert.Equal(t, "Enriched", got.Worksheet)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Nil(t, got.Metrics)
		assert.Nil(t, got.Write)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "a.csv", "Sheet1")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusWriting))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusWriting, got.Status)

		err = s.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FinishRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "a.csv", "Sheet1")
		require.NoError(t, err)

		out := RunOutcome{
			Status: model.RunStatusPartial,
			Metrics: &model.EnrichmentMetrics{
				TotalDispatch:    10,
				TotalTelemetry:   8,
				Matched:          7,
				MatchRate:        0.7,
				AvgMilesVariance: model.Float(-1.5),
			},
			Write: &model.WriteResult{
				Inserted: 5,
				Updated:  2,
				Chunks:   3,
				Errors:   []model.ChunkError{{Op: "insert", Start: 5, End: 7, Attempts: 3, Err: "boom"}},
			},
			Error: "1 chunk failed",
		}
		require.NoError(t, s.FinishRun(ctx, run.ID, out))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusPartial, got.Status)
		require.NotNil(t, got.Metrics)
		assert.Equal(t, 7, got.Metrics.Matched)
		require.NotNil(t, got.Metrics.AvgMilesVariance)
		assert.InDelta(t, -1.5, *got.Metrics.AvgMilesVariance, 1e-9)
		assert.Nil(t, got.Metrics.AvgIdlePercentage)
		require.NotNil(t, got.Write)
		assert.Equal(t, 5, got.Write.Inserted)
		require.Len(t, got.Write.Errors, 1)
		assert.Equal(t, "boom", got.Write.Errors[0].Err)
		assert.Equal(t, "1 chunk failed", got.Error)

		assert.ErrorIs(t, s.FinishRun(ctx, "missing", out), ErrNotFound)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r1, err := s.CreateRun(ctx, "a.csv", "Alpha")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, "b.csv", "Beta")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, r1.ID, model.RunStatusComplete))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		done, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, r1.ID, done[0].ID)

		beta, err := s.ListRuns(ctx, RunFilter{Worksheet: "Beta"})
		require.NoError(t, err)
		require.Len(t, beta, 1)
		assert.Equal(t, "b.csv", beta[0].Source)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("RecordAndListChanges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "a.csv", "Sheet1")
		require.NoError(t, err)

		changes := []model.RowChange{
			{Key: "JOB-2", Action: model.ChangeInsert},
			{Key: "JOB-1", Action: model.ChangeUpdate, Position: 4},
		}
		require.NoError(t, s.RecordChanges(ctx, run.ID, changes))
		// Re-recording the same keys keeps one row per key.
		require.NoError(t, s.RecordChanges(ctx, run.ID, changes))

		got, err := s.ListChanges(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.ChangeInsert, got[0].Action)
		assert.Equal(t, "JOB-2", got[0].Key)
		assert.Equal(t, model.ChangeUpdate, got[1].Action)
		assert.Equal(t, 4, got[1].Position)
		assert.Equal(t, run.ID, got[1].RunID)

		require.NoError(t, s.RecordChanges(ctx, run.ID, nil))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	_, err = s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestChangesFromPlan(t *testing.T) {
	plan := &model.UpsertPlan{
		KeyColumn: "_kp_job_id",
		Inserts:   []model.Row{{"_kp_job_id": "J3"}},
		Updates:   []model.PlannedUpdate{{Position: 2, Key: "J1"}},
	}
	got := ChangesFromPlan("run-1", plan)
	assert.Equal(t, []model.RowChange{
		{RunID: "run-1", Key: "J3", Action: model.ChangeInsert},
		{RunID: "run-1", Key: "J1", Action: model.ChangeUpdate, Position: 2},
	}, got)

	assert.Nil(t, ChangesFromPlan("run-1", nil))
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, 100, limitOrDefault(0))
	assert.Equal(t, 100, limitOrDefault(-3))
	assert.Equal(t, 7, limitOrDefault(7))
}
