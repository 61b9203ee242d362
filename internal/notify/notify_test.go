package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/model"
)

func metrics() *model.EnrichmentMetrics {
	return &model.EnrichmentMetrics{
		TotalDispatch:    1250,
		TotalTelemetry:   1300,
		Matched:          1000,
		MatchRate:        0.8,
		AvgMilesVariance: model.Float(2.4),
	}
}

func TestBlocks_Success(t *testing.T) {
	w := &model.WriteResult{Inserted: 10, Updated: 2, Skipped: 1238}
	at := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

	blocks := Blocks(StatusSuccess, "Sync complete", metrics(), w, at)
	require.Len(t, blocks, 4)
	assert.Equal(t, "header", blocks[0].Type)
	assert.Equal(t, "Dispatch Sync Success", blocks[0].Text.Text)
	assert.Equal(t, ":white_check_mark: Sync complete", blocks[1].Text.Text)

	m := blocks[2].Text.Text
	assert.Contains(t, m, "Records Processed: 1,250")
	assert.Contains(t, m, "Match Rate: 80.0%")
	assert.Contains(t, m, "Avg Miles Variance: +2.4")
	assert.NotContains(t, m, "Avg Idle Time")
	assert.Contains(t, m, "Records Inserted: 10")
	assert.Contains(t, m, "Unchanged: 1,238")

	assert.Equal(t, "context", blocks[3].Type)
	assert.Equal(t, "2024-01-15 08:00:00 UTC", blocks[3].Elements[0].Text)
}

func TestBlocks_ErrorsCapped(t *testing.T) {
	w := &model.WriteResult{}
	for i := range 7 {
		w.Errors = append(w.Errors, model.ChunkError{Op: "insert", Start: i * 10, End: i*10 + 10, Attempts: 1, Err: "boom"})
	}

	blocks := Blocks(StatusError, "Sync failed", nil, w, time.Now())
	var errText string
	for _, b := range blocks {
		if b.Text != nil && len(b.Text.Text) > 8 && b.Text.Text[:8] == "*Errors:" {
			errText = b.Text.Text
		}
	}
	require.NotEmpty(t, errText)
	assert.Contains(t, errText, "insert rows [0,10) failed after 1 attempt(s): boom")
	assert.Contains(t, errText, "and 2 more")
	assert.NotContains(t, errText, "[50,60)")
}

func TestWebhook_Notify(t *testing.T) {
	var got Message
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{WebhookURL: srv.URL, Channel: "#automation-alerts", OnSuccess: true, OnError: true})
	n.Notify(context.Background(), StatusSuccess, "done", metrics(), nil)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "#automation-alerts", got.Channel)
	assert.Equal(t, "Dispatch sync success", got.Text)
	assert.NotEmpty(t, got.Blocks)
}

func TestWebhook_Toggles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := New(config.NotifyConfig{WebhookURL: srv.URL, OnSuccess: false, OnError: true})
	n.Notify(context.Background(), StatusSuccess, "quiet", nil, nil)
	assert.Equal(t, int32(0), calls.Load())

	n.Notify(context.Background(), StatusError, "loud", nil, nil)
	n.Notify(context.Background(), StatusWarning, "always", nil, nil)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(config.NotifyConfig{WebhookURL: srv.URL}).Send(context.Background(), StatusInfo, "x", nil, nil)
	assert.ErrorContains(t, err, "webhook returned status 403")
}

func TestNew_NoURLIsNop(t *testing.T) {
	_, ok := New(config.NotifyConfig{}).(Nop)
	assert.True(t, ok)
}
