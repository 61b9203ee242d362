package monitoring

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
)

func thresholds() config.MonitorConfig {
	return config.MonitorConfig{FailureRateThreshold: 0.10, MinMatchRate: 0.5, StaleHours: 26}
}

func healthy() *MetricsSnapshot {
	return &MetricsSnapshot{
		Total:         20,
		Complete:      19,
		Failed:        1,
		FailRate:      0.05,
		AvgMatchRate:  0.9,
		MatchSamples:  19,
		LastSuccess:   collectNow.Add(-time.Hour),
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	assert.Empty(t, NewAlerter(thresholds()).Evaluate(healthy()))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	snap := healthy()
	snap.Complete, snap.Failed, snap.FailRate = 12, 8, 0.4

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	snap := healthy()
	snap.Complete, snap.Failed, snap.FailRate = 1, 2, 0.666

	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate_LowMatchRate(t *testing.T) {
	snap := healthy()
	snap.AvgMatchRate = 0.3

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowMatchRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "30.0%")
}

func TestAlerter_Evaluate_MatchRateDisabled(t *testing.T) {
	cfg := thresholds()
	cfg.MinMatchRate = 0
	snap := healthy()
	snap.AvgMatchRate = 0.1

	assert.Empty(t, NewAlerter(cfg).Evaluate(snap))
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	snap := healthy()
	snap.LastSuccess = collectNow.Add(-30 * time.Hour)

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStale, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "last at")
}

func TestAlerter_Evaluate_NeverSucceeded(t *testing.T) {
	snap := healthy()
	snap.LastSuccess = time.Time{}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStale, alerts[0].Type)
	assert.NotContains(t, alerts[0].Message, "last at")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	snap := healthy()
	snap.Complete, snap.Failed, snap.FailRate = 10, 10, 0.5
	snap.AvgMatchRate = 0.2
	snap.LastSuccess = time.Time{}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertFailureRate])
	assert.True(t, types[AlertLowMatchRate])
	assert.True(t, types[AlertStale])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStale, Severity: "high", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStale}}))
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertStale, Message: "test"}}))
}
