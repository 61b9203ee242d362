package samsara

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

	"github.com/sells-group/dispatch-sync/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: -1,
	}
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(fastRetry()),
		WithRateLimit(0),
	}
	return NewClient("test-token", append(base, opts...)...)
}

var (
	jan15 = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	jan16 = time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
)

func TestFetchTrips_SinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fleet/trips", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2025-01-15T00:00:00Z", r.URL.Query().Get("startTime"))
		assert.Equal(t, "2025-01-16T00:00:00Z", r.URL.Query().Get("endTime"))
		assert.Equal(t, "d1,d2", r.URL.Query().Get("driverIds"))
		assert.Equal(t, "g1", r.URL.Query().Get("groupIds"))
		assert.Empty(t, r.URL.Query().Get("vehicleIds"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{
				"id": "t1", "driverId": "d1", "driverName": "John Smith", "vehicleId": "v9",
				"startTime": "2025-01-15T08:00:00Z", "endTime": "2025-01-15T16:30:00Z",
				"distanceMiles": 152.3, "idleTimeMs": 1800000, "fuelUsedMl": 3785.41, "stopCount": 7
			}],
			"pagination": {"endCursor": "", "hasNextPage": false}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	tbl, err := c.FetchTrips(context.Background(), jan15, jan16, TripFilter{DriverIDs: []string{"d1", "d2"}, GroupIDs: []string{"g1"}})
	require.NoError(t, err)

	assert.Equal(t, TripColumns, tbl.Columns)
	require.Len(t, tbl.Rows, 1)
	row := tbl.Rows[0]
	assert.Equal(t, "John Smith", row[ColDriverName])
	assert.Equal(t, "2025-01-15", row[ColTripDate])
	assert.Equal(t, "152.3", row[ColTotalMiles])
	assert.Equal(t, "30", row[ColIdleMinutes])
	assert.Equal(t, "7", row[ColStopsCount])
	assert.Equal(t, "1", row[ColFuelGallons])
	assert.Equal(t, "2025-01-15T16:30:00Z", row[ColTripEnd])
}

func TestFetchTrips_CursorPagination(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var resp tripsResponse
		switch n {
		case 1:
			assert.Empty(t, r.URL.Query().Get("after"))
			resp = tripsResponse{Data: []Trip{{ID: "t1"}}, Pagination: pagination{EndCursor: "c1", HasNextPage: true}}
		case 2:
			assert.Equal(t, "c1", r.URL.Query().Get("after"))
			resp = tripsResponse{Data: []Trip{{ID: "t2"}}, Pagination: pagination{HasNextPage: false}}
		default:
			t.Fatalf("unexpected request %d", n)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	tbl, err := newTestClient(srv).FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "t1", tbl.Rows[0][ColTripID])
	assert.Equal(t, "t2", tbl.Rows[1][ColTripID])
}

func TestFetchTrips_PageNumberFallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			assert.Equal(t, "2", r.URL.Query().Get("page"))
		}
		_ = json.NewEncoder(w).Encode(tripsResponse{
			Data:       []Trip{{ID: "t"}},
			Pagination: pagination{HasNextPage: true},
		})
	}))
	defer srv.Close()

	tbl, err := newTestClient(srv, WithPagination(10, 3)).FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchTrips_EmptyDataStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [], "pagination": {"hasNextPage": true}}`))
	}))
	defer srv.Close()

	tbl, err := newTestClient(srv).FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, TripColumns, tbl.Columns)
	assert.Empty(t, tbl.Rows)
}

func TestFetchTrips_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"id": "t1"}], "pagination": {"hasNextPage": false}}`))
	}))
	defer srv.Close()

	tbl, err := newTestClient(srv).FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchTrips_PermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad token"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTrips_MissingToken(t *testing.T) {
	_, err := NewClient("").FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestFetchTrips_InvertedRange(t *testing.T) {
	_, err := NewClient("tok").FetchTrips(context.Background(), jan16, jan15, TripFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before start")
}

func TestFetchTrips_CircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := newTestClient(srv, WithCircuitBreaker(cb))

	_, err := c.FetchTrips(context.Background(), jan15, jan16, TripFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.CircuitOpen, cb.State())
}
