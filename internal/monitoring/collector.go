// Package monitoring watches the sync-run ledger and raises alerts when
// syncs start failing, stop matching telemetry, or stop running at all.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Partial  int     `json:"partial"`
	Failed   int     `json:"failed"`
	DryRun   int     `json:"dry_run"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// Averaged over runs that recorded enrichment metrics.
	AvgMatchRate float64 `json:"avg_match_rate"`
	MatchSamples int     `json:"match_samples"`

	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	RateLimited int `json:"rate_limited"`

	// LastSuccess is the newest complete or partial run, zero if none.
	LastSuccess time.Time `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.SyncRun, error)
}

// Collector gathers metrics from the run ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of sync metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var matchSum float64
	for _, r := range runs {
		if (r.Status == model.RunStatusComplete || r.Status == model.RunStatusPartial) && r.CreatedAt.After(snap.LastSuccess) {
			snap.LastSuccess = r.CreatedAt
		}
		if r.CreatedAt.Before(cutoff) {
			continue
		}

		snap.Total++
		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
		case model.RunStatusPartial:
			snap.Partial++
		case model.RunStatusFailed:
			snap.Failed++
		case model.RunStatusDryRun:
			snap.DryRun++
		default:
			snap.Running++
		}
		if r.Metrics != nil && r.Metrics.TotalDispatch > 0 {
			matchSum += r.Metrics.MatchRate
			snap.MatchSamples++
		}
		if r.Write != nil {
			snap.Inserted += r.Write.Inserted
			snap.Updated += r.Write.Updated
			snap.RateLimited += r.Write.RateLimited
		}
	}

	if finished := snap.Complete + snap.Partial + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.MatchSamples > 0 {
		snap.AvgMatchRate = matchSum / float64(snap.MatchSamples)
	}
	return snap, nil
}
