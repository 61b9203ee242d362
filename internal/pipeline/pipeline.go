// Package pipeline runs one dispatch sync end to end: load both sources,
// normalize, enrich, plan against the destination snapshot, write, record
// the run and notify.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/enrich"
	"github.com/sells-group/dispatch-sync/internal/fetcher"
	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/normalize"
	"github.com/sells-group/dispatch-sync/internal/notify"
	"github.com/sells-group/dispatch-sync/internal/resilience"
	"github.com/sells-group/dispatch-sync/internal/store"
	"github.com/sells-group/dispatch-sync/internal/upsert"
	"github.com/sells-group/dispatch-sync/pkg/samsara"
)

// ProcessedAtColumn stamps each enriched row with the sync time. It is
// ignored when deciding whether a remote row needs an update.
const ProcessedAtColumn = "processed_at"

// ErrNoTelemetry is returned when neither a telemetry file nor an API client
// is available.
var ErrNoTelemetry = eris.New("pipeline: no telemetry source configured")

// ErrSchema is returned in strict mode when the dispatch sheet lacks
// required columns.
var ErrSchema = eris.New("pipeline: dispatch schema check failed")

// Deps are the collaborators a Pipeline drives. Telemetry, Remote and
// Ledger are optional.
type Deps struct {
	Source    fetcher.Source
	Telemetry samsara.TelemetryFetcher
	Remote    upsert.Store
	Ledger    store.Store
	Notifier  notify.Notifier
}

// Request describes one sync.
type Request struct {
	DispatchSource  string
	TelemetrySource string // file or URL; when empty the API is queried
	Start, End      time.Time
	Filter          samsara.TripFilter
	Worksheet       string
	DryRun          bool
}

// Result is everything a sync produced.
type Result struct {
	RunID           string                  `json:"run_id,omitempty"`
	Status          model.RunStatus         `json:"status"`
	Enriched        model.Table             `json:"-"`
	Metrics         model.EnrichmentMetrics `json:"metrics"`
	Plan            *model.UpsertPlan       `json:"plan,omitempty"`
	Write           *model.WriteResult      `json:"write,omitempty"`
	Dispatch        normalize.Report        `json:"dispatch"`
	Telemetry       normalize.Report        `json:"telemetry"`
	Schema          normalize.SchemaReport  `json:"schema"`
	JobIDsGenerated int                     `json:"job_ids_generated"`
	Window          [2]time.Time            `json:"window"`
}

// Pipeline owns the per-session write state, so one Pipeline should serve
// one sync session.
type Pipeline struct {
	cfg      *config.Config
	deps     Deps
	enricher *enrich.Enricher
	session  *upsert.Session
	now      func() time.Time
}

// New creates a Pipeline. A nil notifier is replaced with notify.Nop.
func New(cfg *config.Config, deps Deps, enricher *enrich.Enricher) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if enricher == nil {
		enricher = enrich.New(enrich.DefaultOptions())
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		enricher: enricher,
		session:  upsert.NewSession(time.Duration(cfg.Sync.PacingMs) * time.Millisecond),
		now:      time.Now,
	}
}

// Session exposes the write session, mostly for its rate-limit counter.
func (p *Pipeline) Session() *upsert.Session { return p.session }

// Run executes one sync. Configuration and load errors fail the run and are
// returned; partial write failures are reported in Result.Write and do not
// produce an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Worksheet == "" {
		req.Worksheet = p.cfg.Sheets.Worksheet
	}
	log := zap.L().With(zap.String("dispatch", req.DispatchSource), zap.String("worksheet", req.Worksheet))
	log.Info("pipeline: starting sync", zap.Bool("dry_run", req.DryRun))

	res := &Result{Status: model.RunStatusRunning}

	var runID string
	if p.deps.Ledger != nil {
		run, err := p.deps.Ledger.CreateRun(ctx, req.DispatchSource, req.Worksheet)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		res.RunID = runID
		log = log.With(zap.String("run_id", runID))
	}

	setStatus := func(status model.RunStatus) {
		res.Status = status
		if p.deps.Ledger == nil {
			return
		}
		if err := p.deps.Ledger.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	fail := func(err error) (*Result, error) {
		res.Status = model.RunStatusFailed
		log.Error("pipeline: sync failed", zap.Error(err))
		p.finish(ctx, runID, res, err.Error())
		if !req.DryRun {
			p.deps.Notifier.Notify(ctx, notify.StatusError, "Sync failed: "+err.Error(), metricsOrNil(res), res.Write)
		}
		return res, err
	}

	dispatch, telemetry, err := p.load(ctx, req, res)
	if err != nil {
		return fail(err)
	}

	enriched, err := p.enricher.Enrich(dispatch, telemetry)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: enrich"))
	}
	res.Metrics = enriched.Metrics
	res.Enriched = stamp(enriched.Table(), p.now().UTC())
	setStatus(model.RunStatusEnriched)

	log.Info("pipeline: enrichment complete",
		zap.Int("dispatch", enriched.Metrics.TotalDispatch),
		zap.Int("telemetry", enriched.Metrics.TotalTelemetry),
		zap.Int("matched", enriched.Metrics.Matched),
		zap.Float64("match_rate", enriched.Metrics.MatchRate),
	)

	if p.deps.Remote == nil {
		if !req.DryRun {
			return fail(eris.New("pipeline: no destination store configured"))
		}
		res.Status = model.RunStatusDryRun
		p.finish(ctx, runID, res, "")
		return res, nil
	}

	key := p.enricher.Options().KeyColumn
	snap, err := p.deps.Remote.ReadSnapshot(ctx, req.Worksheet, key)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: read snapshot"))
	}
	if len(snap.Duplicates) > 0 {
		log.Warn("pipeline: destination has duplicate keys; first occurrence is updated",
			zap.Int("count", len(snap.Duplicates)),
			zap.Strings("keys", head(snap.Duplicates, 10)),
		)
	}

	planner := upsert.Planner{IgnoreColumns: []string{ProcessedAtColumn}}
	plan, err := planner.Plan(res.Enriched, snap.Rows, key)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: plan"))
	}
	res.Plan = plan
	if len(plan.Duplicates) > 0 {
		log.Warn("pipeline: batch has duplicate keys; first occurrence wins",
			zap.Int("count", len(plan.Duplicates)),
			zap.Strings("keys", head(plan.Duplicates, 10)),
		)
	}
	if len(plan.Rejected) > 0 {
		log.Warn("pipeline: rows with empty key left unwritten",
			zap.String("key", key),
			zap.Ints("rows", plan.Rejected),
		)
	}
	log.Info("pipeline: plan ready",
		zap.Int("inserts", len(plan.Inserts)),
		zap.Int("updates", len(plan.Updates)),
		zap.Int("skipped", plan.Skipped),
	)

	if req.DryRun {
		res.Status = model.RunStatusDryRun
		p.finish(ctx, runID, res, "")
		return res, nil
	}

	if p.deps.Ledger != nil && !plan.Empty() {
		if err := p.deps.Ledger.RecordChanges(ctx, runID, store.ChangesFromPlan(runID, plan)); err != nil {
			log.Warn("pipeline: failed to record changes", zap.Error(err))
		}
	}

	setStatus(model.RunStatusWriting)
	exec := upsert.NewExecutor(p.deps.Remote, p.session, p.retryConfig())
	res.Write = exec.Execute(ctx, req.Worksheet, plan, p.cfg.Sync.BatchSize)

	var errMsg string
	switch {
	case res.Write.OK():
		res.Status = model.RunStatusComplete
		p.deps.Notifier.Notify(ctx, notify.StatusSuccess, successMessage(req, res), &res.Metrics, res.Write)
	case res.Write.Inserted+res.Write.Updated > 0:
		res.Status = model.RunStatusPartial
		errMsg = fmt.Sprintf("%d chunk(s) failed", len(res.Write.Errors))
		p.deps.Notifier.Notify(ctx, notify.StatusWarning, "Sync partially written: "+errMsg, &res.Metrics, res.Write)
	default:
		res.Status = model.RunStatusFailed
		errMsg = fmt.Sprintf("%d chunk(s) failed", len(res.Write.Errors))
		p.deps.Notifier.Notify(ctx, notify.StatusError, "Sync write failed: "+errMsg, &res.Metrics, res.Write)
	}

	p.finish(ctx, runID, res, errMsg)
	log.Info("pipeline: sync finished",
		zap.String("status", string(res.Status)),
		zap.Int("inserted", res.Write.Inserted),
		zap.Int("updated", res.Write.Updated),
		zap.Int("rate_limited", res.Write.RateLimited),
	)
	return res, nil
}

// load reads dispatch and telemetry and normalizes both. When the telemetry
// window is known up front the sources load concurrently; otherwise the
// window is derived from the dispatch dates first.
func (p *Pipeline) load(ctx context.Context, req Request, res *Result) (model.Table, model.Table, error) {
	if req.TelemetrySource == "" && p.deps.Telemetry == nil {
		return model.Table{}, model.Table{}, ErrNoTelemetry
	}
	if p.deps.Source == nil {
		return model.Table{}, model.Table{}, eris.New("pipeline: no table source configured")
	}

	var rawDispatch, rawTelemetry model.Table
	deferTelemetry := req.TelemetrySource == "" && (req.Start.IsZero() || req.End.IsZero())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := p.deps.Source.Load(gCtx, req.DispatchSource)
		if err != nil {
			return eris.Wrap(err, "pipeline: load dispatch")
		}
		rawDispatch = t
		return nil
	})
	if !deferTelemetry {
		g.Go(func() error {
			t, err := p.loadTelemetry(gCtx, req, req.Start, req.End)
			rawTelemetry = t
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.Table{}, model.Table{}, err
	}

	dispatch, err := p.prepareDispatch(rawDispatch, res)
	if err != nil {
		return model.Table{}, model.Table{}, err
	}

	start, end := req.Start, req.End
	if deferTelemetry {
		var ok bool
		start, end, ok = dateWindow(dispatch, p.enricher.Options().Columns.DispatchDate, p.enricher.Options().ToleranceDays)
		if !ok {
			return model.Table{}, model.Table{}, eris.New("pipeline: dispatch has no dates to derive a telemetry window from")
		}
		rawTelemetry, err = p.loadTelemetry(ctx, req, start, end)
		if err != nil {
			return model.Table{}, model.Table{}, err
		}
	}
	res.Window = [2]time.Time{start, end}

	return dispatch, p.prepareTelemetry(rawTelemetry, res), nil
}

func (p *Pipeline) loadTelemetry(ctx context.Context, req Request, start, end time.Time) (model.Table, error) {
	if req.TelemetrySource != "" {
		t, err := p.deps.Source.Load(ctx, req.TelemetrySource)
		return t, eris.Wrap(err, "pipeline: load telemetry")
	}
	t, err := p.deps.Telemetry.FetchTrips(ctx, start, end, req.Filter)
	return t, eris.Wrap(err, "pipeline: fetch telemetry")
}

func (p *Pipeline) prepareDispatch(raw model.Table, res *Result) (model.Table, error) {
	o := p.enricher.Options()
	t, rep := normalize.Table(raw, normalize.Options{
		DateColumn:     o.Columns.DispatchDate,
		IdentityColumn: o.Columns.DispatchDriver,
		NumericColumns: []string{o.Fields.PlannedMiles, o.Fields.PlannedStops},
		KeepIncomplete: true,
	})
	res.Dispatch = rep
	logReport("dispatch", rep)

	res.Schema = dispatchSchema(o).Check(t)
	if !res.Schema.Valid() {
		if p.cfg.Enrich.StrictSchema {
			return model.Table{}, eris.Wrapf(ErrSchema, "missing %v", res.Schema.Missing)
		}
		zap.L().Warn("pipeline: dispatch sheet is missing expected columns", zap.Strings("missing", res.Schema.Missing))
	}

	t, res.JobIDsGenerated = normalize.AssignJobIDs(t, o.KeyColumn)
	if res.JobIDsGenerated > 0 {
		zap.L().Info("pipeline: generated job ids", zap.Int("count", res.JobIDsGenerated))
	}
	return t, nil
}

func (p *Pipeline) prepareTelemetry(raw model.Table, res *Result) model.Table {
	o := p.enricher.Options()
	t, rep := normalize.Table(raw, normalize.Options{
		DateColumn:     o.Columns.TelemetryDate,
		IdentityColumn: o.Columns.TelemetryDriver,
		NumericColumns: []string{o.Fields.TotalMiles, o.Fields.IdleTime, o.Fields.StopsCount, o.Fields.FuelUsed},
	})
	res.Telemetry = rep
	logReport("telemetry", rep)
	return t
}

func (p *Pipeline) retryConfig() resilience.RetryConfig {
	rc := resilience.FromRetryConfig(p.cfg.Sync.MaxAttempts, p.cfg.Sync.InitialBackoffMs, p.cfg.Sync.MaxBackoffMs)
	rc.OnRetry = resilience.RetryLogger("sheets", "write_chunk")
	return rc
}

func (p *Pipeline) finish(ctx context.Context, runID string, res *Result, errMsg string) {
	if p.deps.Ledger == nil {
		return
	}
	out := store.RunOutcome{Status: res.Status, Metrics: metricsOrNil(res), Write: res.Write, Error: errMsg}
	if err := p.deps.Ledger.FinishRun(ctx, runID, out); err != nil {
		zap.L().Warn("pipeline: failed to finish run", zap.String("run_id", runID), zap.Error(err))
	}
}
