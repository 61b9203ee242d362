package upsert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/model"
	"github.com/sells-group/dispatch-sync/internal/resilience"
)

// DefaultBatchSize is the chunk size used when Execute gets a non-positive one.
const DefaultBatchSize = 1000

// Executor applies upsert plans to a Store in paced, retried chunks.
type Executor struct {
	store   Store
	session *Session
	retry   resilience.RetryConfig
}

// NewExecutor creates an Executor. A nil session gets an unpaced one.
func NewExecutor(store Store, session *Session, retry resilience.RetryConfig) *Executor {
	if session == nil {
		session = NewSession(0)
	}
	return &Executor{store: store, session: session, retry: retry}
}

// chunk is one unit of submission. Rows [start,end) index into the plan's
// inserts or updates depending on op. done counts leading rows already
// written when the store can only update one row at a time.
type chunk struct {
	op         string
	start, end int
	done       int
	state      model.ChunkState
}

func (c *chunk) to(s model.ChunkState) {
	zap.L().Debug("upsert: chunk state",
		zap.String("op", c.op),
		zap.Int("start", c.start),
		zap.Int("end", c.end),
		zap.String("from", string(c.state)),
		zap.String("to", string(s)),
	)
	c.state = s
}

// Execute writes plan to table. It never returns an error: failed chunks are
// recorded in the result and the remaining chunks still run, so callers must
// check WriteResult.Errors. Counts cover acknowledged rows only. Once ctx
// is done no further chunks are sent and the rest are reported as failed.
func (e *Executor) Execute(ctx context.Context, table string, plan *model.UpsertPlan, batchSize int) *model.WriteResult {
	res := &model.WriteResult{StartedAt: time.Now()}
	defer func() { res.FinishedAt = time.Now() }()

	if plan == nil {
		return res
	}
	res.Skipped = plan.Skipped
	if plan.Empty() {
		return res
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	chunks := split("insert", len(plan.Inserts), batchSize)
	chunks = append(chunks, split("update", len(plan.Updates), batchSize)...)
	res.Chunks = len(chunks)

	log := zap.L().With(zap.String("table", table))

	if err := e.ensureHeaders(ctx, table, plan.Headers, res); err != nil {
		log.Error("upsert: ensure headers failed", zap.Error(err))
		for _, c := range chunks {
			e.fail(res, c, 0, err)
		}
		return res
	}

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			for _, rest := range chunks[i:] {
				e.fail(res, rest, 0, err)
			}
			log.Warn("upsert: cancelled", zap.Int("remaining_chunks", len(chunks)-i), zap.Error(err))
			break
		}
		if err := e.session.Wait(ctx); err != nil {
			for _, rest := range chunks[i:] {
				e.fail(res, rest, 0, err)
			}
			break
		}

		attempts, err := e.send(ctx, table, plan, c, res)
		if err != nil {
			c.to(model.ChunkFailed)
			if c.op == "update" {
				res.Updated += c.done
			}
			e.fail(res, c, attempts, err)
			log.Error("upsert: chunk failed",
				zap.String("op", c.op),
				zap.Int("start", c.start),
				zap.Int("end", c.end),
				zap.Int("written", c.done),
				zap.Int("attempts", attempts),
				zap.String("class", resilience.ClassifyError(err)),
				zap.Error(err),
			)
			continue
		}

		c.to(model.ChunkAcked)
		switch c.op {
		case "insert":
			res.Inserted += c.end - c.start
		case "update":
			res.Updated += c.end - c.start
		}
	}

	log.Info("upsert: execute complete",
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed_chunks", len(res.Errors)),
		zap.Int("rate_limited", res.RateLimited),
	)
	return res
}

func (e *Executor) send(ctx context.Context, table string, plan *model.UpsertPlan, c *chunk, res *model.WriteResult) (int, error) {
	cfg := e.retry
	onRetry := resilience.RetryLogger("upsert", c.op)
	cfg.OnRetry = func(attempt int, err error) {
		if resilience.IsRateLimited(err) {
			c.to(model.ChunkRateLimited)
			res.RateLimited++
			e.session.noteRateLimited()
		}
		onRetry(attempt, err)
	}

	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		c.to(model.ChunkSent)
		if c.op == "insert" {
			return e.store.Append(ctx, table, plan.Headers, plan.Inserts[c.start:c.end])
		}
		ups := plan.Updates[c.start:c.end]
		if bu, ok := e.store.(BatchUpdater); ok {
			return bu.UpdateMany(ctx, table, plan.Headers, ups)
		}
		// Retries resume after the last row the store accepted.
		for _, u := range ups[c.done:] {
			if err := e.store.UpdateAt(ctx, table, u.Position, plan.Headers, u.Row); err != nil {
				return err
			}
			c.done++
		}
		return nil
	})
}

func (e *Executor) ensureHeaders(ctx context.Context, table string, headers []string, res *model.WriteResult) error {
	if e.session.headersEnsured(table) {
		return nil
	}
	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger("upsert", "ensure_headers")
	if _, err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return e.store.EnsureHeaders(ctx, table, headers)
	}); err != nil {
		return err
	}
	e.session.markEnsured(table)
	return nil
}

func (e *Executor) fail(res *model.WriteResult, c *chunk, attempts int, err error) {
	c.state = model.ChunkFailed
	res.Errors = append(res.Errors, model.ChunkError{
		Op:        c.op,
		Start:     c.start + c.done,
		End:       c.end,
		Attempts:  attempts,
		Transient: resilience.ClassifyError(err) == resilience.ClassTransient,
		Err:       err.Error(),
	})
}

func split(op string, n, size int) []*chunk {
	var out []*chunk
	for start := 0; start < n; start += size {
		out = append(out, &chunk{op: op, start: start, end: min(start+size, n), state: model.ChunkPending})
	}
	return out
}
