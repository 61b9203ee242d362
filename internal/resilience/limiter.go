package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a rate.Limiter that speeds up 20% per success, up to
// twice its initial rate, and halves on a rate-limit response, down to a
// quarter of its initial rate.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	name        string
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter. A non-positive rate
// returns an unlimited limiter that never adapts.
func NewAdaptiveLimiter(name string, initial rate.Limit, burst int) *AdaptiveLimiter {
	if initial <= 0 {
		initial = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &AdaptiveLimiter{
		name:        name,
		limiter:     rate.NewLimiter(initial, burst),
		maxRate:     initial * 2,
		minRate:     initial / 4,
		currentRate: initial,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%, capped at twice the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate, floored at a quarter of the initial rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.String("service", a.name),
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Observe adjusts the rate from the outcome of one call.
func (a *AdaptiveLimiter) Observe(err error) {
	switch {
	case err == nil:
		a.OnSuccess()
	case IsRateLimited(err):
		a.OnRateLimit()
	}
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
