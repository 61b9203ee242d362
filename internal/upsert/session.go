package upsert

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Session is the state shared by every write in one sync session: chunk
// pacing and which tables already have their headers. Callers create one
// per session and drop it afterwards; nothing is kept between sessions.
type Session struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	ensured     map[string]bool
	rateLimited int
}

// NewSession paces chunk submissions at most one per interval. A zero
// interval disables pacing.
func NewSession(interval time.Duration) *Session {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Session{limiter: lim, ensured: make(map[string]bool)}
}

// Wait blocks until the next chunk may be sent.
func (s *Session) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// RateLimited returns how many rate-limit responses the session has seen.
func (s *Session) RateLimited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimited
}

func (s *Session) noteRateLimited() {
	s.mu.Lock()
	s.rateLimited++
	s.mu.Unlock()
}

func (s *Session) headersEnsured(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensured[table]
}

func (s *Session) markEnsured(table string) {
	s.mu.Lock()
	s.ensured[table] = true
	s.mu.Unlock()
}
