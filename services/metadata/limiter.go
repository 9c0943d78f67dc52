package metadata

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 45
	defaultMaxConcurrent     = 20
)

// Limiter bounds outbound TMDB traffic: at most maxConcurrent requests in
// flight at once, and request starts paced so no trailing one-second window
// ever sees more than perSecond of them. Waiters are released in FIFO order.
//
// A nil *Limiter admits everything immediately, which is how rate limiting
// is disabled.
type Limiter struct {
	pace  *rate.Limiter
	slots *semaphore.Weighted
}

// NewLimiter returns a limiter admitting perSecond starts per second with
// maxConcurrent tasks in flight. Non-positive values fall back to the TMDB
// defaults (45/s, 20 concurrent).
func NewLimiter(perSecond, maxConcurrent int) *Limiter {
	if perSecond <= 0 {
		perSecond = defaultRequestsPerSecond
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	// Burst of one keeps starts evenly spaced at 1/perSecond intervals, so a
	// rolling one-second window can never contain more than perSecond starts.
	return &Limiter{
		pace:  rate.NewLimiter(rate.Every(time.Second/time.Duration(perSecond)), 1),
		slots: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Admit runs fn once a concurrency slot and the rate budget allow it and
// returns fn's result. Blocks until admitted or ctx is done.
func (l *Limiter) Admit(ctx context.Context, fn func() error) error {
	if l == nil {
		return fn()
	}
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.slots.Release(1)
	if err := l.pace.Wait(ctx); err != nil {
		return err
	}
	return fn()
}
