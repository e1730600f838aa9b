package runner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter budgets calls per rolling minute. When the budget is spent,
// Wait sleeps until the window rolls over instead of failing the call. The
// wait is an explicit bounded loop, never recursion, so a stuck clock or
// quota cannot grow the stack.
type RateLimiter struct {
	perMinute int
	maxWaits  int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter with the given per-minute budget.
// maxWaits bounds how many full windows a single Wait may sit through.
func NewRateLimiter(perMinute, maxWaits int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if maxWaits <= 0 {
		maxWaits = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		maxWaits:  maxWaits,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Wait blocks until a call slot is available or the wait budget is spent.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for waits := 0; ; waits++ {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Minute {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.perMinute {
			l.count++
			l.mu.Unlock()
			return nil
		}
		wait := l.windowStart.Add(time.Minute).Sub(now)
		l.mu.Unlock()

		if waits >= l.maxWaits {
			return fmt.Errorf("rate limit wait budget exhausted after %d windows", waits)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
