package runner

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a call is short-circuited because the
// breaker is open. Callers supply their own fallback (typically "zero
// processed") instead of propagating it.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the current position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker. CLOSED moves to OPEN
// after threshold consecutive failures; OPEN moves to HALF_OPEN after the
// cooldown; HALF_OPEN closes on the next success and re-opens on the next
// failure.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Do runs op under the breaker. While open it returns ErrBreakerOpen without
// invoking op, bounding latency against a known-bad dependency.
func (b *Breaker) Do(op func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
	}
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
		return err
	}
	b.failures = 0
	b.state = BreakerClosed
	return nil
}

// State reports the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
