package runner

import (
	"context"
	"errors"
	"time"

	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/flowerr"
)

// withRetry runs op up to attempts times, doubling the pause between tries
// and capping it at max. Only retryable failures are tried again; permanent
// errors return immediately.
func withRetry(ctx context.Context, attempts int, base, max time.Duration,
	sleep func(ctx context.Context, d time.Duration) error, op func() error) error {

	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		delay := base << (attempt - 1)
		if max > 0 && delay > max {
			delay = max
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// retryable distinguishes transient failures (quota, network, timeout) from
// permanent ones by matching structured errors, not message substrings.
func retryable(err error) bool {
	if errors.Is(err, adapter.ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return flowerr.Retryable(err)
}
