// Package runner implements the attachment-processing job: search matching
// mail, fetch attachments, save them to the destination folder. Upstream
// calls are rate limited, retried with backoff, and guarded by one circuit
// breaker per dependency so a failing upstream degrades the job instead of
// aborting it.
package runner

import "time"

// Version identifies the runtime in health checks and terminal responses.
const Version = "2.3.0"

// Features enumerates what this runtime supports, reported by health_check.
var Features = []string{
	"process_gmail_flow",
	"health_check",
	"webhook_progress",
	"file_type_filter",
	"partial_results",
}

// Config carries every tunable of the job runtime. It is immutable after
// construction and injected into each component, so tests can run with tiny
// thresholds and timeouts.
type Config struct {
	// RatePerMinute budgets upstream API calls per rolling minute; when the
	// budget is spent the job sleeps until the window rolls over.
	RatePerMinute int
	// RateMaxWaits bounds how many windows one call may wait through before
	// giving up, so a pathological clock can not stall the job forever.
	RateMaxWaits int

	// MaxRetries caps attempts per upstream call.
	MaxRetries int
	// RetryBase seeds the doubling backoff between attempts.
	RetryBase time.Duration
	// RetryMax caps a single backoff pause.
	RetryMax time.Duration

	// BreakerThreshold is the consecutive-failure count that opens a
	// breaker.
	BreakerThreshold int
	// BreakerCooldown is how long an open breaker waits before probing
	// again (half-open).
	BreakerCooldown time.Duration

	// BatchSize is how many emails are processed between pauses.
	BatchSize int
	// BatchPause is the rest between batches.
	BatchPause time.Duration
}

// DefaultConfig matches the production runtime behavior.
func DefaultConfig() Config {
	return Config{
		RatePerMinute:    60,
		RateMaxWaits:     5,
		MaxRetries:       3,
		RetryBase:        500 * time.Millisecond,
		RetryMax:         8 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
		BatchSize:        5,
		BatchPause:       200 * time.Millisecond,
	}
}
