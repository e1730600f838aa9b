// Package relay implements the authenticated HTTP client that submits job
// payloads to the relay endpoint, with a primary and a fallback transport,
// a hard timeout, and exponential backoff with jitter.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/attachflow/relay/internal/flowerr"
)

// Policy governs one client's retry and timeout behavior. It is immutable
// after construction; tests inject tiny values.
type Policy struct {
	// Timeout is the hard ceiling for a single attempt, fallback included.
	Timeout time.Duration
	// MaxAttempts caps the number of submission attempts.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: base * 2^(attempt-1) + jitter.
	BaseDelay time.Duration
	// MaxDelay caps any single backoff pause.
	MaxDelay time.Duration
}

// DefaultPolicy matches the production relay behavior.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:     60 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    15 * time.Second,
	}
}

// Client submits payloads through the primary transport, falling back to the
// secondary on transport-level failure, retrying with backoff. It holds no
// mutable state beyond the injected collaborators.
type Client struct {
	primary  Transport
	fallback Transport
	policy   Policy
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration
}

// NewClient creates a relay client. fallback may be nil, disabling the
// fallback transport.
func NewClient(primary, fallback Transport, policy Policy) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Client{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		sleep:    sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Submit sends the payload and returns the terminal raw response. A non-2xx
// response is returned alongside a classified error so the caller can decide
// on refresh-and-retry (401) or surface guidance (403); transport failures
// and retryable statuses are retried up to the policy's attempt cap.
func (c *Client) Submit(ctx context.Context, payload interface{}) (*RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.KindValidation, "payload is not serializable", err)
	}

	var (
		resp    *RawResponse
		lastErr error
	)
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		start := time.Now()
		resp, lastErr = c.attempt(ctx, body)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		log.Printf("relay submit attempt=%d status=%d duration=%s err=%v",
			attempt, status, time.Since(start).Round(time.Millisecond), lastErr)

		if lastErr == nil {
			return resp, nil
		}
		if !flowerr.Retryable(lastErr) {
			return resp, lastErr
		}
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, flowerr.Wrap(flowerr.KindTimeout, "aborted while waiting to retry", err)
		}
	}

	return resp, lastErr
}

// attempt runs one submission: primary transport first, then the fallback
// once if the primary failed at the transport level. Application-level errors
// carried in a completed response never trigger the fallback.
func (c *Client) attempt(ctx context.Context, body []byte) (*RawResponse, error) {
	attemptCtx := ctx
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}

	resp, err := c.primary.Do(attemptCtx, body)
	if err != nil && c.fallback != nil && transportLevel(err) {
		log.Printf("relay primary transport failed, trying fallback: %v", err)
		resp, err = c.fallback.Do(attemptCtx, body)
	}
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, flowerr.FromStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// backoff computes the pause before the next attempt:
// base * 2^(attempt-1) + jitter, capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay << (attempt - 1)
	delay += c.jitter(c.policy.BaseDelay / 2)
	if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	return delay
}

func transportLevel(err error) bool {
	kind := flowerr.KindOf(err)
	return kind == flowerr.KindNetwork || kind == flowerr.KindTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
