package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/attachflow/relay/internal/model"
)

// Notifier delivers progress events. Delivery is fire-and-forget: a failed
// notification must never fail the job itself.
type Notifier interface {
	Notify(ctx context.Context, event model.ProgressEvent)
}

// NopNotifier drops every event; used when no webhook URL was supplied.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, model.ProgressEvent) {}

// FuncNotifier adapts a function to the Notifier interface. Dev mode routes
// events straight into the in-process progress channel with it.
type FuncNotifier func(model.ProgressEvent)

func (f FuncNotifier) Notify(_ context.Context, event model.ProgressEvent) { f(event) }

const (
	webhookTimeout  = 5 * time.Second
	webhookAttempts = 2
	webhookDelay    = 500 * time.Millisecond
)

// WebhookNotifier POSTs progress events to the relay's webhook receiver.
// Each delivery gets a short timeout and one retry; failures are logged and
// swallowed.
type WebhookNotifier struct {
	url    string
	client *http.Client
	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWebhookNotifier creates a notifier for the given receiver URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		sleep:  sleepCtx,
	}
}

// Notify delivers one event, retrying once after a short fixed delay. A lost
// notification is non-fatal; the job continues either way.
func (n *WebhookNotifier) Notify(ctx context.Context, event model.ProgressEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("webhook notify: failed to encode event: %v", err)
		return
	}

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if err := n.post(ctx, event.RequestID, body); err == nil {
			return
		} else {
			log.Printf("webhook notify attempt=%d request_id=%s failed: %v", attempt, event.RequestID, err)
		}
		if attempt < webhookAttempts {
			if err := n.sleep(ctx, webhookDelay); err != nil {
				return
			}
		}
	}
}

func (n *WebhookNotifier) post(ctx context.Context, requestID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &webhookStatusError{status: resp.StatusCode}
	}
	return nil
}

type webhookStatusError struct{ status int }

func (e *webhookStatusError) Error() string {
	return http.StatusText(e.status)
}
