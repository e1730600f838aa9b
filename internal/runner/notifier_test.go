package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/attachflow/relay/internal/model"
)

func testEvent() model.ProgressEvent {
	return model.ProgressEvent{
		Type:      "status_update",
		Status:    model.ProgressProcessing,
		Message:   "Processed 2 of 5 emails",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		RequestID: "flow-f1-1700000000000",
	}
}

func TestWebhookNotifierDelivers(t *testing.T) {
	var mu sync.Mutex
	var got model.ProgressEvent
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requestID = r.Header.Get("X-Request-ID")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.Notify(context.Background(), testEvent())

	mu.Lock()
	defer mu.Unlock()
	if requestID != "flow-f1-1700000000000" {
		t.Fatalf("X-Request-ID = %q", requestID)
	}
	if got.Status != model.ProgressProcessing || got.Message != "Processed 2 of 5 emails" {
		t.Fatalf("delivered event = %+v", got)
	}
}

func TestWebhookNotifierRetriesOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.sleep = func(context.Context, time.Duration) error { return nil }
	n.Notify(context.Background(), testEvent())

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestWebhookNotifierFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.sleep = func(context.Context, time.Duration) error { return nil }
	// Must return normally even though every attempt fails.
	n.Notify(context.Background(), testEvent())
}
