package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attachflow/relay/internal/flowerr"
)

// fakeTransport scripts a sequence of outcomes, one per call.
type fakeTransport struct {
	name  string
	calls int
	fn    func(call int) (*RawResponse, error)
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Do(ctx context.Context, body []byte) (*RawResponse, error) {
	f.calls++
	return f.fn(f.calls)
}

func testPolicy() Policy {
	return Policy{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

// newTestClient replaces the real sleeper with a recorder and zeroes jitter
// so delays are deterministic.
func newTestClient(primary, fallback Transport, policy Policy) (*Client, *[]time.Duration) {
	c := NewClient(primary, fallback, policy)
	delays := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	c.jitter = func(time.Duration) time.Duration { return 0 }
	return c, delays
}

func TestSubmit_RetriesThenSucceeds(t *testing.T) {
	primary := &fakeTransport{name: "primary", fn: func(call int) (*RawResponse, error) {
		if call <= 2 {
			return nil, flowerr.New(flowerr.KindNetwork, "connection reset")
		}
		return &RawResponse{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
	}}

	c, delays := newTestClient(primary, nil, testPolicy())
	resp, err := c.Submit(context.Background(), map[string]string{"action": "health_check"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if primary.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", primary.calls)
	}

	// delay >= base * 2^(attempt-1)
	base := testPolicy().BaseDelay
	want := []time.Duration{base, base * 2}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d pauses, got %d", len(want), len(*delays))
	}
	for i, d := range *delays {
		if d < want[i] {
			t.Errorf("delay %d = %v, want >= %v", i, d, want[i])
		}
	}
}

func TestSubmit_ExhaustsAttempts(t *testing.T) {
	primary := &fakeTransport{name: "primary", fn: func(int) (*RawResponse, error) {
		return nil, flowerr.New(flowerr.KindNetwork, "connection refused")
	}}

	c, _ := newTestClient(primary, nil, testPolicy())
	_, err := c.Submit(context.Background(), struct{}{})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if flowerr.KindOf(err) != flowerr.KindNetwork {
		t.Errorf("expected network kind, got %v", flowerr.KindOf(err))
	}
	if primary.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", primary.calls)
	}
}

func TestSubmit_FallbackOnTransportFailure(t *testing.T) {
	primary := &fakeTransport{name: "primary", fn: func(int) (*RawResponse, error) {
		return nil, flowerr.New(flowerr.KindNetwork, "primary down")
	}}
	fallback := &fakeTransport{name: "fallback", fn: func(int) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
	}}

	c, _ := newTestClient(primary, fallback, testPolicy())
	resp, err := c.Submit(context.Background(), struct{}{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("expected one primary and one fallback call, got %d/%d", primary.calls, fallback.calls)
	}
}

func TestSubmit_NoFallbackOnApplicationError(t *testing.T) {
	// A completed 2xx exchange carrying an application-level error must not
	// touch the fallback transport.
	primary := &fakeTransport{name: "primary", fn: func(int) (*RawResponse, error) {
		return &RawResponse{StatusCode: 200, Body: []byte(`{"status":"error","message":"boom"}`)}, nil
	}}
	fallback := &fakeTransport{name: "fallback", fn: func(int) (*RawResponse, error) {
		t.Fatal("fallback must not be called")
		return nil, nil
	}}

	c, _ := newTestClient(primary, fallback, testPolicy())
	resp, err := c.Submit(context.Background(), struct{}{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func TestSubmit_AuthErrorNotRetried(t *testing.T) {
	primary := &fakeTransport{name: "primary", fn: func(int) (*RawResponse, error) {
		return &RawResponse{StatusCode: 401, Body: []byte(`{"message":"jwt expired"}`)}, nil
	}}

	c, delays := newTestClient(primary, nil, testPolicy())
	resp, err := c.Submit(context.Background(), struct{}{})
	if err == nil {
		t.Fatal("expected authentication error")
	}
	if flowerr.KindOf(err) != flowerr.KindAuthentication {
		t.Errorf("expected authentication kind, got %v", flowerr.KindOf(err))
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Error("response body must still be available to the caller")
	}
	if primary.calls != 1 {
		t.Errorf("401 must not be retried, got %d calls", primary.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("no backoff expected, got %v", *delays)
	}
}

func TestSubmit_RetryableServerError(t *testing.T) {
	primary := &fakeTransport{name: "primary", fn: func(call int) (*RawResponse, error) {
		if call == 1 {
			return &RawResponse{StatusCode: 503, Body: nil}, nil
		}
		return &RawResponse{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
	}}

	c, _ := newTestClient(primary, nil, testPolicy())
	resp, err := c.Submit(context.Background(), struct{}{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.StatusCode != 200 || primary.calls != 2 {
		t.Errorf("expected retry after 503, got status=%d calls=%d", resp.StatusCode, primary.calls)
	}
}

func TestHTTPTransport_PostsHeaders(t *testing.T) {
	var gotAuth, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	tr := &HTTPTransport{
		TransportName: "fallback",
		Endpoint:      srv.URL,
		Client:        srv.Client(),
		Bearer:        "token-123",
		APIKey:        "key-456",
	}
	resp, err := tr.Do(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if gotAuth != "Bearer token-123" || gotKey != "key-456" || gotType != "application/json" {
		t.Errorf("headers not propagated: auth=%q apikey=%q type=%q", gotAuth, gotKey, gotType)
	}
}

func TestHTTPTransport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr := &HTTPTransport{Endpoint: srv.URL, Client: srv.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Do(ctx, []byte(`{}`))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if flowerr.KindOf(err) != flowerr.KindTimeout {
		t.Errorf("expected timeout kind, got %v (%v)", flowerr.KindOf(err), err)
	}
}
