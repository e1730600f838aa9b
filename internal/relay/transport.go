package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/attachflow/relay/internal/flowerr"
)

// RawResponse is the unprocessed terminal HTTP response from the relay
// endpoint. Normalization into a FlowExecutionResult happens downstream.
type RawResponse struct {
	StatusCode int
	Body       []byte
}

// Transport performs one HTTP submission of an already-encoded body.
// Implementations return an error only for transport-level failures; any
// completed HTTP exchange, whatever its status code, yields a RawResponse.
type Transport interface {
	Name() string
	Do(ctx context.Context, body []byte) (*RawResponse, error)
}

// HTTPTransport posts JSON to a fixed endpoint. With an oauth2-authenticated
// client and no explicit headers it acts as the primary, SDK-style transport;
// with Bearer and APIKey set it is the direct fallback transport.
type HTTPTransport struct {
	TransportName string
	Endpoint      string
	Client        *http.Client
	// Bearer, when set, is attached explicitly as the Authorization header.
	// Leave empty when the Client itself injects credentials.
	Bearer string
	// APIKey is the relay gateway's own key, sent as the apikey header.
	APIKey string
}

func (t *HTTPTransport) Name() string {
	if t.TransportName != "" {
		return t.TransportName
	}
	return "http"
}

// Do posts the body and reads the full response. Transport-level failures
// are classified at this layer: deadline expiry maps to a timeout error,
// everything else to a network error.
func (t *HTTPTransport) Do(ctx context.Context, body []byte) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, flowerr.Wrap(flowerr.KindNetwork, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.Bearer)
	}
	if t.APIKey != "" {
		req.Header.Set("apikey", t.APIKey)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, flowerr.Wrap(flowerr.KindTimeout, fmt.Sprintf("%s transport timed out", t.Name()), err)
		}
		return nil, flowerr.Wrap(flowerr.KindNetwork, fmt.Sprintf("%s transport failed", t.Name()), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.KindNetwork, "failed to read response body", err)
	}

	return &RawResponse{StatusCode: resp.StatusCode, Body: data}, nil
}
