package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/progress"
)

// WebhookHandler receives progress events pushed by the script runtime and
// serves polling reads of the latest state per request id.
type WebhookHandler struct {
	channel *progress.Channel
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(channel *progress.Channel) *WebhookHandler {
	return &WebhookHandler{channel: channel}
}

// ReceiveProgress ingests one progress event. Delivery is advisory, so any
// well-formed event is accepted; duplicates and out-of-order arrivals are
// fine, the latest ingested event wins.
func (h *WebhookHandler) ReceiveProgress(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var event model.ProgressEvent
	if err := json.Unmarshal([]byte(req.Body), &event); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid event body"), nil
	}
	if event.RequestID == "" {
		// The notifier also carries the id as a header.
		event.RequestID = req.Headers["X-Request-ID"]
		if event.RequestID == "" {
			event.RequestID = req.Headers["x-request-id"]
		}
	}
	if event.RequestID == "" {
		return errorResponse(http.StatusBadRequest, "requestId is required"), nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.channel.Ingest(event)

	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

// GetProgress returns the latest event for a request id, or 404 when no
// state is retained (unknown id, or evicted after its terminal event).
func (h *WebhookHandler) GetProgress(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestID := req.PathParameters["requestId"]
	if requestID == "" {
		requestID = req.QueryStringParameters["requestId"]
	}
	if requestID == "" {
		return errorResponse(http.StatusBadRequest, "requestId is required"), nil
	}

	event := h.channel.GetProgress(requestID)
	if event == nil {
		return errorResponse(http.StatusNotFound, "No progress for request"), nil
	}
	return jsonResponse(http.StatusOK, event), nil
}
