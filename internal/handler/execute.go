package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/flowerr"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/payload"
	"github.com/attachflow/relay/internal/relay"
	"github.com/attachflow/relay/internal/response"
	"github.com/attachflow/relay/internal/runlock"
	"github.com/attachflow/relay/internal/store"
)

// RelayFactory builds a relay client authenticated as the given user. The
// primary transport carries the user's OAuth client; the fallback carries
// their delegated token directly.
type RelayFactory func(ctx context.Context, userID string) (*relay.Client, error)

// TokenRefresher forces one credential refresh after the upstream rejected a
// token the cache still considered valid.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, userID string) error
}

// ExecuteHandler handles flow execution requests: it resolves the flow,
// takes the run lock, submits the job to the relay, and normalizes the
// outcome into a FlowExecutionResult.
type ExecuteHandler struct {
	store      store.Store
	locker     runlock.Locker
	builder    *payload.Builder
	relayFor   RelayFactory
	refresher  TokenRefresher
	jwtSecret  string
	webhookURL string
	secret     string
}

// NewExecuteHandler creates a new ExecuteHandler. refresher may be nil,
// disabling the automatic refresh on an upstream 401. webhookURL is forwarded
// in the payload so the script runtime can push progress back; empty disables
// progress delivery. secret is the shared script-runtime secret.
func NewExecuteHandler(s store.Store, locker runlock.Locker, builder *payload.Builder,
	relayFor RelayFactory, refresher TokenRefresher, jwtSecret, webhookURL, secret string) *ExecuteHandler {
	return &ExecuteHandler{
		store:      s,
		locker:     locker,
		builder:    builder,
		relayFor:   relayFor,
		refresher:  refresher,
		jwtSecret:  jwtSecret,
		webhookURL: webhookURL,
		secret:     secret,
	}
}

type executeRequest struct {
	FlowID string `json:"flow_id"`
	// Flow, when set, executes an unsaved definition directly without a
	// store lookup. FlowID and Flow are mutually exclusive.
	Flow *model.FlowConfig `json:"flow,omitempty"`
}

// Execute runs one flow. The terminal result is always delivered in the HTTP
// response; progress events are only advisory.
func (h *ExecuteHandler) Execute(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var body executeRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	flow, status, errMsg := h.resolveFlow(ctx, userID, body)
	if errMsg != "" {
		return errorResponse(status, errMsg), nil
	}

	userEmail := GetUserEmail(req, h.jwtSecret)
	jobPayload, err := h.builder.Build(flow, userEmail, h.webhookURL)
	if err != nil {
		if flowerr.Is(err, flowerr.KindValidation) {
			return errorResponse(http.StatusBadRequest, err.Error()), nil
		}
		return errorResponse(http.StatusInternalServerError, err.Error()), nil
	}
	requestID := jobPayload.DebugInfo.RequestID

	if _, err := h.locker.Acquire(ctx, flow.ID, userID, requestID); err != nil {
		if errors.Is(err, runlock.ErrFlowRunning) {
			return errorResponse(http.StatusConflict, "Flow execution already in progress"), nil
		}
		fmt.Printf("Acquire run lock error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to lock flow"), nil
	}
	defer func() {
		if err := h.locker.Release(ctx, flow.ID, requestID); err != nil {
			fmt.Printf("Release run lock error: %v\n", err)
		}
	}()

	result := h.submit(ctx, userID, jobPayload)
	h.recordRun(ctx, flow, requestID, result)

	// Upstream failures still complete the relay's job; the result carries
	// the error detail, the HTTP exchange itself succeeded.
	return jsonResponse(http.StatusOK, result), nil
}

func (h *ExecuteHandler) resolveFlow(ctx context.Context, userID string, body executeRequest) (*model.FlowConfig, int, string) {
	if body.Flow != nil {
		flow := body.Flow
		flow.UserID = userID
		if flow.ID == "" {
			flow.ID = "adhoc"
		}
		return flow, 0, ""
	}
	if body.FlowID == "" {
		return nil, http.StatusBadRequest, "flow_id is required"
	}
	flow, err := h.store.GetFlow(ctx, userID, body.FlowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return nil, http.StatusNotFound, "Flow not found"
		}
		fmt.Printf("GetFlow error: %v\n", err)
		return nil, http.StatusInternalServerError, "Failed to load flow"
	}
	return flow, 0, ""
}

func (h *ExecuteHandler) submit(ctx context.Context, userID string, p *model.JobPayload) model.FlowExecutionResult {
	client, err := h.relayFor(ctx, userID)
	if err != nil {
		return model.FlowExecutionResult{
			Success:   false,
			Error:     fmt.Sprintf("failed to prepare relay client: %v", err),
			ErrorKind: string(flowerr.KindOf(err)),
		}
	}

	envelope := h.builder.WrapWithSecret(p, h.secret)
	resp, err := client.Submit(ctx, envelope)
	if err != nil && flowerr.Is(err, flowerr.KindAuthentication) && h.refresher != nil {
		// One forced refresh and one resubmission; a second rejection is
		// final.
		if rerr := h.refresher.ForceRefresh(ctx, userID); rerr != nil {
			fmt.Printf("ForceRefresh error (user %s): %v\n", userID, rerr)
		} else if retryClient, cerr := h.relayFor(ctx, userID); cerr != nil {
			fmt.Printf("Relay client rebuild error (user %s): %v\n", userID, cerr)
		} else {
			resp, err = retryClient.Submit(ctx, envelope)
		}
	}
	if err != nil {
		kind := flowerr.KindOf(err)
		result := model.FlowExecutionResult{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: string(kind),
		}
		if kind == flowerr.KindPermission {
			result.Message = "Re-authorize the app to restore Gmail and Drive access"
		}
		return result
	}
	return response.Process(resp.Body, resp.StatusCode)
}

// recordRun writes the execution summary best-effort; a history failure never
// changes the result the caller sees.
func (h *ExecuteHandler) recordRun(ctx context.Context, flow *model.FlowConfig, requestID string, result model.FlowExecutionResult) {
	run := &model.FlowRun{
		RequestID:        requestID,
		FlowID:           flow.ID,
		UserID:           flow.UserID,
		Success:          result.Success,
		EmailsFound:      result.EmailsFound,
		ProcessedEmails:  result.ProcessedEmails,
		SavedAttachments: result.SavedAttachments,
		Error:            result.Error,
		FinishedAt:       time.Now().UTC(),
	}
	if err := h.store.RecordRun(ctx, run); err != nil {
		fmt.Printf("RecordRun error (request %s): %v\n", requestID, err)
	}
}
