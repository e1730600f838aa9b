package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/store"
)

// FlowHandler handles CRUD operations for flow definitions and reads of
// their execution history.
type FlowHandler struct {
	store     store.Store
	jwtSecret string
}

// NewFlowHandler creates a new FlowHandler.
func NewFlowHandler(s store.Store, jwtSecret string) *FlowHandler {
	return &FlowHandler{store: s, jwtSecret: jwtSecret}
}

// CreateFlow creates a new flow definition for the authenticated user.
func (h *FlowHandler) CreateFlow(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var flow model.FlowConfig
	if err := json.Unmarshal([]byte(req.Body), &flow); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if msg := validateFlow(&flow); msg != "" {
		return errorResponse(http.StatusBadRequest, msg), nil
	}

	flow.ID = ""
	flow.UserID = userID
	if err := h.store.CreateFlow(ctx, &flow); err != nil {
		fmt.Printf("CreateFlow error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to create flow"), nil
	}
	return jsonResponse(http.StatusCreated, flow), nil
}

// ListFlows returns the user's flows, newest first.
func (h *FlowHandler) ListFlows(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	flows, err := h.store.ListFlows(ctx, userID)
	if err != nil {
		fmt.Printf("ListFlows error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to list flows"), nil
	}
	if flows == nil {
		flows = []model.FlowConfig{}
	}
	return jsonResponse(http.StatusOK, flows), nil
}

// GetFlow returns one flow by id.
func (h *FlowHandler) GetFlow(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	flowID := req.PathParameters["flowId"]
	if flowID == "" {
		return errorResponse(http.StatusBadRequest, "flowId is required"), nil
	}

	flow, err := h.store.GetFlow(ctx, userID, flowID)
	if err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return errorResponse(http.StatusNotFound, "Flow not found"), nil
		}
		fmt.Printf("GetFlow error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to load flow"), nil
	}
	return jsonResponse(http.StatusOK, flow), nil
}

// UpdateFlow replaces a flow definition.
func (h *FlowHandler) UpdateFlow(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	flowID := req.PathParameters["flowId"]
	if flowID == "" {
		return errorResponse(http.StatusBadRequest, "flowId is required"), nil
	}

	var flow model.FlowConfig
	if err := json.Unmarshal([]byte(req.Body), &flow); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if msg := validateFlow(&flow); msg != "" {
		return errorResponse(http.StatusBadRequest, msg), nil
	}

	flow.ID = flowID
	flow.UserID = userID
	if err := h.store.UpdateFlow(ctx, &flow); err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return errorResponse(http.StatusNotFound, "Flow not found"), nil
		}
		fmt.Printf("UpdateFlow error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to update flow"), nil
	}
	return jsonResponse(http.StatusOK, flow), nil
}

// DeleteFlow removes a flow definition.
func (h *FlowHandler) DeleteFlow(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	flowID := req.PathParameters["flowId"]
	if flowID == "" {
		return errorResponse(http.StatusBadRequest, "flowId is required"), nil
	}

	if err := h.store.DeleteFlow(ctx, userID, flowID); err != nil {
		if errors.Is(err, store.ErrFlowNotFound) {
			return errorResponse(http.StatusNotFound, "Flow not found"), nil
		}
		fmt.Printf("DeleteFlow error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to delete flow"), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

// ListRuns returns the most recent executions of one flow, newest first.
func (h *FlowHandler) ListRuns(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}
	flowID := req.PathParameters["flowId"]
	if flowID == "" {
		return errorResponse(http.StatusBadRequest, "flowId is required"), nil
	}

	limit := 0
	if raw := req.QueryStringParameters["limit"]; raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	runs, err := h.store.ListRuns(ctx, userID, flowID, limit)
	if err != nil {
		fmt.Printf("ListRuns error: %v\n", err)
		return errorResponse(http.StatusInternalServerError, "Failed to list runs"), nil
	}
	if runs == nil {
		runs = []model.FlowRun{}
	}
	return jsonResponse(http.StatusOK, runs), nil
}

func validateFlow(flow *model.FlowConfig) string {
	if strings.TrimSpace(flow.FlowName) == "" {
		return "flow_name is required"
	}
	if strings.TrimSpace(flow.DriveFolder) == "" {
		return "drive_folder is required"
	}
	return ""
}
