package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/runner"
)

// Health reports service liveness, version, and supported features.
func Health(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  runner.Version,
		"features": runner.Features,
	}), nil
}
