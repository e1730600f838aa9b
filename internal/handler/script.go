package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/payload"
	"github.com/attachflow/relay/internal/runner"
)

// NotifierFactory builds the progress notifier for one job. Production wires
// a webhook notifier at the payload's webhook URL; dev mode routes events
// straight into the in-process progress channel.
type NotifierFactory func(p model.JobPayload) runner.Notifier

// ScriptHandler is the script-runtime endpoint: it receives the two-layer
// {secret, payload} envelope, authenticates it, and executes the job against
// the caller's mailbox and storage.
type ScriptHandler struct {
	secret          string
	mailProvider    adapter.MailProvider
	storageProvider adapter.StorageProvider
	cfg             runner.Config
	notifierFor     NotifierFactory

	// One runner per user keeps breaker and rate-limit state across
	// requests; a fresh runner every request would reset both.
	mu      sync.Mutex
	runners map[string]*runner.Runner
}

// NewScriptHandler creates a new ScriptHandler.
func NewScriptHandler(secret string, mail adapter.MailProvider, storage adapter.StorageProvider,
	cfg runner.Config, notifierFor NotifierFactory) *ScriptHandler {
	if notifierFor == nil {
		notifierFor = func(p model.JobPayload) runner.Notifier {
			if p.WebhookURL != "" {
				return runner.NewWebhookNotifier(p.WebhookURL)
			}
			return runner.NopNotifier{}
		}
	}
	return &ScriptHandler{
		secret:          secret,
		mailProvider:    mail,
		storageProvider: storage,
		cfg:             cfg,
		notifierFor:     notifierFor,
		runners:         make(map[string]*runner.Runner),
	}
}

// Handle processes one envelope. Secret mismatch is a 401; unknown actions
// are a 400; everything past authentication returns 200 with the runtime's
// own status in the body.
func (h *ScriptHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var envelope model.ScriptEnvelope
	if err := json.Unmarshal([]byte(req.Body), &envelope); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	if subtle.ConstantTimeCompare([]byte(envelope.Secret), []byte(h.secret)) != 1 {
		return errorResponse(http.StatusUnauthorized, "Invalid secret"), nil
	}

	switch envelope.Payload.Action {
	case payload.ActionHealthCheck:
		return jsonResponse(http.StatusOK, runner.Response{
			Status:   "success",
			Message:  "runtime is healthy",
			Features: runner.Features,
			Version:  runner.Version,
		}), nil

	case payload.ActionProcessFlow:
		return h.processFlow(ctx, envelope.Payload)

	default:
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action %q", envelope.Payload.Action)), nil
	}
}

func (h *ScriptHandler) processFlow(ctx context.Context, p model.JobPayload) (events.APIGatewayProxyResponse, error) {
	if p.UserID == "" {
		return errorResponse(http.StatusBadRequest, "user_id is required"), nil
	}

	r, err := h.runnerFor(ctx, p)
	if err != nil {
		fmt.Printf("runner setup error (user %s): %v\n", p.UserID, err)
		return jsonResponse(http.StatusOK, runner.Response{
			Status:  "error",
			Message: fmt.Sprintf("failed to access user services: %v", err),
			Version: runner.Version,
		}), nil
	}

	resp := r.Run(ctx, p)
	return jsonResponse(http.StatusOK, resp), nil
}

func (h *ScriptHandler) runnerFor(ctx context.Context, p model.JobPayload) (*runner.Runner, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// The notifier is bound at construction, so a changed webhook URL gets
	// its own runner.
	key := p.UserID + "|" + p.WebhookURL
	if r, ok := h.runners[key]; ok {
		return r, nil
	}

	mail, err := h.mailProvider.GetMailSource(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("mail source: %w", err)
	}
	sink, err := h.storageProvider.GetStorageSink(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("storage sink: %w", err)
	}

	r := runner.New(h.cfg, mail, sink, h.notifierFor(p))
	h.runners[key] = r
	return r, nil
}
