package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/adapter"
	"github.com/attachflow/relay/internal/adapter/memory"
	"github.com/attachflow/relay/internal/handler"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/payload"
	"github.com/attachflow/relay/internal/runner"
)

func newScriptFixture(t *testing.T) (*handler.ScriptHandler, *memory.Provider) {
	t.Helper()
	provider := memory.NewProvider()
	cfg := runner.DefaultConfig()
	cfg.BatchPause = 0
	h := handler.NewScriptHandler(testScriptSecret, provider, provider, cfg,
		func(model.JobPayload) runner.Notifier { return runner.NopNotifier{} })
	return h, provider
}

func scriptRequest(t *testing.T, secret string, p model.JobPayload) events.APIGatewayProxyRequest {
	t.Helper()
	body, err := json.Marshal(model.ScriptEnvelope{Secret: secret, Payload: p})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return events.APIGatewayProxyRequest{Body: string(body)}
}

func TestScript_RejectsBadSecret(t *testing.T) {
	h, _ := newScriptFixture(t)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, "wrong-secret", model.JobPayload{
		Action: payload.ActionHealthCheck,
	}))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestScript_HealthCheck(t *testing.T) {
	h, _ := newScriptFixture(t)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, testScriptSecret, model.JobPayload{
		Action: payload.ActionHealthCheck,
	}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body runner.Response
	json.Unmarshal([]byte(resp.Body), &body)
	if body.Status != "success" || body.Version != runner.Version {
		t.Fatalf("body = %+v", body)
	}
	if len(body.Features) == 0 {
		t.Fatal("features missing from health check")
	}
}

func TestScript_UnknownAction(t *testing.T) {
	h, _ := newScriptFixture(t)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, testScriptSecret, model.JobPayload{
		Action: "delete_everything",
	}))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestScript_ProcessFlow(t *testing.T) {
	h, provider := newScriptFixture(t)
	provider.Mailbox.Add(
		adapter.EmailMeta{ID: "m1", From: "billing@acme.com", Subject: "Invoice"},
		adapter.Attachment{Name: "inv.pdf", MIMEType: "application/pdf", Size: 4, Data: []byte("%PDF")},
	)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, testScriptSecret, model.JobPayload{
		Action: payload.ActionProcessFlow,
		UserID: testUserID,
		Query:  "(from:billing@acme.com) has:attachment newer_than:30d",
		UserConfig: model.UserConfig{
			DriveFolder: "Invoices",
			FileTypes:   []string{"pdf"},
			MaxEmails:   10,
		},
		DebugInfo: model.DebugInfo{RequestID: "flow-f1-1"},
	}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}

	var body runner.Response
	json.Unmarshal([]byte(resp.Body), &body)
	if body.Status != "success" {
		t.Fatalf("body = %+v", body)
	}
	if body.Data == nil || body.Data.EmailsFound != 1 || body.Data.SavedAttachments != 1 {
		t.Fatalf("data = %+v", body.Data)
	}
	folderID, _ := provider.Sink.EnsureFolderPath(context.Background(), "Invoices")
	if len(provider.Sink.Files(folderID)) != 1 {
		t.Fatalf("sink files = %v", provider.Sink.Files(folderID))
	}
}

func TestScript_ProcessFlowNoMatches(t *testing.T) {
	h, _ := newScriptFixture(t)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, testScriptSecret, model.JobPayload{
		Action: payload.ActionProcessFlow,
		UserID: testUserID,
		Query:  "(from:nobody@example.com) has:attachment newer_than:30d",
		UserConfig: model.UserConfig{
			DriveFolder: "Empty",
			MaxEmails:   10,
		},
		DebugInfo: model.DebugInfo{RequestID: "flow-f2-1"},
	}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body runner.Response
	json.Unmarshal([]byte(resp.Body), &body)
	if body.Status != "success" || body.Message != runner.NoEmailsMessage {
		t.Fatalf("body = %+v", body)
	}
}

func TestScript_RequiresUserID(t *testing.T) {
	h, _ := newScriptFixture(t)

	resp, _ := h.Handle(context.Background(), scriptRequest(t, testScriptSecret, model.JobPayload{
		Action: payload.ActionProcessFlow,
	}))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
