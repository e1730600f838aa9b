package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/attachflow/relay/internal/handler"
	"github.com/attachflow/relay/internal/model"
	"github.com/attachflow/relay/internal/store"
)

func newFlowFixture() (*handler.FlowHandler, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return handler.NewFlowHandler(st, testJWTSecret), st
}

func TestFlowCRUD(t *testing.T) {
	h, _ := newFlowFixture()
	ctx := context.Background()

	// Create
	req := authedRequest(testUserID)
	req.Body = `{"flow_name":"Invoices","senders":"billing@acme.com","drive_folder":"Invoices/2024","file_types":["pdf"]}`
	resp, _ := h.CreateFlow(ctx, req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", resp.StatusCode, resp.Body)
	}
	var created model.FlowConfig
	json.Unmarshal([]byte(resp.Body), &created)
	if created.ID == "" || created.UserID != testUserID {
		t.Fatalf("created = %+v", created)
	}

	// Get
	get := authedRequest(testUserID)
	get.PathParameters = map[string]string{"flowId": created.ID}
	resp, _ = h.GetFlow(ctx, get)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	// Update
	upd := authedRequest(testUserID)
	upd.PathParameters = map[string]string{"flowId": created.ID}
	upd.Body = `{"flow_name":"Invoices v2","drive_folder":"Invoices/2025"}`
	resp, _ = h.UpdateFlow(ctx, upd)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", resp.StatusCode, resp.Body)
	}
	var updated model.FlowConfig
	json.Unmarshal([]byte(resp.Body), &updated)
	if updated.FlowName != "Invoices v2" || updated.DriveFolder != "Invoices/2025" {
		t.Fatalf("updated = %+v", updated)
	}

	// List
	resp, _ = h.ListFlows(ctx, authedRequest(testUserID))
	var flows []model.FlowConfig
	json.Unmarshal([]byte(resp.Body), &flows)
	if len(flows) != 1 {
		t.Fatalf("flows = %+v", flows)
	}

	// Delete
	del := authedRequest(testUserID)
	del.PathParameters = map[string]string{"flowId": created.ID}
	resp, _ = h.DeleteFlow(ctx, del)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = h.GetFlow(ctx, get)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateFlow_Validation(t *testing.T) {
	h, _ := newFlowFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"drive_folder":"F"}`},
		{"missing folder", `{"flow_name":"N"}`},
		{"blank name", `{"flow_name":"   ","drive_folder":"F"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := authedRequest(testUserID)
			req.Body = tc.body
			resp, _ := h.CreateFlow(ctx, req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestFlow_RequiresAuth(t *testing.T) {
	h, _ := newFlowFixture()
	ctx := context.Background()

	resp, _ := h.ListFlows(ctx, events.APIGatewayProxyRequest{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestFlow_OtherUsersFlowsHidden(t *testing.T) {
	h, st := newFlowFixture()
	ctx := context.Background()

	flow := &model.FlowConfig{UserID: "someone-else", FlowName: "Theirs", DriveFolder: "F"}
	st.CreateFlow(ctx, flow)

	get := authedRequest(testUserID)
	get.PathParameters = map[string]string{"flowId": flow.ID}
	resp, _ := h.GetFlow(ctx, get)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user's flow", resp.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	h, st := newFlowFixture()
	ctx := context.Background()

	st.RecordRun(ctx, &model.FlowRun{
		RequestID: "flow-f1-1", FlowID: "f1", UserID: testUserID,
		Success: true, SavedAttachments: 2, FinishedAt: time.Now(),
	})

	req := authedRequest(testUserID)
	req.PathParameters = map[string]string{"flowId": "f1"}
	resp, _ := h.ListRuns(ctx, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var runs []model.FlowRun
	json.Unmarshal([]byte(resp.Body), &runs)
	if len(runs) != 1 || runs[0].SavedAttachments != 2 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	h, _ := newFlowFixture()

	req := authedRequest(testUserID)
	req.PathParameters = map[string]string{"flowId": "f1"}
	resp, _ := h.ListRuns(context.Background(), req)
	if resp.Body != "[]" {
		t.Fatalf("body = %q, want empty JSON array", resp.Body)
	}
}
