package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowforge/engine/internal/api/handlers"
	"github.com/flowforge/engine/internal/flowexec"
	"github.com/flowforge/engine/internal/modelinvoker"
	"github.com/flowforge/engine/internal/promptrender"
	"github.com/flowforge/engine/internal/storage"
	"github.com/flowforge/engine/pkg/models"
)

type noopToolCatalog struct{}

func (noopToolCatalog) ListServerTools(ctx context.Context, server string) ([]models.MCPToolDescriptor, error) {
	return nil, nil
}

func (noopToolCatalog) CallTool(ctx context.Context, server, tool string, args map[string]any, timeoutSeconds *int) (string, bool, error) {
	return "", false, nil
}

func (noopToolCatalog) EnsureConnected(ctx context.Context, server string) error { return nil }

func fakeModelServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id": "cmpl-1",
			"choices": []map[string]any{
				{
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func seedFlowAndModel(t *testing.T, gateway storage.Gateway, modelBaseURL string) models.Flow {
	t.Helper()
	flow := models.Flow{
		ID:   "flow-1",
		Name: "Greeter",
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "p", Type: models.NodeProcess, ModelID: "m1"},
		},
		Edges: []models.Edge{
			{Source: "start", Target: "p"},
		},
	}
	model := models.Model{
		ID:                    "m1",
		BaseURL:               modelBaseURL,
		APIKeyRef:             "test-key",
		FunctionCallingSchema: models.FunctionCallingJSON,
	}

	ctx := context.Background()
	if err := gateway.Save(ctx, storage.KeyFlows, []models.Flow{flow}); err != nil {
		t.Fatalf("seed flows: %v", err)
	}
	if err := gateway.Save(ctx, storage.KeyModels, []models.Model{model}); err != nil {
		t.Fatalf("seed models: %v", err)
	}
	return flow
}

func TestChatCompletions_NewConversationReturnsFinalResponse(t *testing.T) {
	modelSrv := fakeModelServer(t, "hello there")
	defer modelSrv.Close()

	gateway := storage.NewMemoryGateway()
	seedFlowAndModel(t, gateway, modelSrv.URL)

	renderer := promptrender.New(noopToolCatalog{})
	invoker := modelinvoker.New()
	executor := flowexec.New(gateway, renderer, invoker, noopToolCatalog{}, nil)
	h := handlers.New(gateway, executor)

	reqBody, _ := json.Marshal(map[string]any{
		"model":    "flow-Greeter",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "completed" {
		t.Errorf("status = %v, want completed", resp["status"])
	}
	if resp["conversation_id"] == "" || resp["conversation_id"] == nil {
		t.Error("expected a conversation_id to be assigned")
	}
	choices, _ := resp["choices"].([]any)
	if len(choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(choices))
	}
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["content"] != "hello there" {
		t.Errorf("content = %v, want %q", msg["content"], "hello there")
	}
}

func TestChatCompletions_RejectsBadModelField(t *testing.T) {
	gateway := storage.NewMemoryGateway()
	renderer := promptrender.New(noopToolCatalog{})
	invoker := modelinvoker.New()
	executor := flowexec.New(gateway, renderer, invoker, noopToolCatalog{}, nil)
	h := handlers.New(gateway, executor)

	reqBody, _ := json.Marshal(map[string]any{"model": "gpt-4", "messages": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_UnknownFlowIsNotFound(t *testing.T) {
	gateway := storage.NewMemoryGateway()
	renderer := promptrender.New(noopToolCatalog{})
	invoker := modelinvoker.New()
	executor := flowexec.New(gateway, renderer, invoker, noopToolCatalog{}, nil)
	h := handlers.New(gateway, executor)

	reqBody, _ := json.Marshal(map[string]any{"model": "flow-Nope", "messages": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	h.ChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCancel_UnknownConversation(t *testing.T) {
	gateway := storage.NewMemoryGateway()
	renderer := promptrender.New(noopToolCatalog{})
	invoker := modelinvoker.New()
	executor := flowexec.New(gateway, renderer, invoker, noopToolCatalog{}, nil)
	h := handlers.New(gateway, executor)

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/ghost/cancel", nil)
	w := httptest.NewRecorder()

	h.Cancel(w, req, "ghost")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCancel_MarksConversationCancelled(t *testing.T) {
	gateway := storage.NewMemoryGateway()
	renderer := promptrender.New(noopToolCatalog{})
	invoker := modelinvoker.New()
	executor := flowexec.New(gateway, renderer, invoker, noopToolCatalog{}, nil)
	h := handlers.New(gateway, executor)

	ctx := context.Background()
	state := &models.ConversationState{ID: "c1", FlowID: "flow-1", Status: models.StatusRunning}
	if err := gateway.Save(ctx, storage.ConversationKey("c1"), state); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/c1/cancel", nil)
	w := httptest.NewRecorder()
	h.Cancel(w, req, "c1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var reloaded models.ConversationState
	if err := gateway.Load(ctx, storage.ConversationKey("c1"), &reloaded); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsCancelled() {
		t.Error("expected conversation to be marked cancelled")
	}
}
