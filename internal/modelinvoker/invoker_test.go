package modelinvoker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/internal/modelinvoker"
	"github.com/flowforge/engine/pkg/models"
)

func TestGenerateCompletion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1",
			"choices": []map[string]any{
				{
					"message":       map[string]any{"role": "assistant", "content": "hello there"},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer server.Close()

	inv := modelinvoker.New()
	model := models.Model{ID: "gpt-test", BaseURL: server.URL, APIKeyRef: "test-key"}

	result, err := inv.GenerateCompletion(context.Background(), model, "be helpful", nil, nil)
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if result.Content != "hello there" {
		t.Errorf("GenerateCompletion().Content = %q, want %q", result.Content, "hello there")
	}
	if result.FinishReason != "stop" {
		t.Errorf("GenerateCompletion().FinishReason = %q, want %q", result.FinishReason, "stop")
	}
}

func TestGenerateCompletion_ToolsUnsupportedFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"this model does not support tools"}}`))
	}))
	defer server.Close()

	inv := modelinvoker.New()
	model := models.Model{ID: "legacy-model", BaseURL: server.URL, APIKeyRef: "test-key"}
	tools := []modelinvoker.ToolSpec{{Name: "readFile", InputSchema: map[string]any{"type": "object"}}}

	result, err := inv.GenerateCompletion(context.Background(), model, "", nil, tools)
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v, want nil with ToolsUnsupported flag", err)
	}
	if !result.ToolsUnsupported {
		t.Error("GenerateCompletion().ToolsUnsupported = false, want true")
	}
}

func TestGenerateCompletion_UnrelatedBadRequestSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid message format"}}`))
	}))
	defer server.Close()

	inv := modelinvoker.New()
	model := models.Model{ID: "gpt-test", BaseURL: server.URL, APIKeyRef: "test-key"}

	_, err := inv.GenerateCompletion(context.Background(), model, "", nil, nil)
	if err == nil {
		t.Fatal("GenerateCompletion() error = nil, want an error for an unrelated 400")
	}
}

func TestGenerateCompletion_MissingAPIKeyFailsFast(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inv := modelinvoker.New()
	model := models.Model{ID: "keyless-model", BaseURL: server.URL}

	_, err := inv.GenerateCompletion(context.Background(), model, "", nil, nil)
	if err == nil {
		t.Fatal("GenerateCompletion() error = nil, want an api_key error for a model with no resolved key")
	}
	engErr, ok := err.(*enginerr.Error)
	if !ok || engErr.Type != enginerr.TypeAPIKey {
		t.Errorf("GenerateCompletion() error = %v, want an *enginerr.Error with Type %q", err, enginerr.TypeAPIKey)
	}
	if called {
		t.Error("GenerateCompletion() must fail before ever calling the model, but the server was hit")
	}
}

func TestGenerateCompletion_ToolCallsRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-2",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role": "assistant",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "readFile",
									"arguments": `{"path":"/tmp/x"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	}))
	defer server.Close()

	inv := modelinvoker.New()
	model := models.Model{ID: "gpt-test", BaseURL: server.URL, APIKeyRef: "test-key"}

	result, err := inv.GenerateCompletion(context.Background(), model, "", nil, nil)
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "readFile" {
		t.Fatalf("GenerateCompletion().ToolCalls = %+v, want one readFile call", result.ToolCalls)
	}
}
