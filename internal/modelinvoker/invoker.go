// Package modelinvoker implements the Model Invoker: a single
// operation, generateCompletion, that sends an OpenAI-compatible
// chat-completion request to a model's configured baseURL and returns
// a normalized response. Grounded on the teacher's
// internal/router.ModelRouter.callOpenAI, narrowed to one provider
// shape since every model in this engine speaks the OpenAI wire
// format by construction.
package modelinvoker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/pkg/models"
)

// ToolSpec is the function-calling tool declaration sent alongside a
// completion request, in OpenAI's "tools" array shape.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Invoker issues chat-completion requests against OpenAI-compatible
// endpoints.
type Invoker struct {
	client *http.Client
}

// New builds an Invoker with a generous timeout — model calls,
// especially with tool use, can run long.
func New() *Invoker {
	return &Invoker{client: &http.Client{Timeout: 120 * time.Second}}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Result is generateCompletion's normalized return value.
type Result struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	// ToolsUnsupported reports the "model does not support tools"
	// fallback signal: caller should retry without the tools array.
	ToolsUnsupported bool
}

// GenerateCompletion sends systemPrompt + history (+ tools, if any)
// to model's baseURL as an OpenAI-compatible chat-completions call.
// On an HTTP 400 whose body suggests the model doesn't support
// function calling, it returns ToolsUnsupported=true instead of an
// error so the caller can retry without tools, per spec §6.
func (inv *Invoker) GenerateCompletion(ctx context.Context, model models.Model, systemPrompt string, history []models.Message, tools []ToolSpec) (Result, error) {
	if model.APIKeyRef == "" {
		return Result{}, enginerr.New(enginerr.TypeAPIKey, "model %q has no resolved api key", model.ID)
	}

	baseURL := normalizeBaseURL(model.BaseURL)

	messages := make([]wireMessage, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, wireMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		messages = append(messages, wm)
	}

	req := chatRequest{Model: model.ID, Messages: messages}
	for _, tool := range tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = tool.InputSchema
		req.Tools = append(req.Tools, wt)
	}

	result, unsupported, err := inv.send(ctx, model, baseURL, req)
	if unsupported {
		log.Info().Str("model", model.ID).Msg("model rejected tools, caller should retry without them")
		result.ToolsUnsupported = true
	}
	return result, err
}

func (inv *Invoker) send(ctx context.Context, model models.Model, baseURL string, req chatRequest) (Result, bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, false, enginerr.Wrap(enginerr.TypeInvalidRequest, err, "encode chat completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, false, enginerr.Wrap(enginerr.TypeInternal, err, "build chat completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+model.APIKeyRef)

	httpResp, err := inv.client.Do(httpReq)
	if err != nil {
		return Result{}, false, enginerr.Wrap(enginerr.TypeProvider, err, "call model %q", model.ID)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Result{}, false, enginerr.Wrap(enginerr.TypeProvider, err, "read model %q response", model.ID)
	}

	if httpResp.StatusCode != http.StatusOK {
		if httpResp.StatusCode == http.StatusBadRequest && looksLikeToolsUnsupported(respBody) {
			return Result{}, true, nil
		}
		return Result{}, false, enginerr.New(enginerr.TypeProvider, "model %q returned status %d: %s", model.ID, httpResp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, false, enginerr.Wrap(enginerr.TypeParse, err, "decode model %q response", model.ID)
	}
	if parsed.Error != nil {
		return Result{}, false, enginerr.New(enginerr.TypeProvider, "model %q error: %s", model.ID, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, false, enginerr.New(enginerr.TypeProvider, "model %q returned no choices", model.ID)
	}

	choice := parsed.Choices[0]
	result := Result{Content: choice.Message.Content, FinishReason: choice.FinishReason}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, false, nil
}

// looksLikeToolsUnsupported is the additive HTTP-400 guard decided in
// DESIGN.md's Open Question 3: the substring match stays the primary
// signal, paired with the status code as a second check so an
// unrelated 400 (e.g. a malformed message) isn't misclassified.
func looksLikeToolsUnsupported(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "does not support tools") ||
		strings.Contains(lower, "function calling is not enabled") ||
		strings.Contains(lower, "tools is not supported")
}

// normalizeBaseURL strips a caller-supplied trailing /chat/completions
// so the invoker doesn't double it up.
func normalizeBaseURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return strings.TrimSuffix(base, "/")
}
