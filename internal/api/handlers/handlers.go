// Package handlers implements the flow execution engine's HTTP
// surface: the OpenAI-compatible chat-completions endpoint that
// drives the Flow Executor, plus the conversation cancel operation.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/internal/api/middleware"
	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/internal/flowexec"
	"github.com/flowforge/engine/internal/storage"
	"github.com/flowforge/engine/pkg/models"
)

// Handlers bundles the dependencies the HTTP surface needs: the
// Storage Gateway for flow/model/conversation lookups, and the Flow
// Executor to drive a step.
type Handlers struct {
	Storage  storage.Gateway
	Executor *flowexec.Executor
}

// New builds a Handlers.
func New(gateway storage.Gateway, executor *flowexec.Executor) *Handlers {
	return &Handlers{Storage: gateway, Executor: executor}
}

const flowModelPrefix = "flow-"

// ChatCompletions handles both POST and GET /v1/chat/completions: it
// resolves the target flow and its models, loads or creates the
// conversation, drives one Flow Executor run, and renders the
// OpenAI-shaped response envelope.
func (h *Handlers) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req models.ChatCompletionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, enginerr.New(enginerr.TypeInvalidRequest, "invalid request body: %v", err))
		return
	}

	if !strings.HasPrefix(req.Model, flowModelPrefix) {
		writeError(w, enginerr.New(enginerr.TypeInvalidRequest, `"model" must be of the form "flow-<FlowName>"`))
		return
	}
	flowName := strings.TrimPrefix(req.Model, flowModelPrefix)

	ctx := r.Context()

	flow, err := h.loadFlow(ctx, flowName)
	if err != nil {
		writeError(w, err)
		return
	}

	modelSet, err := h.loadModels(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	state, isNew, err := h.loadOrCreateConversation(ctx, req, flow)
	if err != nil {
		writeError(w, err)
		return
	}
	middleware.TagConversation(ctx, state.ID, flowName)

	if req.ProcessNodeID != "" && !isNew {
		applyProcessNodeResume(flow, state, req.ProcessNodeID)
	}
	if req.DebugMode {
		state.DebugMode = true
	}

	for _, m := range req.Messages {
		if m.Role == "" {
			continue
		}
		state.AppendMessage(models.Message{
			ID:         uuid.NewString(),
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}

	action, err := h.Executor.Run(ctx, state, flow, modelSet, req.Flujo, req.RequireApproval)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", state.ID).Msg("flow executor run failed")
		writeError(w, enginerr.Wrap(enginerr.TypeInternal, err, "execution failed: %v", err))
		return
	}

	writeResponse(w, state, action, req.Model)
}

// Cancel handles POST /v1/conversations/{id}/cancel: sets the
// cooperative cancellation flag on the named conversation's state.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request, conversationID string) {
	if conversationID == "" {
		writeError(w, enginerr.New(enginerr.TypeInvalidRequest, "conversation id required"))
		return
	}

	var state models.ConversationState
	if err := h.Storage.Load(r.Context(), storage.ConversationKey(conversationID), &state); err != nil {
		writeError(w, enginerr.Wrap(enginerr.TypeInternal, err, "failed to load conversation: %v", err))
		return
	}
	if state.ID == "" {
		writeError(w, enginerr.New(enginerr.TypeInvalidRequest, "conversation %q not found", conversationID))
		return
	}
	middleware.TagConversation(r.Context(), state.ID, state.FlowID)

	state.Cancel()
	if err := h.Storage.Save(r.Context(), storage.ConversationKey(conversationID), &state); err != nil {
		writeError(w, enginerr.Wrap(enginerr.TypeInternal, err, "failed to persist cancellation: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"conversation_id": conversationID, "status": "cancelling"})
}

func (h *Handlers) loadFlow(ctx context.Context, name string) (models.Flow, error) {
	var flows []models.Flow
	if err := h.Storage.Load(ctx, storage.KeyFlows, &flows); err != nil {
		return models.Flow{}, enginerr.Wrap(enginerr.TypeInternal, err, "failed to load flows: %v", err)
	}
	for _, f := range flows {
		if f.Name == name {
			return f, nil
		}
	}
	return models.Flow{}, enginerr.New(enginerr.TypeFlowNotFound, "flow %q not found", name)
}

func (h *Handlers) loadModels(ctx context.Context) (map[string]models.Model, error) {
	var list []models.Model
	if err := h.Storage.Load(ctx, storage.KeyModels, &list); err != nil {
		return nil, enginerr.Wrap(enginerr.TypeInternal, err, "failed to load models: %v", err)
	}
	set := make(map[string]models.Model, len(list))
	for _, m := range list {
		set[m.ID] = m
	}
	return set, nil
}

// loadOrCreateConversation loads the conversation named by
// req.ConversationID, or starts a fresh one at the flow's start node
// if no id was supplied (or the id names no stored conversation).
func (h *Handlers) loadOrCreateConversation(ctx context.Context, req models.ChatCompletionRequest, flow models.Flow) (*models.ConversationState, bool, error) {
	if req.ConversationID != "" {
		var state models.ConversationState
		if err := h.Storage.Load(ctx, storage.ConversationKey(req.ConversationID), &state); err != nil {
			return nil, false, enginerr.Wrap(enginerr.TypeInternal, err, "failed to load conversation: %v", err)
		}
		if state.ID != "" {
			return &state, false, nil
		}
	}

	start, ok := flow.StartNode()
	if !ok {
		return nil, false, enginerr.New(enginerr.TypeNodeNotFound, "flow %q has no start node", flow.Name)
	}

	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	state := &models.ConversationState{
		ID:            id,
		FlowID:        flow.ID,
		CurrentNodeID: start.ID,
		Status:        models.StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return state, true, nil
}

// applyProcessNodeResume resets execution to targetNodeID and clears
// the transient per-run state, per DESIGN.md's Open Question 2: the
// message list is left intact, only the bookkeeping fields reset.
func applyProcessNodeResume(flow models.Flow, state *models.ConversationState, targetNodeID string) {
	if _, ok := flow.NodeByID(targetNodeID); !ok {
		return
	}
	state.CurrentNodeID = targetNodeID
	state.LastResponse = ""
	state.PendingToolCalls = nil
	state.HandoffRequested = false
	state.ExecutionTrace = nil
	state.Status = models.StatusRunning
}

// decodeRequest reads the request body for POST, or the "request"
// query parameter's JSON payload for GET — the chat-completions
// endpoint is exposed under both methods per spec §6.
func decodeRequest(r *http.Request, out *models.ChatCompletionRequest) error {
	if r.Method == http.MethodGet {
		raw := r.URL.Query().Get("request")
		if raw == "" {
			out.Model = r.URL.Query().Get("model")
			out.ConversationID = r.URL.Query().Get("conversation_id")
			return nil
		}
		return json.Unmarshal([]byte(raw), out)
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func writeResponse(w http.ResponseWriter, state *models.ConversationState, action flowexec.Action, requestedModel string) {
	resp := models.ChatCompletionResponse{
		ID:             "chatcmpl-" + state.ID,
		Object:         "chat.completion",
		ConversationID: state.ID,
		Status:         state.Status,
	}

	if state.Status == models.StatusPausedDebug {
		resp.DebugState = state
	}

	msg := models.ResponseMessage{Role: models.RoleAssistant, Content: state.LastResponse}
	finishReason := "stop"
	switch action.Kind {
	case flowexec.ActionTool:
		// Tool calls are awaiting external approval — surface them
		// structurally rather than as LastResponse text.
		msg.ToolCalls = state.PendingToolCalls
		finishReason = "tool_calls"
	case flowexec.ActionStay:
		finishReason = "length"
	}

	resp.Choices = []models.Choice{{
		Index:        0,
		Message:      msg,
		FinishReason: finishReason,
	}}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	engErr, ok := err.(*enginerr.Error)
	if !ok {
		engErr = enginerr.Wrap(enginerr.TypeInternal, err, "%v", err)
	}

	status := engErr.Status
	if status == 0 {
		switch engErr.Type {
		case enginerr.TypeInvalidRequest, enginerr.TypeFlowNotFound, enginerr.TypeModelNotFound, enginerr.TypeNodeNotFound:
			status = http.StatusBadRequest
		case enginerr.TypeAPIKey:
			status = http.StatusUnauthorized
		default:
			status = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": engErr.Message,
			"type":    engErr.Type,
			"code":    engErr.Code,
			"param":   engErr.Param,
		},
	})
}
