package models

// ChatCompletionRequest is the inbound OpenAI-compatible request, plus
// this engine's extensions (conversation_id, processNodeId, flujo).
type ChatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []ChatMessageIn  `json:"messages"`
	Stream   bool             `json:"stream,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	ProcessNodeID  string `json:"processNodeId,omitempty"`

	// Flujo selects internal-orchestration tool dispatch semantics
	// (true) versus OpenAI-compatible external-caller semantics
	// (false) — see spec §4.6.
	Flujo           bool `json:"flujo,omitempty"`
	RequireApproval bool `json:"requireApproval,omitempty"`

	// DebugMode switches the conversation into single-step execution
	// (one node per request, status paused_debug) once set. Sticky:
	// the executor reads it off the persisted state thereafter, so a
	// caller only needs to send it once to turn debug stepping on.
	DebugMode bool `json:"debugMode,omitempty"`
}

// ChatMessageIn is one inbound message in the OpenAI-compatible array.
type ChatMessageIn struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible envelope returned to
// the caller, extended with conversation_id/status/debugState.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Choices []Choice `json:"choices"`

	ConversationID string             `json:"conversation_id"`
	Status         ConversationStatus `json:"status"`
	DebugState     *ConversationState `json:"debugState,omitempty"`
}

// Choice mirrors the single-choice OpenAI shape this engine emits.
type Choice struct {
	Index        int           `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ResponseMessage is the assistant message rendered into a Choice.
type ResponseMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
}
