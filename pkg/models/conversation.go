package models

import (
	"sync"
	"time"
)

// ConversationStatus is the lifecycle state of a ConversationState.
type ConversationStatus string

const (
	StatusRunning               ConversationStatus = "running"
	StatusCompleted             ConversationStatus = "completed"
	StatusError                 ConversationStatus = "error"
	StatusAwaitingToolApproval  ConversationStatus = "awaiting_tool_approval"
	StatusPausedDebug           ConversationStatus = "paused_debug"
)

// MessageRole mirrors OpenAI chat message roles.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is produced by an assistant message and consumed by a tool
// message referencing its ID. IDs are unique within a conversation's
// message list.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Message is an entry in a conversation's history. Messages are
// appended, never removed; the one in-place change is the executor's
// rewrite of the assistant message it has just appended when it wraps
// external tool calls as XML (content extended, tool_calls cleared).
type Message struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	NodeID     string      `json:"node_id,omitempty"`
}

// ExecutionTraceEntry is one append-only record of a debug step.
type ExecutionTraceEntry struct {
	NodeID    string    `json:"node_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// ConversationState is the full, persisted record of one conversation.
// The Flow Executor exclusively owns its mutation; all other
// components return values it merges in.
type ConversationState struct {
	ID            string    `json:"id"`
	FlowID        string    `json:"flow_id"`
	CurrentNodeID string    `json:"current_node_id,omitempty"`
	Title         string    `json:"title,omitempty"`
	Messages      []Message `json:"messages"`

	Status            ConversationStatus `json:"status"`
	PendingToolCalls  []ToolCall         `json:"pending_tool_calls,omitempty"`
	ExecutionTrace    []ExecutionTraceEntry `json:"execution_trace,omitempty"`
	DebugMode         bool               `json:"debug_mode,omitempty"`
	Cancelled         bool               `json:"cancelled,omitempty"`

	// LastResponse is the content of the most recent terminal assistant
	// message, surfaced to callers and cleared on processNodeId resume.
	LastResponse string `json:"last_response,omitempty"`

	// HandoffRequested is cleared when a handoff is applied and by
	// processNodeId resume; the executor never sets it.
	HandoffRequested bool `json:"handoff_requested,omitempty"`

	// PendingUserInput is queued onto the state between requests and
	// consumed by the next process-node's prep phase.
	PendingUserInput string `json:"pending_user_input,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// mu guards Cancelled, the only field set from outside the
	// single-writer Flow Executor (the cancel operation).
	mu sync.Mutex `json:"-"`
}

// Cancel sets the cooperative cancellation flag. Safe to call
// concurrently with an in-flight step.
func (c *ConversationState) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cancelled = true
}

// IsCancelled reports the cooperative cancellation flag.
func (c *ConversationState) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Cancelled
}

// AppendMessage appends m, assigning a timestamp if zero. Never
// mutates an existing entry.
func (c *ConversationState) AppendMessage(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	c.Messages = append(c.Messages, m)
}
