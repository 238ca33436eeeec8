// Package enginerr implements the structured error taxonomy from the
// engine's error handling design: component boundaries return
// structured results, never exceptions, so the Flow Executor can
// decide per-error whether to recover or surface.
package enginerr

import "fmt"

// Type is the taxonomy bucket an Error belongs to.
type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypeFlowNotFound    Type = "flow_not_found"
	TypeModelNotFound   Type = "model_not_found"
	TypeNodeNotFound    Type = "node_not_found"
	TypeAPIKey          Type = "api_key"
	TypeProvider         Type = "provider_error"
	TypeTool             Type = "tool_error"
	TypeConnection       Type = "connection_error"
	TypeCancelled        Type = "cancelled"
	TypeTimeout          Type = "timeout"
	TypeParse            Type = "parse_error"
	TypeInternal         Type = "internal_error"
)

// Error is the structured errorDetails shape surfaced to clients,
// preserving upstream type/code/status for client-side introspection.
type Error struct {
	Message string `json:"message"`
	Type    Type   `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
	Status  int    `json:"status,omitempty"`
	Name    string `json:"name,omitempty"`

	wrapped error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New builds an Error of the given type.
func New(t Type, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Type: t}
}

// Wrap builds an Error of the given type around an existing error,
// preserving it for errors.Is/As via Unwrap.
func Wrap(t Type, err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Type: t, wrapped: err}
}

// CriticalTool reports a structural tool misconfiguration (missing
// name or inputSchema). Per spec §7 this aborts the step — unlike a
// tool *call* failure, which is appended as a tool message instead.
func CriticalTool(format string, args ...any) *Error {
	return &Error{
		Message: "CRITICAL TOOL ERROR: " + fmt.Sprintf(format, args...),
		Type:    TypeTool,
	}
}

// Timeout builds the structured timeout error spec §4.4 requires for
// an expired callTool RPC.
func Timeout(toolName string, timeoutSeconds int, progressToken string) *Error {
	return &Error{
		Message: fmt.Sprintf("tool %q timed out after %ds", toolName, timeoutSeconds),
		Type:    TypeTimeout,
		Code:    progressToken,
		Param:   toolName,
	}
}
