package flowexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowforge/engine/pkg/models"
)

// executeToolCall invokes the MCP server backing call (resolved
// through refs) and appends the resulting tool message to state.
// Failures surface as a tool message reporting the error rather than
// aborting the step — a single misbehaving tool shouldn't take down
// the whole node.
func (e *Executor) executeToolCall(ctx context.Context, state *models.ConversationState, node models.Node, refs map[string]toolRef, call models.ToolCall) {
	ref, ok := refs[call.Name]
	if !ok {
		state.AppendMessage(models.Message{
			Role:       models.RoleTool,
			Content:    fmt.Sprintf("Error: tool %q is not available on this node.", call.Name),
			ToolCallID: call.ID,
			NodeID:     node.ID,
		})
		return
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			state.AppendMessage(models.Message{
				Role:       models.RoleTool,
				Content:    fmt.Sprintf("Error: could not parse arguments for tool %q: %v", ref.tool.Name, err),
				ToolCallID: call.ID,
				NodeID:     node.ID,
			})
			return
		}
	}

	content, isError, err := e.tools.CallTool(ctx, ref.server, ref.tool.Name, args, nil)
	if err != nil {
		content = fmt.Sprintf("Error: %v", err)
	} else if isError {
		content = fmt.Sprintf("Error: %s", content)
	}

	state.AppendMessage(models.Message{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		NodeID:     node.ID,
	})
}
