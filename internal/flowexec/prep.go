package flowexec

import (
	"context"
	"fmt"

	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/internal/promptrender"
	"github.com/flowforge/engine/pkg/models"
)

// toolRef resolves a rewritten, model-facing tool name back to the MCP
// server and tool descriptor it came from.
type toolRef struct {
	server string
	tool   models.MCPToolDescriptor
}

// rewriteToolName produces the qualified name a process node exposes
// to the model for a tool reachable through an mcp edge, per spec
// §4.6's prep phase.
func rewriteToolName(server, tool string) string {
	return promptrender.ToolDelim + server + promptrender.ToolDelim + tool
}

// prepTools gathers every tool reachable from node via its mcp edges,
// filtered by the node's enabled-tools allowlist (empty allowlist
// means all tools are enabled), keyed by their rewritten qualified
// name.
func (e *Executor) prepTools(ctx context.Context, flow models.Flow, node models.Node) (map[string]toolRef, error) {
	refs := map[string]toolRef{}

	for _, edge := range flow.MCPEdgesFrom(node.ID) {
		mcpNode, ok := flow.NodeByID(edge.Target)
		if !ok || mcpNode.Type != models.NodeMCP {
			return nil, fmt.Errorf("node %q declares an mcp edge to non-mcp node %q", node.ID, edge.Target)
		}

		tools, err := e.tools.ListServerTools(ctx, mcpNode.MCPServerName)
		if err != nil {
			return nil, fmt.Errorf("list tools on mcp server %q: %w", mcpNode.MCPServerName, err)
		}

		for _, tool := range tools {
			if tool.Name == "" || tool.InputSchema == nil {
				return nil, enginerr.CriticalTool("mcp server %q advertises a tool with no name or no inputSchema", mcpNode.MCPServerName)
			}
			if len(node.EnabledTools) > 0 && !containsString(node.EnabledTools, tool.Name) {
				continue
			}
			qualified := rewriteToolName(mcpNode.MCPServerName, tool.Name)
			refs[qualified] = toolRef{server: mcpNode.MCPServerName, tool: tool}
		}
	}

	return refs, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// prepSystemMessage seeds a system message at the front of the
// conversation if one isn't already present. A conversation only ever
// gets one system message, rendered from whichever process node
// happens to run first.
func (e *Executor) prepSystemMessage(ctx context.Context, flow models.Flow, node models.Node, model models.Model, state *models.ConversationState) {
	for _, m := range state.Messages {
		if m.Role == models.RoleSystem {
			return
		}
	}

	startNode, _ := flow.StartNode()
	prompt := e.renderer.RenderSystemPrompt(ctx, startNode, node, model, promptrender.Options{})

	seeded := make([]models.Message, 0, len(state.Messages)+1)
	seeded = append(seeded, models.Message{Role: models.RoleSystem, Content: prompt, NodeID: node.ID})
	seeded = append(seeded, state.Messages...)
	state.Messages = seeded
}

// prepPendingUserInput appends any queued user input and clears the
// queue, per spec §4.6's prep phase.
func (e *Executor) prepPendingUserInput(state *models.ConversationState) {
	if state.PendingUserInput == "" {
		return
	}
	state.AppendMessage(models.Message{Role: models.RoleUser, Content: state.PendingUserInput})
	state.PendingUserInput = ""
}
