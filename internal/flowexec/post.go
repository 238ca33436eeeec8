package flowexec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowforge/engine/pkg/models"
)

const handoffToolPrefix = "handoff_to_"

// isHandoffCall reports whether call is the engine's conventional
// handoff tool: either the bare name "handoff" (which carries its
// target node id in a "target" or "node" argument) or a
// "handoff_to_<NodeID>" name that names the target directly.
func isHandoffCall(call models.ToolCall) bool {
	return call.Name == "handoff" || strings.HasPrefix(call.Name, handoffToolPrefix)
}

// handoffTarget extracts the destination node id from a handoff tool
// call.
func handoffTarget(call models.ToolCall) (string, bool) {
	if strings.HasPrefix(call.Name, handoffToolPrefix) {
		target := strings.TrimPrefix(call.Name, handoffToolPrefix)
		if target != "" {
			return target, true
		}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "", false
	}
	if v, ok := args["target"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := args["node"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// findHandoffCall returns the first handoff-shaped call among calls,
// if any.
func findHandoffCall(calls []models.ToolCall) (models.ToolCall, bool) {
	for _, c := range calls {
		if isHandoffCall(c) {
			return c, true
		}
	}
	return models.ToolCall{}, false
}

// applyHandoff transitions state to targetNodeID and synthesizes the
// confirmation exchange spec §4.6 describes: a tool result confirming
// the handoff, followed by a user message nudging the model to
// continue on the new node.
func (e *Executor) applyHandoff(flow models.Flow, node models.Node, state *models.ConversationState, call models.ToolCall) (Action, error) {
	target, ok := handoffTarget(call)
	if !ok {
		return Action{}, fmt.Errorf("node %q: handoff tool call %q has no resolvable target", node.ID, call.Name)
	}
	if _, ok := flow.NodeByID(target); !ok {
		return Action{}, fmt.Errorf("node %q: handoff targets unknown node %q", node.ID, target)
	}

	state.AppendMessage(models.Message{
		Role:       models.RoleTool,
		Content:    fmt.Sprintf("Handoff to %q confirmed.", target),
		ToolCallID: call.ID,
		NodeID:     node.ID,
	})
	state.AppendMessage(models.Message{
		Role:    models.RoleUser,
		Content: "The handoff was successful. Continue",
	})

	state.HandoffRequested = false
	state.CurrentNodeID = target
	return Action{Kind: ActionHandoff, EdgeLabel: target}, nil
}

// interpretTextAction decides the outer action for a process node's
// plain-text (no tool calls) reply, per spec §4.6's action
// interpretation table: the reply (an empty reply counts as the label
// "default") hands off on an exact match against the node's outgoing
// edge labels; otherwise the literal labels "error" and "stay_on_node"
// select those actions, and anything else falls through to
// final_response.
func (e *Executor) interpretTextAction(flow models.Flow, node models.Node, state *models.ConversationState, content string) (Action, error) {
	label := strings.TrimSpace(content)
	if label == "" {
		label = "default"
	}

	if edge, ok := flow.MatchEdge(node.ID, label); ok {
		if _, exists := flow.NodeByID(edge.Target); !exists {
			return Action{}, fmt.Errorf("edge %q from node %q targets unknown node %q", label, node.ID, edge.Target)
		}
		state.CurrentNodeID = edge.Target
		return Action{Kind: ActionHandoff, EdgeLabel: label}, nil
	}

	switch label {
	case "error":
		state.Status = models.StatusError
		return Action{Kind: ActionError, Detail: content}, nil
	case "stay_on_node":
		return Action{Kind: ActionStay}, nil
	default:
		state.LastResponse = content
		state.Status = models.StatusCompleted
		return Action{Kind: ActionFinalResponse}, nil
	}
}
