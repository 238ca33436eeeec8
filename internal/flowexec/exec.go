package flowexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowforge/engine/internal/modelinvoker"
	"github.com/flowforge/engine/pkg/models"
)

// stepProcessNode runs one process node's full prep/exec/post cycle.
func (e *Executor) stepProcessNode(ctx context.Context, state *models.ConversationState, flow models.Flow, node models.Node, modelSet map[string]models.Model, flujo, requireApproval bool) (Action, error) {
	model, ok := modelSet[node.ModelID]
	if !ok {
		return Action{}, fmt.Errorf("process node %q references unknown model %q", node.ID, node.ModelID)
	}
	model = e.resolveModelSecrets(ctx, model)

	refs, err := e.prepTools(ctx, flow, node)
	if err != nil {
		return Action{}, err
	}
	e.prepSystemMessage(ctx, flow, node, model, state)
	e.prepPendingUserInput(state)

	return e.execLoop(ctx, state, flow, node, model, refs, flujo, requireApproval)
}

// resolveModelSecrets returns a copy of model with its API key
// resolved through the Secret Resolver — ${global:NAME} references and
// encrypted: values never reach the Model Invoker directly. A model
// with no key at all is passed through unchanged; the Model Invoker
// is the one that fails fast on an empty key (spec §4.5 step 1), since
// it owns the generateCompletion procedure that step belongs to.
func (e *Executor) resolveModelSecrets(ctx context.Context, model models.Model) models.Model {
	if e.resolver == nil || model.APIKeyRef == "" {
		return model
	}
	if resolved, ok := e.resolver.Resolve(ctx, model.APIKeyRef).(string); ok {
		model.APIKeyRef = resolved
	}
	return model
}

func toolSpecsFrom(refs map[string]toolRef) []modelinvoker.ToolSpec {
	specs := make([]modelinvoker.ToolSpec, 0, len(refs))
	for name, ref := range refs {
		specs = append(specs, modelinvoker.ToolSpec{
			Name:        name,
			Description: ref.tool.Description,
			InputSchema: ref.tool.InputSchema,
		})
	}
	return specs
}

// execLoop drives the node's internal model↔tool loop, bounded by
// MaxToolIterationsPerNode, and dispatches the resulting action once
// the node either produces a terminal reply or a dispatchable tool
// call.
func (e *Executor) execLoop(ctx context.Context, state *models.ConversationState, flow models.Flow, node models.Node, model models.Model, refs map[string]toolRef, flujo, requireApproval bool) (Action, error) {
	specs := toolSpecsFrom(refs)
	useTools := len(specs) > 0

	for iter := 0; iter < MaxToolIterationsPerNode; iter++ {
		if state.IsCancelled() {
			return Action{}, errCancelled
		}

		var activeSpecs []modelinvoker.ToolSpec
		if useTools {
			activeSpecs = specs
		}

		result, err := e.invoker.GenerateCompletion(ctx, model, "", state.Messages, activeSpecs)
		if err != nil {
			return Action{}, fmt.Errorf("node %q: model call failed: %w", node.ID, err)
		}

		if result.ToolsUnsupported {
			useTools = false
			result, err = e.invoker.GenerateCompletion(ctx, model, "", state.Messages, nil)
			if err != nil {
				return Action{}, fmt.Errorf("node %q: model call failed on tools-unsupported retry: %w", node.ID, err)
			}
			if len(result.ToolCalls) == 0 {
				if extracted := extractToolCallsFromText(result.Content, model.FunctionCallingSchema); len(extracted) > 0 {
					result.ToolCalls = extracted
				}
			}
		}

		state.AppendMessage(models.Message{
			Role:      models.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
			NodeID:    node.ID,
		})

		if len(result.ToolCalls) == 0 {
			return e.interpretTextAction(flow, node, state, result.Content)
		}

		if handoffCall, ok := findHandoffCall(result.ToolCalls); ok {
			return e.applyHandoff(flow, node, state, handoffCall)
		}

		action, done, err := e.dispatchToolCalls(ctx, state, node, refs, result.ToolCalls, flujo, requireApproval)
		if err != nil {
			return Action{}, err
		}
		if done {
			return action, nil
		}
		// Not done: tool results were appended, loop back and re-invoke.
	}

	return Action{}, fmt.Errorf("node %q exceeded %d internal tool iterations", node.ID, MaxToolIterationsPerNode)
}

// dispatchToolCalls executes or defers calls per the flujo flag. The
// second return value reports whether the node's exec phase is done
// (action is final) — false means tool results were appended and the
// internal loop should continue.
func (e *Executor) dispatchToolCalls(ctx context.Context, state *models.ConversationState, node models.Node, refs map[string]toolRef, calls []models.ToolCall, flujo, requireApproval bool) (Action, bool, error) {
	if flujo {
		if requireApproval {
			state.PendingToolCalls = calls
			state.Status = models.StatusAwaitingToolApproval
			return Action{Kind: ActionTool}, true, nil
		}
		for _, call := range calls {
			e.executeToolCall(ctx, state, node, refs, call)
		}
		return Action{}, false, nil
	}

	var internal, external []models.ToolCall
	for _, call := range calls {
		if _, ok := refs[call.Name]; ok {
			internal = append(internal, call)
		} else {
			external = append(external, call)
		}
	}

	if len(external) == 0 {
		for _, call := range internal {
			e.executeToolCall(ctx, state, node, refs, call)
		}
		return Action{}, false, nil
	}

	var parts []string
	for _, call := range external {
		parts = append(parts, serializeExternalToolCallXML(call))
	}

	last := &state.Messages[len(state.Messages)-1]
	if last.Content != "" {
		last.Content = last.Content + "\n" + strings.Join(parts, "\n")
	} else {
		last.Content = strings.Join(parts, "\n")
	}
	last.ToolCalls = nil

	state.LastResponse = last.Content
	state.Status = models.StatusCompleted
	return Action{Kind: ActionFinalResponse}, true, nil
}
