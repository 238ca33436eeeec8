// Package flowexec implements the Flow Executor: the outer
// step-driven state machine that advances a conversation through a
// flow's nodes, mediates between the model loop and external tool
// calls, selects successors via handoff actions, and persists
// conversation state so execution survives a restart mid-flow.
// Grounded on the teacher's internal/workflow.Engine (outer
// DAG-stepping shape, cancellation, persistence-before-return) and
// internal/executor.Executor (per-turn tool-call loop).
package flowexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/internal/modelinvoker"
	"github.com/flowforge/engine/internal/promptrender"
	"github.com/flowforge/engine/internal/secret"
	"github.com/flowforge/engine/internal/storage"
	"github.com/flowforge/engine/pkg/models"
)

// MaxInternalIterations bounds the outer handoff-following loop per
// request, per spec §4.6.
const MaxInternalIterations = 150

// MaxToolIterationsPerNode bounds a single process node's internal
// model↔tool loop.
const MaxToolIterationsPerNode = 30

// errCancelled is the sentinel stepOnce/execLoop return when
// observing a mid-step cancellation, so Run can route it to
// finishCancelled's canonical message rather than finishError's
// cause.Error() rendering, regardless of which loop level noticed it.
var errCancelled = errors.New("cancelled")

// ToolCaller is the subset of the MCP Connection Manager's surface
// the executor needs: enumerate a server's tools and invoke one.
// Narrowed to an interface so this package doesn't import
// internal/mcpmanager directly, and so tests can fake it.
type ToolCaller interface {
	ListServerTools(ctx context.Context, server string) ([]models.MCPToolDescriptor, error)
	CallTool(ctx context.Context, server, tool string, args map[string]any, timeoutSeconds *int) (string, bool, error)
}

// Executor is the Flow Executor.
type Executor struct {
	storage  storage.Gateway
	renderer *promptrender.Renderer
	invoker  *modelinvoker.Invoker
	tools    ToolCaller
	resolver *secret.Resolver

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Executor.
func New(gateway storage.Gateway, renderer *promptrender.Renderer, invoker *modelinvoker.Invoker, tools ToolCaller, resolver *secret.Resolver) *Executor {
	return &Executor{
		storage:  gateway,
		renderer: renderer,
		invoker:  invoker,
		tools:    tools,
		resolver: resolver,
		locks:    map[string]*sync.Mutex{},
	}
}

func (e *Executor) lockFor(conversationID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[conversationID] = l
	}
	return l
}

func (e *Executor) persist(ctx context.Context, state *models.ConversationState) error {
	state.UpdatedAt = time.Now().UTC()
	if err := e.storage.Save(ctx, storage.ConversationKey(state.ID), state); err != nil {
		return fmt.Errorf("persist conversation %q: %w", state.ID, err)
	}
	return nil
}

// Run advances state through flow until a terminal action is
// produced: final_response, error, tool (awaiting approval), stay, or
// (in debug mode) exactly one step then paused_debug. State is
// mutated and persisted in place; the returned error is reserved for
// infrastructure failures (e.g. storage unavailable) that the caller
// cannot recover from — ordinary domain failures surface as
// Action{Kind: ActionError}.
func (e *Executor) Run(ctx context.Context, state *models.ConversationState, flow models.Flow, modelSet map[string]models.Model, flujo, requireApproval bool) (Action, error) {
	lock := e.lockFor(state.ID)
	lock.Lock()
	defer lock.Unlock()

	if state.DebugMode {
		return e.runDebugStep(ctx, state, flow, modelSet, flujo, requireApproval)
	}

	for i := 0; i < MaxInternalIterations; i++ {
		if state.IsCancelled() {
			return e.finishCancelled(ctx, state)
		}

		action, err := e.stepOnce(ctx, state, flow, modelSet, flujo, requireApproval)
		if err != nil {
			if errors.Is(err, errCancelled) {
				return e.finishCancelled(ctx, state)
			}
			return e.finishError(ctx, state, err)
		}
		if err := e.persist(ctx, state); err != nil {
			return Action{}, err
		}

		if action.Kind == ActionHandoff {
			continue
		}
		return action, nil
	}

	return e.finishError(ctx, state, fmt.Errorf("exceeded %d internal iterations", MaxInternalIterations))
}

func (e *Executor) runDebugStep(ctx context.Context, state *models.ConversationState, flow models.Flow, modelSet map[string]models.Model, flujo, requireApproval bool) (Action, error) {
	if state.IsCancelled() {
		return e.finishCancelled(ctx, state)
	}

	action, err := e.stepOnce(ctx, state, flow, modelSet, flujo, requireApproval)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return e.finishCancelled(ctx, state)
		}
		return e.finishError(ctx, state, err)
	}

	if action.Kind != ActionFinalResponse && action.Kind != ActionError {
		state.Status = models.StatusPausedDebug
	}
	if err := e.persist(ctx, state); err != nil {
		return Action{}, err
	}
	return action, nil
}

func (e *Executor) finishCancelled(ctx context.Context, state *models.ConversationState) (Action, error) {
	state.Status = models.StatusError
	state.LastResponse = "Execution cancelled by user."
	if err := e.persist(ctx, state); err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionError, Detail: state.LastResponse}, nil
}

func (e *Executor) finishError(ctx context.Context, state *models.ConversationState, cause error) (Action, error) {
	log.Error().Err(cause).Str("conversation", state.ID).Msg("flow execution step failed")
	state.Status = models.StatusError
	state.LastResponse = cause.Error()
	if err := e.persist(ctx, state); err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionError, Detail: cause.Error()}, nil
}

// stepOnce runs exactly one node's prep/exec/post cycle.
func (e *Executor) stepOnce(ctx context.Context, state *models.ConversationState, flow models.Flow, modelSet map[string]models.Model, flujo, requireApproval bool) (Action, error) {
	node, ok := flow.NodeByID(state.CurrentNodeID)
	if !ok {
		return Action{}, fmt.Errorf("node %q not found in flow %q", state.CurrentNodeID, flow.ID)
	}

	switch node.Type {
	case models.NodeStart:
		return e.stepStartNode(flow, node, state)
	case models.NodeFinish:
		return e.stepFinishNode(state)
	case models.NodeProcess:
		return e.stepProcessNode(ctx, state, flow, node, modelSet, flujo, requireApproval)
	default:
		return Action{}, fmt.Errorf("node %q has non-steppable type %q", node.ID, node.Type)
	}
}

func (e *Executor) stepStartNode(flow models.Flow, node models.Node, state *models.ConversationState) (Action, error) {
	for _, edge := range flow.OutgoingEdges(node.ID) {
		if edge.Kind == "mcp" {
			continue
		}
		if _, ok := flow.NodeByID(edge.Target); !ok {
			return Action{}, fmt.Errorf("start node %q edge %q targets unknown node %q", node.ID, edge.ActionLabel, edge.Target)
		}
		state.CurrentNodeID = edge.Target
		return Action{Kind: ActionHandoff, EdgeLabel: edge.ActionLabel}, nil
	}
	return Action{}, fmt.Errorf("start node %q has no outgoing edge", node.ID)
}

func (e *Executor) stepFinishNode(state *models.ConversationState) (Action, error) {
	state.Status = models.StatusCompleted
	return Action{Kind: ActionFinalResponse}, nil
}
