// Package promptrender implements the Prompt Renderer: composes a
// node's effective system prompt and expands embedded tool pills into
// model-appropriate descriptions.
package promptrender

import (
	"context"
	"strings"

	"github.com/flowforge/engine/pkg/models"
)

// Options controls prompt composition per spec §4.3.
type Options struct {
	Raw bool // skip tool-pill expansion, return pills unchanged
}

// Renderer composes system prompts and expands tool pills. It is pure
// given its inputs plus the current MCP tool catalog snapshot reached
// through catalog.
type Renderer struct {
	catalog ToolCatalog
}

// New builds a Renderer backed by the given tool catalog (normally the
// MCP Connection Manager).
func New(catalog ToolCatalog) *Renderer {
	return &Renderer{catalog: catalog}
}

// RenderSystemPrompt concatenates, in order: the start node's prompt
// (unless excluded), the model's prompt plus reasoning/function-schema
// instruction sentences (unless excluded), and the node's own prompt.
// It then performs tool-pill expansion unless opts.Raw is set.
func (r *Renderer) RenderSystemPrompt(ctx context.Context, startNode, node models.Node, model models.Model, opts Options) string {
	var b strings.Builder

	if !node.ExcludeStartNodePrompt && startNode.PromptTemplate != "" {
		b.WriteString(startNode.PromptTemplate)
		b.WriteString("\n\n")
	}

	if !node.ExcludeModelPrompt {
		if model.PromptTemplate != "" {
			b.WriteString(model.PromptTemplate)
			b.WriteString("\n\n")
		}
		if model.ReasoningTagSchema != "" {
			b.WriteString("Wrap your reasoning in <")
			b.WriteString(string(model.ReasoningTagSchema))
			b.WriteString("> tags before your final answer.\n")
		}
		if model.FunctionCallingSchema != models.FunctionCallingNone {
			b.WriteString("Express tool calls using the ")
			b.WriteString(string(model.FunctionCallingSchema))
			b.WriteString(" calling convention.\n\n")
		}
	}

	b.WriteString(node.PromptTemplate)

	prompt := b.String()
	if opts.Raw {
		return prompt
	}
	return r.expandToolPills(ctx, prompt, model.FunctionCallingSchema)
}
