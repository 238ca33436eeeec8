package promptrender

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/pkg/models"
)

// ToolDelim is the fixed, non-user-enterable sentinel separating the
// server and tool name inside a tool pill and inside an internal
// tool's rewritten qualified name.
const ToolDelim = "__FLOW_TOOL_DELIM__"

// pillRegex matches ${<delim><server><delim><tool>}.
var pillRegex = regexp.MustCompile(regexp.QuoteMeta("${"+ToolDelim) + `([^}]+?)` + regexp.QuoteMeta(ToolDelim) + `([^}]+?)\}`)

// ToolCatalog is the capability this package needs from the MCP
// Connection Manager: ensure a server is connected and list its tools.
type ToolCatalog interface {
	EnsureConnected(ctx context.Context, serverName string) error
	ListServerTools(ctx context.Context, serverName string) ([]models.MCPToolDescriptor, error)
}

// expandToolPills replaces every tool pill in prompt with a
// model-appropriate tool description. On irrecoverable failure for a
// given pill, it is left literal and a warning is logged.
func (r *Renderer) expandToolPills(ctx context.Context, prompt string, schema models.FunctionCallingSchema) string {
	return pillRegex.ReplaceAllStringFunc(prompt, func(match string) string {
		groups := pillRegex.FindStringSubmatch(match)
		server, tool := groups[1], groups[2]

		desc, err := r.resolvePillDescription(ctx, server, tool, schema)
		if err != nil {
			log.Warn().Err(err).Str("server", server).Str("tool", tool).Msg("tool pill expansion failed, leaving literal")
			return match
		}
		return desc
	})
}

func (r *Renderer) resolvePillDescription(ctx context.Context, server, tool string, schema models.FunctionCallingSchema) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	boWithRetries := backoff.WithMaxRetries(bo, 2) // 3 total attempts

	err := backoff.Retry(func() error {
		return r.catalog.EnsureConnected(ctx, server)
	}, boWithRetries)
	if err != nil {
		return "", fmt.Errorf("connect mcp server %q: %w", server, err)
	}

	tools, err := r.catalog.ListServerTools(ctx, server)
	if err != nil {
		return "", fmt.Errorf("list tools on %q: %w", server, err)
	}

	var found *models.MCPToolDescriptor
	for i := range tools {
		if tools[i].Name == tool {
			found = &tools[i]
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("tool %q not found on server %q", tool, server)
	}

	return renderToolDescription(*found, schema), nil
}

// renderToolDescription renders the tool's description in the format
// dictated by the model's function-calling schema: JSON-style,
// XML-style, or free text (fallback).
func renderToolDescription(t models.MCPToolDescriptor, schema models.FunctionCallingSchema) string {
	params := extractParams(t.InputSchema)

	switch schema {
	case models.FunctionCallingJSON:
		var b strings.Builder
		fmt.Fprintf(&b, "Tool `%s`: %s\nParameters (JSON object):\n", t.Name, t.Description)
		for _, p := range params {
			fmt.Fprintf(&b, "  - %q (%s): %s\n", p.name, p.kind, p.desc)
		}
		return b.String()
	case models.FunctionCallingXML:
		var b strings.Builder
		fmt.Fprintf(&b, "Tool <%s>: %s\nParameters (as nested tags):\n", t.Name, t.Description)
		for _, p := range params {
			fmt.Fprintf(&b, "  <%s> (%s): %s\n", p.name, p.kind, p.desc)
		}
		return b.String()
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%s — %s. Parameters: ", t.Name, t.Description)
		parts := make([]string, 0, len(params))
		for _, p := range params {
			parts = append(parts, fmt.Sprintf("%s (%s: %s)", p.name, p.kind, p.desc))
		}
		b.WriteString(strings.Join(parts, ", "))
		return b.String()
	}
}

type paramInfo struct {
	name, kind, desc string
}

func extractParams(schema map[string]any) []paramInfo {
	props, _ := schema["properties"].(map[string]any)
	out := make([]paramInfo, 0, len(props))
	for name, raw := range props {
		p := paramInfo{name: name, kind: "any"}
		if m, ok := raw.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				p.kind = t
			}
			if d, ok := m["description"].(string); ok {
				p.desc = d
			}
		}
		out = append(out, p)
	}
	return out
}

// RawPillReferences extracts the (server, tool) pairs named by every
// pill in prompt, used to verify the tool-pill round-trip invariant:
// a prompt produced in raw mode, then passed back through rendered
// mode, yields the same set of references as the pills it contained.
func RawPillReferences(prompt string) [][2]string {
	matches := pillRegex.FindAllStringSubmatch(prompt, -1)
	out := make([][2]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, [2]string{m[1], m[2]})
	}
	return out
}
