// Package mcpmanager implements the MCP Connection Manager: lifecycle,
// health, and RPC façade for external tool servers reached over
// stdio, websocket, HTTP-SSE, streamable-HTTP, or Docker-wrapped
// stdio. It owns connect retry, a bounded per-client stderr buffer
// (see Client), and shutdown, and
// exclusively owns every live MCPClient handle and its transport
// resources.
package mcpmanager

import (
	"context"

	"github.com/flowforge/engine/pkg/models"
)

// Transport is the minimal capability every wire protocol must
// provide once a connection is established: initialize, enumerate
// tools, and invoke one. Stdio/SSE/streamable-HTTP are backed by
// mark3labs/mcp-go's client package; websocket (direct or as docker's
// published-port sub-mode) is hand-rolled JSON-RPC framing over
// gorilla/websocket, since the MCP ecosystem has largely moved off a
// plain-websocket transport and no off-the-shelf client covers it.
type Transport interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]models.MCPToolDescriptor, error)
	CallTool(ctx context.Context, toolName string, args map[string]any, progressToken string) (content string, isError bool, err error)
	Close(ctx context.Context) error
}
