package mcpmanager

import (
	"context"
	"fmt"
	"runtime"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowforge/engine/pkg/models"
)

// sdkTransport adapts mark3labs/mcp-go's client.Client to our Transport
// interface. It backs stdio, http-sse, and streamable-http servers.
type sdkTransport struct {
	cli *mcpclient.Client
}

func newStdioTransport(cfg models.MCPServerConfig) (*sdkTransport, error) {
	command, args := cfg.Command, cfg.Args
	// On Windows, a .bat script must be wrapped through cmd.exe /c,
	// since it is not directly executable.
	if runtime.GOOS == "windows" && len(command) > 4 && command[len(command)-4:] == ".bat" {
		args = append([]string{"/c", command}, args...)
		command = "cmd.exe"
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	cli, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn stdio mcp server: %w", err)
	}
	return &sdkTransport{cli: cli}, nil
}

func newSSETransport(cfg models.MCPServerConfig) (*sdkTransport, error) {
	cli, err := mcpclient.NewSSEMCPClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial http-sse mcp server: %w", err)
	}
	return &sdkTransport{cli: cli}, nil
}

func newStreamableHTTPTransport(cfg models.MCPServerConfig) (*sdkTransport, error) {
	cli, err := mcpclient.NewStreamableHttpClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial streamable-http mcp server: %w", err)
	}
	return &sdkTransport{cli: cli}, nil
}

// newDockerStdioTransport reuses the stdio path, spawning "docker run"
// itself as the child process rather than the server binary directly —
// mirroring the teacher's process/docker.go, which also shells out to
// the docker CLI instead of using the Docker engine API.
func newDockerStdioTransport(command string, args, env []string) (*sdkTransport, error) {
	cli, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn docker mcp server: %w", err)
	}
	return &sdkTransport{cli: cli}, nil
}

func (t *sdkTransport) Initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "flow-execution-engine",
		Version: "0.1.0",
	}
	_, err := t.cli.Initialize(ctx, req)
	return err
}

func (t *sdkTransport) ListTools(ctx context.Context) ([]models.MCPToolDescriptor, error) {
	result, err := t.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]models.MCPToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema := map[string]any{
			"type":       "object",
			"properties": tool.InputSchema.Properties,
			"required":   tool.InputSchema.Required,
		}
		out = append(out, models.MCPToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

func (t *sdkTransport) CallTool(ctx context.Context, toolName string, args map[string]any, progressToken string) (string, bool, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	if progressToken != "" {
		req.Params.Meta = &mcp.Meta{ProgressToken: progressToken}
	}

	result, err := t.cli.CallTool(ctx, req)
	if err != nil {
		return "", true, err
	}

	content := renderToolContent(result.Content)
	return content, result.IsError, nil
}

func (t *sdkTransport) Close(_ context.Context) error {
	return t.cli.Close()
}

// renderToolContent flattens an MCP tool-call result's content blocks
// to plain text, matching what spec scenario 2 expects (a tool message
// whose content is the tool's returned value).
func renderToolContent(blocks []mcp.Content) string {
	var text string
	for _, block := range blocks {
		if tc, ok := block.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	return text
}
