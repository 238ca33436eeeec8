package mcpmanager

import (
	"context"

	"github.com/flowforge/engine/pkg/models"
)

// This file is the Manager's public operation surface: thin exported
// wrappers around the lowercase implementations above, named to match
// the engine's seven-operation MCP contract (connectServer,
// disconnectServer, listServerTools, callTool, getServerStatus,
// updateServerConfig, startEnabledServers).

// ConnectServer establishes (or reuses) the connection for name.
func (m *Manager) ConnectServer(ctx context.Context, name string) error {
	return m.connectServer(ctx, name)
}

// DisconnectServer tears down the connection for name, if any.
func (m *Manager) DisconnectServer(ctx context.Context, name string) error {
	return m.disconnectServer(ctx, name)
}

// CallTool invokes toolName on server name with args, honoring
// timeoutSeconds per spec §4.4 (nil = no timeout).
func (m *Manager) CallTool(ctx context.Context, name, toolName string, args map[string]any, timeoutSeconds *int) (string, bool, error) {
	return m.callTool(ctx, name, toolName, args, timeoutSeconds)
}

// GetServerStatus reports the connection status of server name.
func (m *Manager) GetServerStatus(name string) models.MCPServerStatusReport {
	return m.getServerStatus(name)
}

// UpdateServerConfig persists a patched config and reconnects if
// needed.
func (m *Manager) UpdateServerConfig(ctx context.Context, name string, patch models.MCPServerConfig) error {
	return m.updateServerConfig(ctx, name, patch)
}

// StartEnabledServers connects every non-disabled configured server.
func (m *Manager) StartEnabledServers(ctx context.Context) error {
	return m.startEnabledServers(ctx)
}
