package mcpmanager

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/internal/enginerr"
	"github.com/flowforge/engine/internal/secret"
	"github.com/flowforge/engine/internal/storage"
	"github.com/flowforge/engine/pkg/models"
)

// cancelNotifier is implemented by transports that can send a
// notifications/cancelled message when a callTool RPC times out.
// Only the websocket transport currently supports this; stdio/SSE
// callers simply abandon the pending call.
type cancelNotifier interface {
	notifyCancelled(progressToken, reason string)
}

// Manager is the MCP Connection Manager: the single owner of every
// live server connection, its configuration, and its persisted state.
type Manager struct {
	gateway  storage.Gateway
	resolver *secret.Resolver

	retryAttempts int
	retryBaseMs   int

	mu              sync.RWMutex
	clients         map[string]*Client
	toolCache       map[string][]models.MCPToolDescriptor
	dockerContainer map[string]string // server name -> container name, docker transport only
	startupComplete bool
}

// NewManager builds a Manager, recovering any clients a previous
// Manager instance left registered in the process-global registry —
// e.g. across a dev-server hot reload — so in-flight subprocesses are
// not orphaned. Grounded on spec §4.4's Recovery requirement.
func NewManager(gateway storage.Gateway, resolver *secret.Resolver, retryAttempts, retryBaseMs int) *Manager {
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBaseMs <= 0 {
		retryBaseMs = 100
	}

	m := &Manager{
		gateway:         gateway,
		resolver:        resolver,
		retryAttempts:   retryAttempts,
		retryBaseMs:     retryBaseMs,
		clients:         map[string]*Client{},
		toolCache:       map[string][]models.MCPToolDescriptor{},
		dockerContainer: map[string]string{},
	}

	for name, c := range registrySnapshot() {
		m.clients[name] = c
	}
	return m
}

func (m *Manager) loadConfigs(ctx context.Context) (map[string]models.MCPServerConfig, error) {
	configs := map[string]models.MCPServerConfig{}
	if err := m.gateway.Load(ctx, storage.KeyMCPServers, &configs); err != nil {
		return nil, enginerr.Wrap(enginerr.TypeInternal, err, "load mcp server configs")
	}
	return configs, nil
}

func (m *Manager) saveConfigs(ctx context.Context, configs map[string]models.MCPServerConfig) error {
	if err := m.gateway.Save(ctx, storage.KeyMCPServers, configs); err != nil {
		return enginerr.Wrap(enginerr.TypeInternal, err, "save mcp server configs")
	}
	return nil
}

func (m *Manager) configFor(ctx context.Context, name string) (models.MCPServerConfig, error) {
	configs, err := m.loadConfigs(ctx)
	if err != nil {
		return models.MCPServerConfig{}, err
	}
	cfg, ok := configs[name]
	if !ok {
		return models.MCPServerConfig{}, enginerr.New(enginerr.TypeConnection, "no mcp server configured with name %q", name)
	}
	return cfg, nil
}

// connectServer establishes (or reuses) the connection for a named
// server. Idempotent: calling it on an already-connected server is a
// no-op. Connection attempts are retried with exponential backoff per
// spec §4.1.
func (m *Manager) connectServer(ctx context.Context, name string) error {
	m.mu.RLock()
	existing, ok := m.clients[name]
	m.mu.RUnlock()
	if ok && existing.statusReport().Status == models.MCPStatusConnected {
		return nil
	}

	cfg, err := m.configFor(ctx, name)
	if err != nil {
		return err
	}
	if cfg.Disabled {
		return enginerr.New(enginerr.TypeConnection, "mcp server %q is disabled", name)
	}

	client := newClient(name, cfg)
	m.mu.Lock()
	m.clients[name] = client
	m.mu.Unlock()
	registryPut(name, client)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(m.retryBaseMs) * time.Millisecond
	bo.Multiplier = 2

	var transport Transport
	operation := func() error {
		t, buildErr := m.buildTransport(cfg, client)
		if buildErr != nil {
			return buildErr
		}
		if initErr := t.Initialize(ctx); initErr != nil {
			_ = t.Close(ctx)
			return initErr
		}
		transport = t
		return nil
	}

	retryErr := backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(m.retryAttempts-1)))
	if retryErr != nil {
		client.setStatus(models.MCPStatusError, retryErr.Error())
		return enrichConnectionError(cfg, string(client.statusReport().StderrTail), retryErr)
	}

	client.mu.Lock()
	client.transport = transport
	client.mu.Unlock()
	client.setStatus(models.MCPStatusConnected, "")

	tools, err := transport.ListTools(ctx)
	if err != nil {
		log.Warn().Err(err).Str("server", name).Msg("connected but failed to list tools")
	} else {
		for _, tool := range tools {
			if valErr := validateToolDescriptor(tool); valErr != nil {
				log.Warn().Err(valErr).Str("server", name).Str("tool", tool.Name).Msg("server advertised a malformed tool")
			}
		}
		m.mu.Lock()
		m.toolCache[name] = tools
		m.mu.Unlock()
	}

	log.Info().Str("server", name).Str("transport", string(cfg.Transport)).Msg("mcp server connected")
	return nil
}

func (m *Manager) buildTransport(cfg models.MCPServerConfig, client *Client) (Transport, error) {
	switch cfg.Transport {
	case models.TransportStdio:
		return newStdioTransport(cfg)
	case models.TransportHTTPSSE:
		return newSSETransport(cfg)
	case models.TransportStreamableHTTP:
		return newStreamableHTTPTransport(cfg)
	case models.TransportWebSocket:
		return newWSTransport(cfg.URL)
	case models.TransportDocker:
		return m.buildDockerTransport(cfg, client)
	default:
		return nil, enginerr.New(enginerr.TypeConnection, "unsupported mcp transport %q", cfg.Transport)
	}
}

func (m *Manager) buildDockerTransport(cfg models.MCPServerConfig, client *Client) (Transport, error) {
	containerName := dockerContainerName(cfg.Name)

	switch cfg.DockerSubTransport {
	case models.DockerSubWebSocket:
		port, err := freePort()
		if err != nil {
			return nil, enginerr.Wrap(enginerr.TypeConnection, err, "allocate port for docker mcp server %q", cfg.Name)
		}
		args := buildDockerRunArgs(cfg, containerName, port)
		cmd := exec.Command("docker", args...)
		if err := cmd.Start(); err != nil {
			return nil, enginerr.Wrap(enginerr.TypeConnection, err, "start docker container for mcp server %q", cfg.Name)
		}
		m.mu.Lock()
		m.dockerContainer[cfg.Name] = containerName
		m.mu.Unlock()
		client.mu.Lock()
		client.containerName = containerName
		client.mu.Unlock()

		if err := waitForPort(port, 10*time.Second); err != nil {
			return nil, enginerr.Wrap(enginerr.TypeConnection, err, "docker mcp server %q did not become reachable", cfg.Name)
		}
		return newWSTransport(fmt.Sprintf("ws://localhost:%d", port))

	default: // stdio, the common case
		args := buildDockerRunArgs(cfg, containerName, 0)
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		m.mu.Lock()
		m.dockerContainer[cfg.Name] = containerName
		m.mu.Unlock()
		client.mu.Lock()
		client.containerName = containerName
		client.mu.Unlock()
		return newDockerStdioTransport("docker", args, env)
	}
}

// disconnectServer tears a connection down: it drops the client from
// both registries and calls the transport's Close with a context that
// expires after 5s. No separate terminate or kill signal is sent to a
// child process. Docker-transport servers additionally run
// `docker stop` so the container doesn't linger. Grounded on
// process.DockerExecutor.Stop.
func (m *Manager) disconnectServer(ctx context.Context, name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if ok {
		delete(m.clients, name)
		delete(m.toolCache, name)
	}
	containerName, hasContainer := m.dockerContainer[name]
	delete(m.dockerContainer, name)
	m.mu.Unlock()
	registryDelete(name)

	if !ok {
		return nil
	}

	client.mu.RLock()
	transport := client.transport
	client.mu.RUnlock()

	if transport != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := transport.Close(closeCtx); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("transport close did not complete cleanly")
		}
	}

	if hasContainer {
		stopCmd := exec.Command("docker", "stop", "-t", "5", containerName)
		if err := stopCmd.Run(); err != nil {
			log.Warn().Err(err).Str("container", containerName).Msg("docker stop failed, container may require manual cleanup")
		}
	}

	client.setStatus(models.MCPStatusDisconnected, "")
	return nil
}

// listServerTools returns the cached tool list from the most recent
// connection, connecting first if necessary.
func (m *Manager) listServerTools(ctx context.Context, name string) ([]models.MCPToolDescriptor, error) {
	if err := m.connectServer(ctx, name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	tools, ok := m.toolCache[name]
	m.mu.RUnlock()
	if !ok {
		return nil, enginerr.New(enginerr.TypeConnection, "mcp server %q has no cached tool list", name)
	}
	return tools, nil
}

// ListServerTools implements promptrender.ToolCatalog.
func (m *Manager) ListServerTools(ctx context.Context, server string) ([]models.MCPToolDescriptor, error) {
	return m.listServerTools(ctx, server)
}

// EnsureConnected implements promptrender.ToolCatalog.
func (m *Manager) EnsureConnected(ctx context.Context, server string) error {
	return m.connectServer(ctx, server)
}

// callTool dispatches a tool invocation, resolving ${global:...} and
// encrypted: references in args first. timeoutSeconds follows spec
// §4.4: nil means no timeout, a positive value races the call against
// a timer and sends notifications/cancelled on expiry.
func (m *Manager) callTool(ctx context.Context, name, toolName string, args map[string]any, timeoutSeconds *int) (string, bool, error) {
	if err := m.connectServer(ctx, name); err != nil {
		return "", true, err
	}

	m.mu.RLock()
	client := m.clients[name]
	m.mu.RUnlock()
	if client == nil {
		return "", true, enginerr.New(enginerr.TypeConnection, "mcp server %q is not connected", name)
	}

	resolvedAny := m.resolver.Resolve(ctx, map[string]any(args))
	resolvedArgs, _ := resolvedAny.(map[string]any)

	progressToken := uuid.NewString()

	client.mu.RLock()
	transport := client.transport
	client.mu.RUnlock()
	if transport == nil {
		return "", true, enginerr.New(enginerr.TypeConnection, "mcp server %q has no active transport", name)
	}

	if timeoutSeconds == nil || *timeoutSeconds < 0 {
		content, isErr, err := transport.CallTool(ctx, toolName, resolvedArgs, progressToken)
		return content, isErr, err
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(*timeoutSeconds)*time.Second)
	defer cancel()

	type result struct {
		content string
		isError bool
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		content, isErr, err := transport.CallTool(callCtx, toolName, resolvedArgs, progressToken)
		resultCh <- result{content, isErr, err}
	}()

	select {
	case r := <-resultCh:
		return r.content, r.isError, r.err
	case <-callCtx.Done():
		if notifier, ok := transport.(cancelNotifier); ok {
			notifier.notifyCancelled(progressToken, "timeout")
		}
		return "", true, enginerr.Timeout(toolName, *timeoutSeconds, progressToken)
	}
}

// getServerStatus reports the connection status of a named server
// without attempting to connect it.
func (m *Manager) getServerStatus(name string) models.MCPServerStatusReport {
	m.mu.RLock()
	client, ok := m.clients[name]
	m.mu.RUnlock()
	if !ok {
		return models.MCPServerStatusReport{Status: models.MCPStatusDisconnected}
	}
	return client.statusReport()
}

// updateServerConfig persists a patched config. If the transport,
// command, args, or env changed, the live client (if any) is
// reconnected so the new settings take effect; flipping Disabled to
// true disconnects, flipping it to false (re)connects.
func (m *Manager) updateServerConfig(ctx context.Context, name string, patch models.MCPServerConfig) error {
	configs, err := m.loadConfigs(ctx)
	if err != nil {
		return err
	}

	prev, existed := configs[name]
	patch.Name = name
	configs[name] = patch
	if err := m.saveConfigs(ctx, configs); err != nil {
		return err
	}

	if !existed {
		if !patch.Disabled {
			return m.connectServer(ctx, name)
		}
		return nil
	}

	transportChanged := prev.Transport != patch.Transport ||
		prev.Command != patch.Command ||
		prev.URL != patch.URL ||
		prev.Image != patch.Image ||
		!stringSliceEqual(prev.Args, patch.Args) ||
		!stringMapEqual(prev.Env, patch.Env)

	switch {
	case patch.Disabled && !prev.Disabled:
		return m.disconnectServer(ctx, name)
	case !patch.Disabled && prev.Disabled:
		return m.connectServer(ctx, name)
	case transportChanged:
		_ = m.disconnectServer(ctx, name)
		return m.connectServer(ctx, name)
	}
	return nil
}

// startEnabledServers connects every non-disabled configured server
// at startup, continuing past individual failures so one
// misconfigured server doesn't block the rest.
func (m *Manager) startEnabledServers(ctx context.Context) error {
	configs, err := m.loadConfigs(ctx)
	if err != nil {
		return err
	}

	for name, cfg := range configs {
		if cfg.Disabled {
			continue
		}
		if err := m.connectServer(ctx, name); err != nil {
			log.Error().Err(err).Str("server", name).Msg("failed to start mcp server at startup")
		}
	}

	m.mu.Lock()
	m.startupComplete = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) StartupComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startupComplete
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringMapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// freePort asks the OS for an ephemeral port and immediately releases
// it, for docker's websocket sub-mode port publishing.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitForPort polls until a TCP connection to localhost:port
// succeeds or the timeout elapses.
func waitForPort(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for port %d", port)
}
