package mcpmanager

import (
	"sync"

	"github.com/flowforge/engine/pkg/models"
)

// stderrBufferLimit bounds how much of a stdio server's stderr we
// retain for diagnostics — enough for a meaningful tail, not a leak.
const stderrBufferLimit = 4096

// Client bundles one connected server's transport with its status,
// config, and a rolling stderr tail that connection errors and status
// reports include. No transport forwards a child process's stderr
// into it; the tail holds only what appendStderr is given.
type Client struct {
	mu sync.RWMutex

	name      string
	config    models.MCPServerConfig
	transport Transport
	status    models.MCPServerStatus
	statusMsg string
	stderr    []byte

	// containerName is set only for docker-transport servers, tracked
	// so disconnectServer can additionally `docker stop` it.
	containerName string
}

func newClient(name string, cfg models.MCPServerConfig) *Client {
	return &Client{name: name, config: cfg, status: models.MCPStatusInitialization}
}

func (c *Client) setStatus(status models.MCPServerStatus, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.statusMsg = msg
}

func (c *Client) appendStderr(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderr = append(c.stderr, chunk...)
	if len(c.stderr) > stderrBufferLimit {
		c.stderr = c.stderr[len(c.stderr)-stderrBufferLimit:]
	}
}

func (c *Client) statusReport() models.MCPServerStatusReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.MCPServerStatusReport{
		Status:     c.status,
		Message:    c.statusMsg,
		StderrTail: string(c.stderr),
	}
}

func (c *Client) cfg() models.MCPServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}
