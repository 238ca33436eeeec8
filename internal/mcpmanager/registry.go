package mcpmanager

import "sync"

// globalRegistry survives a Manager being rebuilt (e.g. module
// hot-reload in dev): live subprocess/websocket handles are process
// state, not Manager state, so a fresh Manager recovers them instead
// of orphaning them. Grounded on the teacher's process.Manager, which
// keeps its process table independent of any one request's lifetime.
var (
	globalRegistryMu sync.Mutex
	globalRegistry   = map[string]*Client{}
)

func registryGet(name string) (*Client, bool) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	c, ok := globalRegistry[name]
	return c, ok
}

func registryPut(name string, c *Client) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	globalRegistry[name] = c
}

func registryDelete(name string) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	delete(globalRegistry, name)
}

func registrySnapshot() map[string]*Client {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	out := make(map[string]*Client, len(globalRegistry))
	for k, v := range globalRegistry {
		out[k] = v
	}
	return out
}
