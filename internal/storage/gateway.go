// Package storage implements the Storage Gateway: a narrow,
// replaceable key/value persistence layer. The rest of the engine
// never touches durable storage directly — it goes through this
// package's Gateway interface, which is the only thing that changes
// when swapping an in-memory, Redis, or Postgres backend.
package storage

import "context"

// Gateway is the flat-keyspace capability set spec §4.1 prescribes.
// Keys are stable strings ("flows", "models", "mcp_servers",
// "conversations/<id>", "global_env_vars", "encryption_metadata").
// Values are structured records serialized to a self-describing
// format (JSON). The gateway is not transactional across keys —
// callers must tolerate a crash between two related writes.
type Gateway interface {
	// Load unmarshals the value stored at key into out. If the key is
	// absent or the backend read fails, out is left holding the value
	// it already had (callers pre-populate out with their default) and
	// Load returns nil — read errors surface as "not found → default".
	// A stored value that fails to decode into out is returned as an
	// error.
	Load(ctx context.Context, key string, out any) error

	// Save marshals value and persists it at key. Write errors
	// propagate.
	Save(ctx context.Context, key string, value any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Keyspace helpers centralize the stable key strings so callers never
// hand-format them inconsistently.
const (
	KeyFlows       = "flows"
	KeyModels      = "models"
	KeyMCPServers  = "mcp_servers"
	KeyGlobalVars  = "global_env_vars"
	KeyEncryption  = "encryption_metadata"
)

// ConversationKey formats the per-conversation storage key.
func ConversationKey(id string) string {
	return "conversations/" + id
}
