// Package config loads the flow execution engine's configuration from
// the environment, with sensible defaults for local development.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the flow execution engine.
type Config struct {
	Port      int
	Version   string
	Storage   StorageConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Secret    SecretConfig
	MCP       MCPConfig
}

// StorageConfig selects and configures the Storage Gateway backend.
type StorageConfig struct {
	// Driver is one of "memory", "redis", or "postgres".
	Driver   string
	RedisURL string
	PgURL    string
}

type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
}

type AuthConfig struct {
	APIKeyHeader string
}

// SecretConfig configures the Secret Resolver's default DEK and
// recursion bound.
type SecretConfig struct {
	Passphrase      string
	MaxResolveDepth int
}

// MCPConfig bounds the MCP Connection Manager's retry/backoff policy.
type MCPConfig struct {
	ConnectRetryAttempts int
	ConnectBaseBackoffMs int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("FLOW_ENGINE_PORT", 8080),
		Version: envStr("FLOW_ENGINE_VERSION", "0.1.0"),
		Storage: StorageConfig{
			Driver:   envStr("FLOW_ENGINE_STORAGE_DRIVER", "memory"),
			RedisURL: envStr("FLOW_ENGINE_REDIS_URL", "redis://localhost:6379/0"),
			PgURL:    envStr("FLOW_ENGINE_PG_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:        envBool("OTEL_ENABLED", false),
			OTLPEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:    envStr("OTEL_SERVICE_NAME", "flow-execution-engine"),
			ServiceVersion: envStr("FLOW_ENGINE_VERSION", "0.1.0"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "Authorization"),
		},
		Secret: SecretConfig{
			Passphrase:      envStr("FLOW_ENGINE_DEK_PASSPHRASE", ""),
			MaxResolveDepth: envInt("FLOW_ENGINE_SECRET_MAX_DEPTH", 10),
		},
		MCP: MCPConfig{
			ConnectRetryAttempts: envInt("FLOW_ENGINE_MCP_RETRY_ATTEMPTS", 3),
			ConnectBaseBackoffMs: envInt("FLOW_ENGINE_MCP_RETRY_BASE_MS", 100),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
