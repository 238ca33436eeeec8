// Package server provides the public entry point for initializing the
// flow execution engine.
//
// This package lives in pkg/ rather than internal/ so that alternate
// deployments can import it and compose the server with their own
// storage backend or additional middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/engine/internal/api"
	"github.com/flowforge/engine/internal/api/handlers"
	"github.com/flowforge/engine/internal/api/middleware"
	"github.com/flowforge/engine/internal/config"
	"github.com/flowforge/engine/internal/flowexec"
	"github.com/flowforge/engine/internal/mcpmanager"
	"github.com/flowforge/engine/internal/modelinvoker"
	"github.com/flowforge/engine/internal/promptrender"
	"github.com/flowforge/engine/internal/secret"
	"github.com/flowforge/engine/internal/storage"
	"github.com/flowforge/engine/internal/telemetry"
)

// Config is the public configuration for the engine's HTTP server.
type Config struct {
	Port         int
	Version      string
	OTELEnabled  bool
	OTELEndpoint string
	ServiceName  string
}

// Server holds the initialized flow execution engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Storage is the Storage Gateway backing flows/models/conversations.
	Storage storage.Gateway

	// MCPManager owns every live MCP server connection.
	MCPManager *mcpmanager.Manager

	// Executor is the Flow Executor driving chat-completions requests.
	Executor *flowexec.Executor

	// Auth is the API key auth middleware; callers may add/remove keys
	// at runtime via Auth.AddKey/RemoveKey.
	Auth *middleware.APIKeyAuth

	Config *Config
	Port   int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := config.Load()
	return &Config{
		Port:         cfg.Port,
		Version:      cfg.Version,
		OTELEnabled:  cfg.Telemetry.Enabled,
		OTELEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	}
}

// New initializes the engine with configuration read from the
// environment and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, LoadConfig())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	gateway, err := buildGateway(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage gateway: %w", err)
	}
	log.Info().Str("driver", cfg.Storage.Driver).Msg("✅ Storage Gateway initialized")

	return buildServer(ctx, cfg, pubCfg, gateway, shutdown)
}

// NewWithGateway initializes the engine against an externally-provided
// Storage Gateway, e.g. a Redis-backed deployment configured outside
// of env-var defaults.
func NewWithGateway(ctx context.Context, gateway storage.Gateway) (*Server, error) {
	return NewWithGatewayAndConfig(ctx, gateway, LoadConfig())
}

// NewWithGatewayAndConfig initializes the engine with an external
// Storage Gateway and explicit configuration.
func NewWithGatewayAndConfig(ctx context.Context, gateway storage.Gateway, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	log.Info().Msg("✅ External Storage Gateway provided")
	return buildServer(ctx, cfg, pubCfg, gateway, shutdown)
}

func buildGateway(ctx context.Context, cfg config.StorageConfig) (storage.Gateway, error) {
	switch cfg.Driver {
	case "redis":
		return storage.NewRedisGateway(cfg.RedisURL)
	case "postgres":
		return storage.NewPostgresGateway(ctx, cfg.PgURL)
	default:
		return storage.NewMemoryGateway(), nil
	}
}

// buildServer is the shared constructor that wires every engine
// component: Secret Resolver, Prompt Renderer, MCP Connection
// Manager, Model Invoker, Flow Executor, and the HTTP router.
func buildServer(ctx context.Context, cfg *config.Config, pubCfg *Config, gateway storage.Gateway, shutdown func(context.Context) error) (*Server, error) {
	kdf := secret.NewKDF(cfg.Secret.Passphrase)
	lookup := globalVarLookup(gateway)
	resolver := secret.New(lookup, kdf, cfg.Secret.MaxResolveDepth)
	log.Info().Msg("✅ Secret Resolver initialized")

	mcpMgr := mcpmanager.NewManager(gateway, resolver, cfg.MCP.ConnectRetryAttempts, cfg.MCP.ConnectBaseBackoffMs)
	if err := mcpMgr.StartEnabledServers(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️  one or more MCP servers failed to start")
	}
	log.Info().Msg("✅ MCP Connection Manager initialized")

	renderer := promptrender.New(mcpMgr)
	log.Info().Msg("✅ Prompt Renderer initialized")

	invoker := modelinvoker.New()
	log.Info().Msg("✅ Model Invoker initialized")

	executor := flowexec.New(gateway, renderer, invoker, mcpMgr, resolver)
	log.Info().Msg("✅ Flow Executor initialized")

	h := handlers.New(gateway, executor)

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		log.Info().Msg("✅ API key auth enabled")
	} else {
		log.Warn().Msg("⚠️  API key auth disabled — set FLOW_ENGINE_API_KEYS to enable")
	}

	router := api.NewRouter(cfg, h, auth)

	return &Server{
		Handler:      router,
		Storage:      gateway,
		MCPManager:   mcpMgr,
		Executor:     executor,
		Auth:         auth,
		Config:       pubCfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// globalVarLookup builds a secret.GlobalVarLookup reading the flat
// name→value map persisted under storage.KeyGlobalVars.
func globalVarLookup(gateway storage.Gateway) secret.GlobalVarLookup {
	return func(ctx context.Context, name string) (string, bool) {
		var vars map[string]string
		if err := gateway.Load(ctx, storage.KeyGlobalVars, &vars); err != nil {
			return "", false
		}
		v, ok := vars[name]
		return v, ok
	}
}

// Shutdown flushes telemetry. It does not disconnect MCP servers or
// stop their child processes. Should be called on graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
