// Flow Execution Engine — runs agent flows defined as directed graphs
// of start/process/finish/mcp nodes against an OpenAI-compatible
// chat-completions interface.
//
// It provides:
//   - A Storage Gateway abstracting flow/model/conversation persistence
//     (in-memory by default, Redis-backed when configured)
//   - A Secret Resolver for ${global:NAME} and encrypted API keys
//   - A Prompt Renderer with MCP tool-pill expansion
//   - An MCP Connection Manager (stdio, websocket, streamable-http,
//     http-sse, and docker-wrapped tool servers)
//   - A Model Invoker speaking the OpenAI chat-completions wire format
//   - A Flow Executor driving step-by-step, resumable conversation
//     execution with debug single-stepping and tool-approval gating
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/engine/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("⚙️  Flow Execution Engine starting...")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Shutdown(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Msg("🔥 Flow Execution Engine is ready!")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
