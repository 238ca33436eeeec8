package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/flowforge/engine/internal/api/handlers"
	"github.com/flowforge/engine/internal/api/middleware"
	"github.com/flowforge/engine/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the engine's HTTP router: the OpenAI-compatible
// chat-completions surface, conversation cancellation, and the
// always-public health/version endpoints.
func NewRouter(cfg *config.Config, h *handlers.Handlers, auth *middleware.APIKeyAuth) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	if auth != nil {
		r.Use(auth.Middleware)
	}

	r.Get("/healthz", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/chat/completions", h.ChatCompletions)
		r.Post("/chat/completions", h.ChatCompletions)

		r.Route("/conversations/{conversationId}", func(r chi.Router) {
			r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
				h.Cancel(w, req, chi.URLParam(req, "conversationId"))
			})
		})
	})

	return r
}

func parseCORSOrigins() []string {
	originsEnv := os.Getenv("FLOW_ENGINE_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "flow-execution-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "flow-execution-engine",
		})
	}
}
