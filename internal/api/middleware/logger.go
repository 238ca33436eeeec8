package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// requestInfo is a mutable, request-scoped bag a handler fills in with
// the identifiers it resolves mid-request (conversation id, flow
// name) so the access-log line below can carry them even though
// Logger wraps the handler and runs before those values exist.
type requestInfo struct {
	ConversationID string
	FlowName       string
}

type requestInfoKey struct{}

// TagConversation records the conversation id and flow name on the
// current request's info bag, if Logger attached one. Handlers call
// this once they've resolved a conversation, per the ambient logging
// convention of attaching conversation id/flow id/node id to
// request-scoped log fields.
func TagConversation(ctx context.Context, conversationID, flowName string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.ConversationID = conversationID
		info.FlowName = flowName
	}
}

// Logger returns structured request logging middleware.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		info := &requestInfo{}
		ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
		next.ServeHTTP(rw, r.WithContext(ctx))

		duration := time.Since(start)

		event := log.Info()
		if rw.statusCode >= 400 {
			event = log.Warn()
		}
		if rw.statusCode >= 500 {
			event = log.Error()
		}

		event = event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Str("user_agent", r.UserAgent())
		if info.ConversationID != "" {
			event = event.Str("conversation_id", info.ConversationID)
		}
		if info.FlowName != "" {
			event = event.Str("flow", info.FlowName)
		}
		event.Msg("request")
	})
}
