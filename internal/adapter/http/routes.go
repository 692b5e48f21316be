package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/respondmesh/respondmesh/internal/logger"
)

// MountRoutes registers the agent's inbound routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Post("/a2a/message", h.HandleMessage)
	r.Post("/delegate", h.HandleDelegate)
	r.Get("/health", h.Health)
	r.Get("/circuits", h.CircuitStatus)
}

// Logger returns middleware that logs HTTP requests using slog.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", logger.CorrelationID(r.Context()),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
