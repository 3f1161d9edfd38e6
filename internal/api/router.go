package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/configurations", func(r chi.Router) {
			r.Get("/", s.handleListConfigurations)
			r.Get("/{id}/history", s.handleStatusHistory)
		})

		r.Route("/links", func(r chi.Router) {
			r.Get("/", s.handleListLinks)
			r.Route("/{asset}/{attribute}", func(r chi.Router) {
				r.Get("/", s.handleGetLink)
				r.Get("/history", s.handleAttributeHistory)
				r.Post("/write", s.handleWriteAttribute)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the runtime health. A closed runtime or a
// configuration in ERROR yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"version": s.version,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
