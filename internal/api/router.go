package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthTimeout bounds the dependency checks of /health.
const healthTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/status", s.handleListStatus)
			r.Get("/audit", s.handleListAudit)

			r.Route("/tanks", func(r chi.Router) {
				r.Get("/", s.handleListTanks)
				r.Post("/", s.handleCreateTank)
				r.Put("/", s.handleReplaceTanks)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTank)
					r.Put("/", s.handleUpdateTank)
					r.Delete("/", s.handleDeleteTank)
					r.Get("/status", s.handleTankStatus)

					r.Get("/history", s.handleListHistory)
					r.Delete("/history", s.handleClearHistory)

					r.Get("/temperature", s.handleReadTemperature)
					r.Get("/mode", s.handleReadMode)

					r.Post("/access", s.handleRequestAccess)
					r.Delete("/access", s.handleCloseAccess)
					r.Post("/access/reset", s.handleResetAccess)
					r.Post("/commands/{command}", s.handleCommand)
				})
			})
		})
	})

	return r
}

// handleHealth reports the server and its named dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		if err := checker.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
