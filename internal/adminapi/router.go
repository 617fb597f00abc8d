// Package adminapi exposes coordinator introspection and control over HTTP,
// shaped the way the teacher's internal/api.NewRouter lays out a chi router:
// global middleware, a public health/ready pair, then a JWT-protected route
// group.
package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nmslite/docwriter/internal/coordinator"
)

// NewRouter builds the adminapi HTTP handler for coord, verifying every
// /api/v1/* request against a JobTicket signed with jwtSecret.
func NewRouter(coord *coordinator.Coordinator, jwtSecret []byte, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{coord: coord}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recovery(logger))
	r.Use(requestLogger(logger))

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtAuth(jwtSecret))

		r.Get("/status", h.status)
		r.Post("/flush", h.flush)
		r.Post("/await", h.await)
		r.Get("/forests", h.forests)
	})

	return r
}
