package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbtrust/internal/trustservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *trustservice.Service, authEnabled bool, token string, sseHandler http.Handler, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Use(AuthMiddleware(authEnabled, token))

	// Trust operations.
	r.Post("/sign", h.Sign)
	r.Post("/check", h.Check)
	r.Post("/unsign", h.Unsign)
	r.Post("/cells/check", h.CheckCells)
	r.Post("/cells/mark", h.Mark)

	// Workspace and maintenance.
	r.Get("/status", h.Status)
	r.Post("/cull", h.Cull)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
