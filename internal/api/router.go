package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc GraphService, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Whole graph and integrity report.
	r.Get("/graph", h.Graph)
	r.Get("/validate", h.Validate)
	r.Post("/rebuild", h.Rebuild)

	// Per-file links and manual edits.
	r.Get("/links/*", h.GetLinks)
	r.Post("/links", h.AddLink)
	r.Delete("/links", h.RemoveLink)

	return r
}
