package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkfix/internal/linkservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *linkservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/transform", h.Transform)
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/*", h.LastWritten)
	r.Post("/rewrite", h.RewriteTree)
	r.Post("/rewrite/*", h.RewriteDocument)

	// Run history.
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/runs/{id}/documents", h.RunDocuments)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
