package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/varden/mindloom/internal/mapservice"
	"github.com/varden/mindloom/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// workspaceRoot is used to resolve the assets directory.
func NewRouter(svc *mapservice.Service, sessions *session.Manager, authEnabled bool, token string, sseHandler http.Handler, workspaceRoot string) chi.Router {
	h := NewHandler(svc, sessions)
	ah := NewAssetHandler(workspaceRoot)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Maps CRUD.
	r.Get("/maps", h.ListMaps)
	r.Post("/maps", h.CreateMap)
	r.Get("/maps/*", h.GetMap)
	r.Put("/maps/*", h.UpdateMap)
	r.Delete("/maps/*", h.DeleteMap)

	// Search and structure.
	r.Get("/search", h.Search)
	r.Get("/outline/*", h.Outline)

	// Editing sessions. Sub-resources carry the map path as a trailing
	// wildcard because chi only allows one wildcard per route.
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Delete("/*", h.CloseSession)
		r.Put("/editor/*", h.EditorInput)
		r.Get("/tree/*", h.SessionTree)
		r.Get("/markdown/*", h.SessionMarkdown)
		r.Get("/node/*", h.NodeAtLine)
		r.Post("/flush/*", h.FlushSession)
	})

	// Assets upload (auth-protected).
	r.Post("/assets", ah.Upload)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
