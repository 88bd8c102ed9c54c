package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/varden/mindloom/internal/apperr"
	"github.com/varden/mindloom/internal/mapservice"
	"github.com/varden/mindloom/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *mapservice.Service
	sessions *session.Manager
}

// NewHandler creates a new Handler.
func NewHandler(svc *mapservice.Service, sessions *session.Manager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// mapPath extracts the map path from the URL wildcard. Supports encoded
// slashes from OpenAPI clients (e.g. projects%2Froadmap.md).
func mapPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListMaps handles GET /api/maps.
//
//	@Summary		List maps with optional pagination
//	@Tags			maps
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			sort	query		string	false	"Sort field"	Enums(updated_at, title, path)
//	@Success		200		{object}	MapListResponse
//	@Security		BearerAuth
//	@Router			/maps [get]
func (h *Handler) ListMaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	sort := q.Get("sort")

	items, total, err := h.svc.ListMaps(r.Context(), limit, offset, sort)
	if err != nil {
		slog.Error("list maps failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"maps":  items,
		"total": total,
	})
}

// GetMap handles GET /api/maps/*.
//
//	@Summary		Get a single map by path
//	@Tags			maps
//	@Produce		json
//	@Param			path	path		string	true	"Map path"
//	@Success		200		{object}	MapDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{path} [get]
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	m, err := h.svc.GetMap(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get map failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMap handles POST /api/maps.
//
//	@Summary		Create a new map
//	@Tags			maps
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateMapRequest	true	"Map to create"
//	@Success		201		{object}	MapDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps [post]
func (h *Handler) CreateMap(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and content are required"))
		return
	}
	m, err := h.svc.CreateMap(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("map already exists"))
		case errors.Is(err, apperr.ErrNoStructure):
			writeJSON(w, http.StatusBadRequest, errorBody("content has no headings or list items"))
		default:
			slog.Error("create map failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// UpdateMap handles PUT /api/maps/*.
//
//	@Summary		Update a map with optimistic concurrency
//	@Tags			maps
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string				true	"Map path"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdateMapRequest	true	"Updated content"
//	@Success		200			{object}	MapDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{path} [put]
func (h *Handler) UpdateMap(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := r.Header.Get("If-Match")
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch = strings.Trim(ifMatch, `"`)

	m, err := h.svc.UpdateMap(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
		case errors.Is(err, apperr.ErrNoStructure):
			writeJSON(w, http.StatusBadRequest, errorBody("content has no headings or list items"))
		default:
			slog.Error("update map failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMap handles DELETE /api/maps/*.
//
//	@Summary		Delete a map
//	@Tags			maps
//	@Param			path	path	string	true	"Map path"
//	@Success		204		"Map deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/maps/{path} [delete]
func (h *Handler) DeleteMap(w http.ResponseWriter, r *http.Request) {
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteMap(r.Context(), path); err != nil {
		slog.Error("delete map failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	// An open editing session on a deleted map is stale; tear it down.
	h.sessions.Close(path)
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across maps
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Outline handles GET /api/outline/*.
//
//	@Summary		Get the flattened structure of a map
//	@Tags			maps
//	@Produce		json
//	@Param			path	path		string	true	"Map path"
//	@Success		200		{object}	OutlineResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/outline/{path} [get]
func (h *Handler) Outline(w http.ResponseWriter, r *http.Request) {
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	items, err := h.svc.Outline(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrNoStructure):
			writeJSON(w, http.StatusBadRequest, errorBody("map has no headings or list items"))
		default:
			slog.Error("outline failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

// OpenSession handles POST /api/sessions.
//
//	@Summary		Open (or reuse) an editing session for a map
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenSessionRequest	true	"Map to open"
//	@Success		200		{object}	SessionStateResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	s, err := h.sessions.Open(req.Path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNoStructure):
			writeJSON(w, http.StatusBadRequest, errorBody("map has no headings or list items"))
		case errors.Is(err, apperr.ErrNotFound), errors.Is(err, os.ErrNotExist):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("open session failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, SessionStateResponse{
		Path:     s.Path(),
		Markdown: s.CurrentMarkdown(),
		Tree:     s.Tree(),
	})
}

// CloseSession handles DELETE /api/sessions/*.
//
//	@Summary		Close an editing session
//	@Tags			sessions
//	@Param			path	path	string	true	"Map path"
//	@Success		204		"Session closed"
//	@Security		BearerAuth
//	@Router			/sessions/{path} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	h.sessions.Close(path)
	w.WriteHeader(http.StatusNoContent)
}

// openSession resolves the wildcard path to an already-open session or
// writes a 404.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	path := mapPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return nil, false
	}
	s, ok := h.sessions.Get(path)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("no open session for path"))
		return nil, false
	}
	return s, true
}

// EditorInput handles PUT /api/sessions/editor/*. The full editor text is
// buffered and flows through the sync engine after the debounce interval.
//
//	@Summary		Submit editor text for an open session
//	@Tags			sessions
//	@Accept			json
//	@Param			path	path	string				true	"Map path"
//	@Param			body	body	EditorInputRequest	true	"Full editor text"
//	@Success		202		"Input accepted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/editor/{path} [put]
func (h *Handler) EditorInput(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	s.OnEditorInput(req.Content)
	w.WriteHeader(http.StatusAccepted)
}

// SessionTree handles GET /api/sessions/tree/*.
//
//	@Summary		Get the current node tree of an open session
//	@Tags			sessions
//	@Produce		json
//	@Param			path	path		string	true	"Map path"
//	@Success		200		{object}	SessionStateResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/tree/{path} [get]
func (h *Handler) SessionTree(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionStateResponse{
		Path:     s.Path(),
		Markdown: s.CurrentMarkdown(),
		Tree:     s.Tree(),
	})
}

// SessionMarkdown handles GET /api/sessions/markdown/*. Pending editor
// input is included even before the debounce fires.
//
//	@Summary		Get the latest markdown of an open session
//	@Tags			sessions
//	@Produce		json
//	@Param			path	path		string	true	"Map path"
//	@Success		200		{object}	map[string]string
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/markdown/{path} [get]
func (h *Handler) SessionMarkdown(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":     s.Path(),
		"markdown": s.CurrentMarkdown(),
	})
}

// NodeAtLine handles GET /api/sessions/node/*?line=N. Lines are 1-based;
// a line below the last structural line resolves to the nearest node above.
//
//	@Summary		Resolve an editor line to its node id
//	@Tags			sessions
//	@Produce		json
//	@Param			path	path		string	true	"Map path"
//	@Param			line	query		int		true	"1-based editor line"
//	@Success		200		{object}	NodeAtLineResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/node/{path} [get]
func (h *Handler) NodeAtLine(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}
	line, err := strconv.Atoi(r.URL.Query().Get("line"))
	if err != nil || line < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'line' must be a positive integer"))
		return
	}
	id := s.NodeIDByMarkdownLine(line)
	if id == "" {
		writeJSON(w, http.StatusNotFound, errorBody("no node at line"))
		return
	}
	writeJSON(w, http.StatusOK, NodeAtLineResponse{ID: id})
}

// FlushSession handles POST /api/sessions/flush/*. Pending editor input is
// pushed through the engine and persisted before the response is written.
//
//	@Summary		Flush pending editor input to disk
//	@Tags			sessions
//	@Param			path	path	string	true	"Map path"
//	@Success		204		"Flushed"
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/flush/{path} [post]
func (h *Handler) FlushSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := s.Flush(); err != nil {
		slog.Error("flush failed", slog.String("path", s.Path()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("save failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
