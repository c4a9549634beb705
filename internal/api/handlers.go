package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mdlinks/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc GraphService
}

// NewHandler creates a new Handler.
func NewHandler(svc GraphService) *Handler {
	return &Handler{svc: svc}
}

// filePath extracts the file path from the URL (everything after /api/links/).
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func filePath(r *http.Request) string {
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

// Graph handles GET /api/graph.
//
//	@Summary		Get the full link graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetGraph())
}

// GetLinks handles GET /api/links/*.
//
//	@Summary		Get outgoing and incoming links of a file
//	@Tags			links
//	@Produce		json
//	@Param			path	path		string	true	"File path"
//	@Success		200		{object}	LinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/{path} [get]
func (h *Handler) GetLinks(w http.ResponseWriter, r *http.Request) {
	path := filePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	node, err := h.svc.Node(path)
	if err != nil {
		writeError(w, "get links", err)
		return
	}
	links := h.svc.GetLinksForFile(path)
	writeJSON(w, http.StatusOK, LinksResponse{
		Path:     node.ID,
		Node:     node,
		Outgoing: links.Outgoing,
		Incoming: links.Incoming,
	})
}

// AddLink handles POST /api/links.
//
//	@Summary		Add a manual link (idempotent)
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddLinkRequest	true	"Link to add"
//	@Success		200		{object}	models.Edge
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [post]
func (h *Handler) AddLink(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req AddLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	edge, err := h.svc.AddLink(r.Context(), req)
	if err != nil {
		writeError(w, "add link", err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// RemoveLink handles DELETE /api/links.
//
//	@Summary		Remove a link
//	@Tags			links
//	@Produce		json
//	@Param			from			query		string	true	"Source file"
//	@Param			to				query		string	true	"Target file"
//	@Param			relationType	query		string	false	"Relation of a typed reference"
//	@Success		200				{object}	RemoveLinkResponse
//	@Failure		400				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [delete]
func (h *Handler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameters 'from' and 'to' are required"))
		return
	}
	removed, err := h.svc.RemoveLink(r.Context(), from, to, models.RelationType(q.Get("relationType")))
	if err != nil {
		writeError(w, "remove link", err)
		return
	}
	writeJSON(w, http.StatusOK, RemoveLinkResponse{Removed: removed})
}

// Validate handles GET /api/validate.
//
//	@Summary		Validate graph integrity
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	ValidateResponse
//	@Security		BearerAuth
//	@Router			/validate [get]
func (h *Handler) Validate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Validate())
}

// Rebuild handles POST /api/rebuild.
//
//	@Summary		Rebuild the graph from a full rescan
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	RebuildResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("graph is not ready"))
		return
	}
	res, err := h.svc.Rebuild(r.Context())
	if err != nil {
		writeError(w, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
