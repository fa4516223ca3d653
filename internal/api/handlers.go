package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arenfeld/codex/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ItemResponse is the metadata payload returned for one item.
type ItemResponse struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author,omitempty"`
	Tags     []string  `json:"tags"`
	AddedAt  time.Time `json:"added_at"`
	Checksum string    `json:"checksum"`
}

// ItemDetail extends ItemResponse with the base64 plaintext payload.
type ItemDetail struct {
	ItemResponse
	Content string `json:"content"`
}

func toItemResponse(m models.ItemMetadata) ItemResponse {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return ItemResponse{
		ID:       m.ID,
		Title:    m.Title,
		Author:   m.Author,
		Tags:     tags,
		AddedAt:  m.AddedAt,
		Checksum: m.Checksum,
	}
}

// ListItems handles GET /items with optional title/author/tag filters.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.Filter{
		Title:  q.Get("title"),
		Author: q.Get("author"),
		Tag:    q.Get("tag"),
	}

	hits, err := h.svc.Search(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]ItemResponse, len(hits))
	for i, m := range hits {
		items[i] = toItemResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

// AddItem handles POST /items. Content arrives base64-encoded since payloads
// are arbitrary binary.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 256<<20)
	var req struct {
		Title   string   `json:"title"`
		Author  string   `json:"author"`
		Tags    []string `json:"tags"`
		Content string   `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title and content are required"))
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("content is not valid base64"))
		return
	}

	added, err := h.svc.Add(payload, models.ItemMetadata{
		Title:  req.Title,
		Author: req.Author,
		Tags:   req.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(*added))
}

// GetItem handles GET /items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta, payload, err := h.svc.Fetch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ItemDetail{
		ItemResponse: toItemResponse(*meta),
		Content:      base64.StdEncoding.EncodeToString(payload),
	})
}

// UpdateItem handles PATCH /items/{id}: metadata fields only.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Title  string   `json:"title"`
		Author string   `json:"author"`
		Tags   []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	updated, err := h.svc.Update(id, req.Title, req.Author, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(*updated))
}

// DeleteItem handles DELETE /items/{id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportBundle handles GET /export: streams the tar bundle of the whole
// store in its at-rest encrypted form.
func (h *Handler) ExportBundle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-tar")
	w.Header().Set("Content-Disposition", `attachment; filename="codex-export.tar"`)
	if err := h.svc.Export(w); err != nil {
		// Headers may already be gone; nothing better to do than log-free abort.
		writeError(w, err)
	}
}
