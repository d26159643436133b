package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/verity0/verity/internal/knowledge"
	"github.com/verity0/verity/internal/log"
)

const maxDocumentBodyBytes = 4 << 20

// documentHandler lets external indexers manage the knowledge base. The
// routes sit behind the same API-key auth as the rest of the surface.
type documentHandler struct {
	store  KnowledgeStore
	logger log.Logger
}

// upsert handles PUT /api/v1/documents/{id}: index or replace one
// document, embedding its content.
func (h *documentHandler) upsert(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "document id is required", h.logger)
		return
	}

	var req struct {
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required", h.logger)
		return
	}

	doc := knowledge.Document{ID: id, Content: req.Content, Metadata: req.Metadata}
	if err := h.store.Add(r.Context(), doc); err != nil {
		h.logger.Error("indexing document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not index document", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "indexed"}, h.logger)
}

// remove handles DELETE /api/v1/documents/{id}.
func (h *documentHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "document id is required", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete document", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
