package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/verity0/verity/internal/knowledge"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
)

const (
	searchDefaultLimit = 10
	searchMaxLimit     = 50
	searchMaxQueryLen  = 500
)

// KnowledgeStore is the subset of the knowledge store the API serves.
type KnowledgeStore interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
	Add(ctx context.Context, doc knowledge.Document) error
	Delete(ctx context.Context, docID string) error
	Count(ctx context.Context, filter map[string]string) (int, error)
}

type searchHandler struct {
	knowledge KnowledgeStore
	sessions  *session.Store
	logger    log.Logger
}

type conversationHit struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Role           string `json:"role"`
	Snippet        string `json:"snippet"`
	CreatedAt      string `json:"created_at"`
}

type knowledgeHit struct {
	ID         string            `json:"id"`
	Snippet    string            `json:"snippet"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// conversations handles GET /api/v1/search/conversations: keyword search
// over persisted turns.
func (h *searchHandler) conversations(w http.ResponseWriter, r *http.Request) {
	query, ok := h.searchQuery(w, r.URL.Query().Get("q"))
	if !ok {
		return
	}
	limit := queryInt32(r, "limit", searchDefaultLimit)
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}

	hits, err := h.sessions.SearchTurns(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("searching conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed", h.logger)
		return
	}

	out := make([]conversationHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, conversationHit{
			ConversationID: hit.ConversationID.String(),
			Title:          hit.Title,
			Role:           string(hit.Role),
			Snippet:        hit.Snippet,
			CreatedAt:      hit.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": out,
		"total":   len(out),
	}, h.logger)
}

// search handles POST /api/v1/search: semantic search over the knowledge
// base.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	query, ok := h.searchQuery(w, req.Query)
	if !ok {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = searchDefaultLimit
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}

	results, err := h.knowledge.Search(r.Context(), query, knowledge.WithTopK(limit))
	if err != nil {
		h.logger.Error("semantic search", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed", h.logger)
		return
	}

	out := make([]knowledgeHit, 0, len(results))
	for _, res := range results {
		out = append(out, knowledgeHit{
			ID:         res.Document.ID,
			Snippet:    snippet(res.Document.Content, 200),
			Similarity: res.Similarity,
			Metadata:   res.Document.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": out,
		"total":   len(out),
	}, h.logger)
}

func snippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func (h *searchHandler) searchQuery(w http.ResponseWriter, raw string) (string, bool) {
	query := strings.TrimSpace(raw)
	if query == "" || len(query) > searchMaxQueryLen {
		writeError(w, http.StatusBadRequest, "invalid_query",
			"query must be between 1 and 500 characters", h.logger)
		return "", false
	}
	return query, true
}
