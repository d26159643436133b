package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
)

const (
	conversationsDefaultLimit = 50
	messagesDefaultLimit      = 100
)

type conversationHandler struct {
	store  *session.Store
	logger log.Logger
}

type conversationBody struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type turnBody struct {
	ID       string   `json:"id"`
	Sequence int32    `json:"sequence"`
	Role     string   `json:"role"`
	Text     string   `json:"text"`
	Sources  []string `json:"sources,omitempty"`
	SentAt   string   `json:"sent_at"`
}

func toConversationBody(c session.Conversation) conversationBody {
	return conversationBody{
		ID:        c.ID.String(),
		Title:     c.Title,
		CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt: c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// create handles POST /api/v1/conversations.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), session.TruncateTitle(req.Title))
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create conversation", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationBody(conv), h.logger)
}

// list handles GET /api/v1/conversations.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt32(r, "limit", conversationsDefaultLimit)
	offset := queryInt32(r, "offset", 0)

	convs, err := h.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list conversations", h.logger)
		return
	}

	out := make([]conversationBody, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationBody(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out}, h.logger)
}

// get handles GET /api/v1/conversations/{id}.
func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "loading conversation")
		return
	}
	writeJSON(w, http.StatusOK, toConversationBody(conv), h.logger)
}

// messages handles GET /api/v1/conversations/{id}/messages.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	limit := queryInt32(r, "limit", messagesDefaultLimit)
	turns, err := h.store.RecentTurns(r.Context(), id, limit)
	if err != nil {
		h.respondStoreError(w, err, "loading messages")
		return
	}

	out := make([]turnBody, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnBody{
			ID:       t.ID.String(),
			Sequence: t.Sequence,
			Role:     string(t.Role),
			Text:     t.Text,
			Sources:  t.Sources,
			SentAt:   t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out}, h.logger)
}

// rename handles PATCH /api/v1/conversations/{id}.
func (h *conversationHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required", h.logger)
		return
	}

	if err := h.store.SetTitle(r.Context(), id, session.TruncateTitle(req.Title)); err != nil {
		h.respondStoreError(w, err, "renaming conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// remove handles DELETE /api/v1/conversations/{id}.
func (h *conversationHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteConversation(r.Context(), id); err != nil {
		h.respondStoreError(w, err, "deleting conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *conversationHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a UUID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

func (h *conversationHandler) respondStoreError(w http.ResponseWriter, err error, action string) {
	if errors.Is(err, session.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found", h.logger)
		return
	}
	h.logger.Error(action, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error", h.logger)
}

func queryInt32(r *http.Request, name string, def int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}
