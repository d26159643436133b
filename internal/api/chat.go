package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/pipeline"
	"github.com/verity0/verity/internal/session"
)

// maxChatBodyBytes bounds chat request bodies.
const maxChatBodyBytes = 1 << 20

// SSE event types emitted by the streaming endpoint.
const (
	EventSources = "sources" // passages selected for the prompt
	EventToken   = "token"   // partial answer text
	EventDone    = "done"    // final payload, replaces streamed text
	EventError   = "error"   // terminal failure
)

// Answerer is the slice of the pipeline the chat handlers use.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request, events *pipeline.Events) (*pipeline.Result, error)
}

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatResponse is the synchronous reply and the SSE done payload.
type chatResponse struct {
	Answer         string               `json:"answer"`
	Sources        []pipeline.SourceRef `json:"sources"`
	Language       string               `json:"language"`
	RTL            bool                 `json:"rtl"`
	Hedged         bool                 `json:"hedged"`
	Refusal        bool                 `json:"refusal"`
	ConversationID string               `json:"conversation_id,omitempty"`
}

type tokenPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatHandler struct {
	pipe         Answerer
	sessions     *session.Store
	historyLimit int32
	logger       log.Logger
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, convID, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	history, ok := h.loadHistory(w, r.Context(), convID)
	if !ok {
		return
	}

	result, err := h.pipe.Answer(r.Context(), pipeline.Request{Query: req.Query, History: history}, nil)
	if err != nil {
		status, code := mapPipelineError(err)
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	resp := h.finishTurn(r.Context(), req, convID, result)
	writeJSON(w, http.StatusOK, resp, h.logger)
}

// stream handles POST /api/v1/chat/stream. Events: sources, token, done,
// error. A validation retry replaces the streamed text via the done
// payload.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = writeEvent(w, flusher, EventError, errorPayload{Code: "invalid_request", Message: "invalid request body"})
		return
	}

	var convID uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			_ = writeEvent(w, flusher, EventError, errorPayload{Code: "invalid_conversation_id", Message: "conversation_id must be a UUID"})
			return
		}
		convID = id
	}

	ctx := r.Context()
	var history []session.Turn
	if convID != uuid.Nil {
		turns, err := h.fetchHistory(ctx, convID)
		if err != nil {
			code := "history_unavailable"
			if errors.Is(err, session.ErrConversationNotFound) {
				code = "conversation_not_found"
			}
			_ = writeEvent(w, flusher, EventError, errorPayload{Code: code, Message: err.Error()})
			return
		}
		history = turns
	}

	events := &pipeline.Events{
		OnSources: func(_ context.Context, sources []pipeline.SourceRef) error {
			return writeEvent(w, flusher, EventSources, sources)
		},
		OnToken: func(_ context.Context, text string) error {
			return writeEvent(w, flusher, EventToken, tokenPayload{Text: text})
		},
	}

	result, err := h.pipe.Answer(ctx, pipeline.Request{Query: req.Query, History: history}, events)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected mid-stream")
			return
		}
		_, code := mapPipelineError(err)
		_ = writeEvent(w, flusher, EventError, errorPayload{Code: code, Message: err.Error()})
		return
	}

	resp := h.finishTurn(ctx, req, convID, result)
	_ = writeEvent(w, flusher, EventDone, resp)
}

func (h *chatHandler) parseRequest(w http.ResponseWriter, r *http.Request) (chatRequest, uuid.UUID, bool) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return req, uuid.Nil, false
	}

	if req.ConversationID == "" {
		return req, uuid.Nil, true
	}
	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation_id must be a UUID", h.logger)
		return req, uuid.Nil, false
	}
	return req, id, true
}

func (h *chatHandler) loadHistory(w http.ResponseWriter, ctx context.Context, convID uuid.UUID) ([]session.Turn, bool) {
	if convID == uuid.Nil {
		return nil, true
	}
	turns, err := h.fetchHistory(ctx, convID)
	if err != nil {
		if errors.Is(err, session.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found", h.logger)
		} else {
			h.logger.Error("loading conversation history", "error", err)
			writeError(w, http.StatusInternalServerError, "history_unavailable", "could not load history", h.logger)
		}
		return nil, false
	}
	return turns, true
}

// fetchHistory confirms the conversation exists before loading turns, so
// an unknown ID maps cleanly to not-found instead of an empty history.
func (h *chatHandler) fetchHistory(ctx context.Context, convID uuid.UUID) ([]session.Turn, error) {
	if _, err := h.sessions.GetConversation(ctx, convID); err != nil {
		return nil, err
	}
	return h.sessions.RecentTurns(ctx, convID, h.historyLimit)
}

// finishTurn persists the exchange when a conversation is attached and
// builds the response payload. Persistence failures degrade to a
// stateless turn rather than failing a produced answer.
func (h *chatHandler) finishTurn(ctx context.Context, req chatRequest, convID uuid.UUID, result *pipeline.Result) chatResponse {
	resp := chatResponse{
		Answer:   result.Answer.Text,
		Sources:  result.Answer.Sources,
		Language: result.Answer.Language,
		RTL:      result.Answer.RTL,
		Hedged:   result.Answer.Hedged,
		Refusal:  result.Answer.Refusal,
	}

	if convID == uuid.Nil {
		return resp
	}
	resp.ConversationID = convID.String()

	sourceIDs := make([]string, 0, len(result.Answer.Sources))
	for _, s := range result.Answer.Sources {
		sourceIDs = append(sourceIDs, s.ID)
	}

	if _, err := h.sessions.AppendTurn(ctx, convID, session.RoleUser, req.Query, nil); err != nil {
		h.logger.Error("persisting user turn", "error", err, "conversation_id", convID)
		return resp
	}
	if _, err := h.sessions.AppendTurn(ctx, convID, session.RoleAssistant, result.Answer.Text, sourceIDs); err != nil {
		h.logger.Error("persisting assistant turn", "error", err, "conversation_id", convID)
	}
	return resp
}

// mapPipelineError translates pipeline failures into HTTP status and
// error codes.
func mapPipelineError(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, pipeline.ErrBudgetImpossible):
		return http.StatusUnprocessableEntity, "budget_impossible"
	case errors.Is(err, llm.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, llm.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeEvent writes one SSE event with JSON-encoded data and flushes.
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
