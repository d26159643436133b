//go:build integration

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
	"github.com/verity0/verity/internal/testutil"
)

// TestConversationAPI exercises the conversation CRUD surface and chat
// persistence against a real database.
//
// Run with: go test -tags=integration ./internal/api -v
func TestConversationAPI(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := session.NewStore(db.Pool, log.NewNop())
	srv, err := NewServer(ServerConfig{
		Pipeline:     &fakePipe{result: answeredResult("The Pro plan costs 49 [S1].")},
		SessionStore: store,
		Knowledge:    &fakeKnowledge{},
		Pool:         db.Pool,
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)
	handler := srv.Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader *strings.Reader
		if body == "" {
			reader = strings.NewReader("")
		} else {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	// Create a conversation.
	rec := do(http.MethodPost, "/api/v1/conversations", `{"title":"pricing questions"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv conversationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "pricing questions", conv.Title)
	require.NotEmpty(t, conv.ID)

	// Chat into it; both turns must persist.
	rec = do(http.MethodPost, "/api/v1/chat", `{"query":"how much is pro?","conversation_id":"`+conv.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var chat chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, conv.ID, chat.ConversationID)

	rec = do(http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs struct {
		Messages []turnBody `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "user", msgs.Messages[0].Role)
	assert.Equal(t, "how much is pro?", msgs.Messages[0].Text)
	assert.Equal(t, "assistant", msgs.Messages[1].Role)
	assert.Equal(t, []string{"doc-1"}, msgs.Messages[1].Sources)

	// Keyword search over persisted turns surfaces the conversation once.
	rec = do(http.MethodGet, "/api/v1/search/conversations?q=pro", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var search struct {
		Total   int               `json:"total"`
		Results []conversationHit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.Equal(t, 1, search.Total)
	assert.Equal(t, conv.ID, search.Results[0].ConversationID)

	rec = do(http.MethodGet, "/api/v1/search/conversations?q=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "blank query rejected")

	// Rename and verify.
	rec = do(http.MethodPatch, "/api/v1/conversations/"+conv.ID, `{"title":"renamed"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodGet, "/api/v1/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "renamed", conv.Title)

	// List includes it.
	rec = do(http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Conversations []conversationBody `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)

	// Delete removes it and its messages.
	rec = do(http.MethodDelete, "/api/v1/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(http.MethodGet, "/api/v1/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatUnknownConversation(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := session.NewStore(db.Pool, log.NewNop())
	srv, err := NewServer(ServerConfig{
		Pipeline:     &fakePipe{result: answeredResult("x")},
		SessionStore: store,
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"query":"q","conversation_id":"00000000-0000-0000-0000-000000000001"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
