package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity0/verity/internal/knowledge"
)

// fakeKnowledge implements KnowledgeStore in memory.
type fakeKnowledge struct {
	results []knowledge.Result
	err     error
	added   []knowledge.Document
	deleted []string
	count   int
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	return f.results, f.err
}

func (f *fakeKnowledge) Add(_ context.Context, doc knowledge.Document) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, doc)
	return nil
}

func (f *fakeKnowledge) Delete(_ context.Context, docID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, docID)
	return nil
}

func (f *fakeKnowledge) Count(_ context.Context, _ map[string]string) (int, error) {
	return f.count, f.err
}

func TestSemanticSearch(t *testing.T) {
	t.Parallel()

	store := &fakeKnowledge{results: []knowledge.Result{
		{
			Document:   knowledge.Document{ID: "d1", Content: "The Pro plan costs 49 per month.", Metadata: map[string]string{"section": "pricing"}},
			Similarity: 0.91,
		},
	}}
	srv := newTestServer(t, ServerConfig{Knowledge: store})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"pricing"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Query   string `json:"query"`
		Total   int    `json:"total"`
		Results []struct {
			ID         string  `json:"id"`
			Similarity float32 `json:"similarity"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pricing", body.Query)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "d1", body.Results[0].ID)
	assert.InDelta(t, 0.91, body.Results[0].Similarity, 1e-6)
}

func TestSemanticSearchRejectsBadQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Knowledge: &fakeKnowledge{}})

	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"overlong query", `{"query":"` + strings.Repeat("a", 501) + `"}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSemanticSearchStoreFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Knowledge: &fakeKnowledge{err: errors.New("vector store down")}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"pricing"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSearchRoutesAbsentWithoutKnowledge(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"pricing"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentUpsert(t *testing.T) {
	t.Parallel()

	store := &fakeKnowledge{}
	srv := newTestServer(t, ServerConfig{Knowledge: store})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/documents/doc-1",
		strings.NewReader(`{"content":"Refunds are processed within 14 days.","metadata":{"section":"billing"}}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.added, 1)
	assert.Equal(t, "doc-1", store.added[0].ID)
	assert.Equal(t, "billing", store.added[0].Metadata["section"])
}

func TestDocumentUpsertRequiresContent(t *testing.T) {
	t.Parallel()

	store := &fakeKnowledge{}
	srv := newTestServer(t, ServerConfig{Knowledge: store})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/documents/doc-1", strings.NewReader(`{"content":"  "}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.added)
}

func TestDocumentDelete(t *testing.T) {
	t.Parallel()

	store := &fakeKnowledge{}
	srv := newTestServer(t, ServerConfig{Knowledge: store})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"doc-1"}, store.deleted)
}

func TestReadyReportsDocumentCount(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{Knowledge: &fakeKnowledge{count: 42}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(42), body["documents"])
}
