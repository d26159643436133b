// Package retrieval turns a reformulated query into a ranked list of
// passages: vector search against the knowledge store, then an optional
// cross-encoder rerank with graceful degradation to embedding order.
package retrieval

import (
	"context"
	"fmt"

	"github.com/verity0/verity/internal/knowledge"
	"github.com/verity0/verity/internal/log"
)

// Passage is a retrieved chunk as the rest of the pipeline sees it.
type Passage struct {
	ID       string
	Content  string
	Metadata map[string]string

	// EmbeddingScore is the cosine similarity from vector search.
	EmbeddingScore float32

	// RerankScore is the cross-encoder score; meaningful only when
	// Reranked is true.
	RerankScore float64
	Reranked    bool
}

// Searcher is the slice of the knowledge store the retriever uses.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Retriever owns the retrieval depth and the similarity floor.
type Retriever struct {
	store  Searcher
	topK   int
	floor  float64
	logger log.Logger
}

// NewRetriever creates a Retriever. logger must not be nil.
func NewRetriever(store Searcher, topK int, similarityFloor float64, logger log.Logger) *Retriever {
	return &Retriever{
		store:  store,
		topK:   topK,
		floor:  similarityFloor,
		logger: logger.With("component", "retriever"),
	}
}

// Retrieve returns up to topK passages above the similarity floor, best
// first. An empty result is a valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	results, err := r.store.Search(ctx, query, knowledge.WithTopK(r.topK))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	passages := make([]Passage, 0, len(results))
	for _, res := range results {
		if float64(res.Similarity) < r.floor {
			continue
		}
		passages = append(passages, Passage{
			ID:             res.Document.ID,
			Content:        res.Document.Content,
			Metadata:       res.Document.Metadata,
			EmbeddingScore: res.Similarity,
		})
	}

	r.logger.Debug("retrieved passages",
		"candidates", len(results),
		"above_floor", len(passages))
	return passages, nil
}
