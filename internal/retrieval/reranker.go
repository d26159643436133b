package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/verity0/verity/internal/log"
)

// Scorer scores query/passage relevance, one score per passage in input
// order. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker reorders retrieved passages by cross-encoder relevance and cuts
// the list to topN. When the scorer is missing or fails, the embedding
// order stands and the caller is told the result is degraded.
type Reranker struct {
	scorer Scorer
	topN   int
	logger log.Logger
}

// NewReranker creates a Reranker. scorer may be nil, which makes every
// call degrade. logger must not be nil.
func NewReranker(scorer Scorer, topN int, logger log.Logger) *Reranker {
	return &Reranker{
		scorer: scorer,
		topN:   topN,
		logger: logger.With("component", "reranker"),
	}
}

// Rerank returns at most topN passages. The boolean reports degradation:
// true means the scorer was unavailable and embedding order was kept.
func (r *Reranker) Rerank(ctx context.Context, query string, passages []Passage) ([]Passage, bool) {
	if len(passages) == 0 {
		return passages, false
	}
	if r.scorer == nil {
		return r.cut(passages), true
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Content
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil || len(scores) != len(passages) {
		r.logger.Warn("reranker unavailable, keeping embedding order", "error", err)
		return r.cut(passages), true
	}

	out := make([]Passage, len(passages))
	copy(out, passages)
	for i := range out {
		out[i].RerankScore = scores[i]
		out[i].Reranked = true
	}
	// Stable sort keeps embedding order on score ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})

	return r.cut(out), false
}

func (r *Reranker) cut(passages []Passage) []Passage {
	if r.topN > 0 && len(passages) > r.topN {
		return passages[:r.topN]
	}
	return passages
}

// HTTPScorer calls a cross-encoder sidecar:
//
//	POST {url} {"query": "...", "documents": ["...", ...]}
//	-> {"scores": [0.93, ...]}
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer for the given endpoint.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Documents: passages})
	if err != nil {
		return nil, fmt.Errorf("marshaling score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling reranker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Bounded read keeps a misbehaving sidecar from flooding logs.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reranker returned %d: %s", resp.StatusCode, msg)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding score response: %w", err)
	}
	if len(parsed.Scores) != len(passages) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(parsed.Scores), len(passages))
	}
	return parsed.Scores, nil
}
