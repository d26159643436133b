package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/verity0/verity/internal/llm"
)

// ErrNoResponse is returned by MockClient once its script runs out.
var ErrNoResponse = errors.New("testutil: no scripted response left")

// MockClient is a scripted llm.Client. Responses are consumed in order
// and every request is recorded for assertions. Safe for concurrent use.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

// NewMockClient returns a client that replays the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// NewFailingClient returns a client whose every call fails with err.
func NewFailingClient(err error) *MockClient {
	return &MockClient{err: err}
}

func (c *MockClient) Generate(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", ErrNoResponse
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

// GenerateStream replays the next response word by word through fn, then
// returns the full text.
func (c *MockClient) GenerateStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (string, error) {
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if fn != nil {
		for _, chunk := range strings.SplitAfter(resp, " ") {
			if err := fn(ctx, chunk); err != nil {
				return "", err
			}
		}
	}
	return resp, nil
}

// Requests returns a copy of every request seen so far.
func (c *MockClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// MockEmbedder derives a deterministic unit vector from each input's
// hash. Equal texts embed identically; different texts almost never do.
type MockEmbedder struct {
	Dimension int
}

// NewMockEmbedder returns an embedder producing 768-dimensional vectors,
// matching the knowledge store's schema.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dimension: 768}
}

func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, e.Dimension)
	var norm float64
	for i := range v {
		// xorshift keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v[i] = float32(int64(seed%2000)-1000) / 1000
		norm += float64(v[i]) * float64(v[i])
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
