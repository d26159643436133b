package knowledge

import "time"

// VectorDimension is the embedding width of the documents table. The
// embedder must be configured to produce vectors of this size.
const VectorDimension = 768

// Document is one indexed knowledge chunk.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string // source url, section title, etc.
	CreatedAt time.Time
}

// Result is a search hit with its cosine similarity in [0, 1].
type Result struct {
	Document   Document
	Similarity float32
}

// SearchOption configures a search using functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	filter  map[string]string
	timeout time.Duration
}

// WithTopK caps the number of results. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter restricts results to documents whose metadata contains the
// pair. Repeated calls AND together.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout bounds the embedding call plus the vector query. Default 10s.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
