// Package llm wraps model and embedding providers behind small interfaces
// the pipeline can depend on, and adds the resilience layer every call goes
// through: rate limiting, retry with exponential backoff and a circuit
// breaker.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/verity0/verity/internal/log"
)

// ErrGeneration marks a provider failure that survived retries. Callers
// check it with errors.Is.
var ErrGeneration = errors.New("generation provider error")

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of model-visible conversation.
type Message struct {
	Role Role
	Text string
}

// Request is a single generation call.
type Request struct {
	// System is the system prompt, omitted when empty.
	System string

	// Messages is the ordered conversation ending with the user turn.
	Messages []Message
}

// StreamFunc receives incremental output text. Returning an error aborts
// the generation.
type StreamFunc func(ctx context.Context, text string) error

// Client is the generation interface the pipeline depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// Generate returns the complete response text.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStream forwards chunks to fn as they arrive and returns the
	// complete response text.
	GenerateStream(ctx context.Context, req Request, fn StreamFunc) (string, error)
}

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures the Genkit-backed client.
type Config struct {
	// ModelName is the provider-qualified model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64

	Retry   RetryConfig
	Breaker CircuitBreakerConfig
}

// Genkit is the production Client on top of genkit.Generate.
type Genkit struct {
	g         *genkit.Genkit
	modelName string
	retry     RetryConfig
	breaker   *CircuitBreaker
	limiter   *rate.Limiter
	logger    log.Logger
}

// NewGenkit builds the production client. logger must not be nil.
func NewGenkit(g *genkit.Genkit, cfg Config, logger log.Logger) *Genkit {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Genkit{
		g:         g,
		modelName: cfg.ModelName,
		retry:     cfg.Retry,
		breaker:   NewCircuitBreaker(cfg.Breaker),
		limiter:   limiter,
		logger:    logger.With("component", "llm"),
	}
}

// Generate implements Client.
func (c *Genkit) Generate(ctx context.Context, req Request) (string, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStream implements Client.
func (c *Genkit) GenerateStream(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	return c.generate(ctx, req, fn)
}

func (c *Genkit) generate(ctx context.Context, req Request, fn StreamFunc) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithMessages(toMessages(req.Messages)...),
	}
	if c.modelName != "" {
		opts = append(opts, ai.WithModelName(c.modelName))
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if fn != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return fn(ctx, chunk.Text())
		}))
	}

	resp, err := c.executeWithRetry(ctx, opts)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func toMessages(msgs []Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleModel:
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Text)))
		default:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Text)))
		}
	}
	return out
}

// VectorDimension is the embedding width the schema stores. The provider
// is asked for exactly this dimensionality so model upgrades cannot
// silently change the column shape.
const VectorDimension int32 = 768

// GenkitEmbedder adapts an ai.Embedder to the Embedder interface.
type GenkitEmbedder struct {
	embedder ai.Embedder
}

// NewGenkitEmbedder wraps emb.
func NewGenkitEmbedder(emb ai.Embedder) *GenkitEmbedder {
	return &GenkitEmbedder{embedder: emb}
}

// Embed implements Embedder.
func (e *GenkitEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, 0, len(texts))
	for _, t := range texts {
		docs = append(docs, &ai.Document{Content: []*ai.Part{ai.NewTextPart(t)}})
	}

	dim := VectorDimension
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("embed: empty embedding at index %d", i)
		}
		out[i] = emb.Embedding
	}
	return out, nil
}
