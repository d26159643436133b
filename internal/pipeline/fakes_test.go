package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
)

var errFakeUnavailable = errors.New("model unavailable")

// fakeClient replays scripted responses and records every request.
type fakeClient struct {
	responses []string
	err       error
	requests  []llm.Request
}

func (c *fakeClient) Generate(_ context.Context, req llm.Request) (string, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", errFakeUnavailable
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *fakeClient) GenerateStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (string, error) {
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if fn != nil {
		for _, word := range strings.SplitAfter(resp, " ") {
			if err := fn(ctx, word); err != nil {
				return "", err
			}
		}
	}
	return resp, nil
}

// fakeEmbedder returns fixed vectors per exact input text, falling back
// to a default unit vector orthogonal to everything configured.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func testProfile() config.Profile {
	return config.Profile{
		Name:    "Acme",
		Aliases: []string{"acme"},
		DomainKeywords: []string{
			"pricing", "subscription", "invoice", "dashboard", "api", "account",
		},
		OffTopicKeywords: []string{"weather", "recipe", "football"},
		CanonicalQuestions: []string{
			"How much does Acme cost?",
			"How do I reset my Acme password?",
		},
		IndicatorKeywords: []string{"saas", "platform"},
		CollisionEntities: []config.CollisionEntity{
			{Name: "Acme Motors", Keywords: []string{"car", "engine", "vehicle", "motors"}},
		},
	}
}

func testPipelineConfig() config.Pipeline {
	return config.Pipeline{
		IntentScopeThreshold:    0.7,
		IntentOffTopicThreshold: 0.3,
		ConfidenceFloor:         0.5,
		TopK:                    10,
		RerankTopN:              5,
		SimilarityFloor:         0.25,
		MaxContextTokens:        8192,
		ReservedForAnswer:       1024,
		OverlapThreshold:        0.25,
		MaxValidationRetries:    1,
		MaxHistoryMessages:      20,
	}
}

func testLogger() log.Logger { return log.NewNop() }
