package pipeline

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
)

// intent classification methods, recorded on the decision for debugging.
const (
	methodGreeting     = "greeting"
	methodKeywords     = "keywords"
	methodCentroid     = "centroid"
	methodGuard        = "llm_guard"
	methodDefaultAllow = "default_allow"
)

// greetingPattern matches bare salutations in the common supported
// languages. Anything longer than a salutation falls through to the real
// classifier.
var greetingPattern = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|good (morning|afternoon|evening)|hola|bonjour|hallo|ciao|olá|مرحبا|السلام عليكم|你好|您好|こんにちは|こんばんは|안녕하세요|привет|здравствуйте|namaste|merhaba)[!.?, ]*$`)

// guardPrompt constrains the LLM fallback to a single token answer.
const guardPrompt = `You are a scope filter for an assistant that only answers questions about the organization %q.
Classify the user question below.

Respond with EXACTLY ONE WORD:
- SCOPE if the question is about %[1]q, its products, services, pricing, support or usage
- OFFTOPIC if the question is clearly about something unrelated
- UNCLEAR if you cannot tell

Question: %s`

// classification is the outcome of intent analysis.
type classification struct {
	intent     Intent
	confidence float64
	method     string
}

// IntentClassifier layers cheap checks before expensive ones: salutation
// regex, profile keywords, embedding centroid similarity, then a
// constrained LLM guard only for the undecidable band.
type IntentClassifier struct {
	profile        config.Profile
	scopeThresh    float64 // centroid similarity accepted outright
	offTopicThresh float64 // centroid similarity rejected outright
	embedder       llm.Embedder
	client         llm.Client
	logger         log.Logger

	mu       sync.RWMutex
	centroid []float32
}

// NewIntentClassifier creates a classifier. Call Prime before first use to
// compute the canonical-question centroid; an unprimed classifier degrades
// to keywords plus the LLM guard.
func NewIntentClassifier(profile config.Profile, cfg config.Pipeline, embedder llm.Embedder, client llm.Client, logger log.Logger) *IntentClassifier {
	return &IntentClassifier{
		profile:        profile,
		scopeThresh:    cfg.IntentScopeThreshold,
		offTopicThresh: cfg.IntentOffTopicThreshold,
		embedder:       embedder,
		client:         client,
		logger:         logger.With("component", "intent"),
	}
}

// Prime embeds the profile's canonical questions and stores their mean
// vector. Safe to call again to refresh after a profile change.
func (c *IntentClassifier) Prime(ctx context.Context) error {
	vectors, err := c.embedder.Embed(ctx, c.profile.CanonicalQuestions)
	if err != nil {
		return fmt.Errorf("embedding canonical questions: %w", err)
	}

	centroid := meanVector(vectors)
	c.mu.Lock()
	c.centroid = centroid
	c.mu.Unlock()

	c.logger.Debug("intent centroid primed", "questions", len(vectors))
	return nil
}

// Classify determines the scope of a normalized query.
func (c *IntentClassifier) Classify(ctx context.Context, query string) classification {
	if greetingPattern.MatchString(query) {
		return classification{intent: IntentGreeting, confidence: 1.0, method: methodGreeting}
	}

	lower := strings.ToLower(query)
	words := tokenSet(lower)

	// Off-topic vocabulary wins only when nothing in-scope pulls back.
	domainScore := c.keywordScore(lower, words, c.profile.DomainKeywords) +
		c.keywordScore(lower, words, c.profile.Aliases)
	offScore := c.keywordScore(lower, words, c.profile.OffTopicKeywords)

	if domainScore >= 2.0 && domainScore > offScore {
		return classification{intent: IntentInScope, confidence: 0.9, method: methodKeywords}
	}
	if offScore >= 1.5 && domainScore < 1.0 {
		return classification{intent: IntentOffTopic, confidence: 0.85, method: methodKeywords}
	}

	if sim, ok := c.centroidSimilarity(ctx, query); ok {
		switch {
		case sim >= c.scopeThresh:
			return classification{intent: IntentInScope, confidence: sim, method: methodCentroid}
		case sim < c.offTopicThresh:
			return classification{intent: IntentOffTopic, confidence: 1 - sim, method: methodCentroid}
		}
		// The band between the thresholds goes to the guard.
	}

	return c.guard(ctx, query)
}

// keywordScore weighs whole-word matches over substring matches.
func (c *IntentClassifier) keywordScore(lower string, words map[string]bool, keywords []string) float64 {
	var score float64
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		switch {
		case words[kw]:
			score += 1.5
		case strings.Contains(lower, kw):
			score += 0.5
		}
	}
	return score
}

func (c *IntentClassifier) centroidSimilarity(ctx context.Context, query string) (float64, bool) {
	c.mu.RLock()
	centroid := c.centroid
	c.mu.RUnlock()
	if centroid == nil {
		return 0, false
	}

	vectors, err := c.embedder.Embed(ctx, []string{query})
	if err != nil {
		c.logger.Warn("query embedding failed, skipping centroid check", "error", err)
		return 0, false
	}
	return cosineSimilarity(vectors[0], centroid), true
}

// guard asks the model for a one-word verdict. Any failure or unclear
// verdict default-allows at modest confidence: refusing a legitimate
// question hurts more than retrieving for a marginal one.
func (c *IntentClassifier) guard(ctx context.Context, query string) classification {
	resp, err := c.client.Generate(ctx, llm.Request{
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Text: fmt.Sprintf(guardPrompt, c.profile.Name, query),
		}},
	})
	if err != nil {
		c.logger.Warn("intent guard unavailable, defaulting to in scope", "error", err)
		return classification{intent: IntentAmbiguous, confidence: 0.6, method: methodDefaultAllow}
	}

	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "SCOPE":
		return classification{intent: IntentInScope, confidence: 0.8, method: methodGuard}
	case "OFFTOPIC":
		return classification{intent: IntentOffTopic, confidence: 0.8, method: methodGuard}
	default:
		return classification{intent: IntentAmbiguous, confidence: 0.6, method: methodGuard}
	}
}

func tokenSet(lower string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r >= 0x80)
	}) {
		words[w] = true
	}
	return words
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range mean {
			mean[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
