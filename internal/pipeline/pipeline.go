package pipeline

import (
	"context"
	"fmt"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/i18n"
	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/retrieval"
	"github.com/verity0/verity/internal/textnorm"
)

// Pipeline answers questions about one organization by chaining intent
// classification, retrieval, budgeting, generation and validation. Every
// stage that can degrade records an Outcome on the Decision instead of
// failing the turn.
type Pipeline struct {
	profile      config.Profile
	cfg          config.Pipeline
	classifier   *IntentClassifier
	disambiguate *Disambiguator
	reformulator *Reformulator
	retriever    *retrieval.Retriever
	reranker     *retrieval.Reranker
	budgeter     *Budgeter
	generator    *Generator
	validator    *Validator
	logger       log.Logger
}

// Deps carries the external collaborators a Pipeline needs.
type Deps struct {
	Client    llm.Client
	Embedder  llm.Embedder
	Retriever *retrieval.Retriever
	Reranker  *retrieval.Reranker
}

func New(cfg *config.Config, deps Deps, logger log.Logger) *Pipeline {
	profile := cfg.Organization
	pc := cfg.Pipeline
	return &Pipeline{
		profile:      profile,
		cfg:          pc,
		classifier:   NewIntentClassifier(profile, pc, deps.Embedder, deps.Client, logger),
		disambiguate: NewDisambiguator(profile, logger),
		reformulator: NewReformulator(deps.Client, logger),
		retriever:    deps.Retriever,
		reranker:     deps.Reranker,
		budgeter:     NewBudgeter(pc.MaxContextTokens, pc.ReservedForAnswer, logger),
		generator:    NewGenerator(profile.Name, deps.Client, logger),
		validator:    NewValidator(profile, pc, logger),
		logger:       logger.With("component", "pipeline"),
	}
}

// Prime warms the intent centroid. Callers may skip it; the classifier
// degrades gracefully without it.
func (p *Pipeline) Prime(ctx context.Context) error {
	return p.classifier.Prime(ctx)
}

// Answer runs one turn. events may be nil for non-streaming callers.
// Fatal errors are limited to empty input, an impossible budget and
// generation failure; everything else degrades into the Decision.
func (p *Pipeline) Answer(ctx context.Context, req Request, events *Events) (*Result, error) {
	result := &Result{}
	decision := &result.Decision

	norm := textnorm.Normalize(req.Query)
	if norm.Empty {
		return nil, ErrEmptyQuery
	}
	decision.NormalizedQuery = norm.Text
	decision.Language = norm.Language
	decision.record("normalize", StageOK, "")

	if pattern, hit := detectInjection(norm.Text); hit {
		decision.record("safety", StageOK, "injection pattern: "+pattern)
		p.logger.Warn("prompt injection attempt blocked", "pattern", pattern)
		return p.fixedAnswer(ctx, result, i18n.Refusal(norm.Language, p.profile.Name), true, events), nil
	}
	decision.record("safety", StageOK, "")

	cls := p.classifier.Classify(ctx, norm.Text)
	decision.Intent = cls.intent
	decision.Confidence = cls.confidence
	decision.record("intent", StageOK, cls.method)

	switch cls.intent {
	case IntentGreeting:
		return p.fixedAnswer(ctx, result, i18n.Greeting(norm.Language, p.profile.Name), false, events), nil
	case IntentOffTopic:
		return p.fixedAnswer(ctx, result, i18n.Refusal(norm.Language, p.profile.Name), true, events), nil
	}
	hedged := cls.intent == IntentAmbiguous || cls.confidence < p.cfg.ConfidenceFloor

	dis := p.disambiguate.Check(norm.Text)
	decision.DisambiguationOK = dis.ok
	if !dis.ok {
		decision.CollisionEntity = dis.entity
		decision.record("disambiguation", StageOK, "collision: "+dis.entity)
		return p.fixedAnswer(ctx, result, i18n.CollisionRefusal(norm.Language, p.profile.Name, dis.entity), true, events), nil
	}
	decision.record("disambiguation", StageOK, "")

	query, rewritten := p.reformulator.Rewrite(ctx, norm.Text, req.History)
	decision.ReformulatedQuery = query
	if rewritten {
		decision.record("reformulation", StageOK, "rewritten")
	} else {
		decision.record("reformulation", StageSkipped, "query self-contained or rewrite rejected")
	}

	passages, err := p.retriever.Retrieve(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		decision.record("retrieval", StageFailed, err.Error())
		return p.fixedAnswer(ctx, result, i18n.NoInformation(norm.Language, p.profile.Name), true, events), nil
	}
	decision.record("retrieval", StageOK, fmt.Sprintf("%d passages", len(passages)))
	if len(passages) == 0 {
		return p.fixedAnswer(ctx, result, i18n.NoInformation(norm.Language, p.profile.Name), true, events), nil
	}

	passages, degraded := p.reranker.Rerank(ctx, query, passages)
	if degraded {
		decision.record("rerank", StageDegraded, "embedding order kept")
	} else {
		decision.record("rerank", StageOK, "")
	}

	overhead := p.generator.PromptOverhead(query, norm.Language)
	kept, history, budget, err := p.budgeter.Fit(passages, req.History, overhead)
	if err != nil {
		decision.record("budget", StageFailed, err.Error())
		return nil, err
	}
	decision.Passages = kept
	decision.Budget = budget
	decision.record("budget", StageOK, fmt.Sprintf("%d passages, %d turns", budget.PassagesKept, budget.HistoryKept))

	if err := events.emitSources(ctx, passagesToRefs(kept)); err != nil {
		return nil, err
	}

	var stream llm.StreamFunc
	if events != nil && events.OnToken != nil {
		stream = events.emitToken
	}

	text, err := p.generator.Generate(ctx, query, norm.Language, kept, history, false, stream)
	if err != nil {
		decision.record("generation", StageFailed, err.Error())
		return nil, err
	}
	decision.record("generation", StageOK, "")

	retries := 0
	v := p.validator.Check(text, kept)
	for !v.ok && retries < p.cfg.MaxValidationRetries {
		retries++
		decision.record("validation", StageDegraded, v.reason)
		p.logger.Info("regenerating after failed validation", "reason", v.reason, "attempt", retries)

		// Retries never stream; the final payload replaces the streamed
		// text on the client.
		text, err = p.generator.Generate(ctx, query, norm.Language, kept, history, true, nil)
		if err != nil {
			decision.record("generation", StageFailed, err.Error())
			return nil, err
		}
		v = p.validator.Check(text, kept)
	}

	switch {
	case v.ok:
		decision.record("validation", StageOK, "")
	default:
		decision.record("validation", StageDegraded, "retries exhausted: "+v.reason)
		hedged = true
	}
	if hedged && !v.refusal {
		text = i18n.HedgePrefix(norm.Language) + text
	}

	sources := extractSources(text, kept)
	if len(sources) == 0 && !v.refusal {
		sources = passagesToRefs(kept)
	}

	result.Answer = Answer{
		Text:              text,
		Sources:           sources,
		Language:          norm.Language,
		RTL:               i18n.IsRTL(norm.Language),
		Hedged:            hedged,
		Refusal:           v.refusal,
		ValidationRetries: retries,
	}
	return result, nil
}

// fixedAnswer finishes a turn with a canned response, streaming it as a
// single token so streaming clients render it like any other answer.
func (p *Pipeline) fixedAnswer(ctx context.Context, result *Result, text string, refusal bool, events *Events) *Result {
	_ = events.emitSources(ctx, nil)
	_ = events.emitToken(ctx, text)
	result.Answer = Answer{
		Text:     text,
		Language: result.Decision.Language,
		RTL:      i18n.IsRTL(result.Decision.Language),
		Refusal:  refusal,
	}
	return result
}

func passagesToRefs(passages []retrieval.Passage) []SourceRef {
	refs := make([]SourceRef, 0, len(passages))
	for _, p := range passages {
		refs = append(refs, SourceRef{
			ID:       p.ID,
			Snippet:  snippet(p.Content, 200),
			Metadata: p.Metadata,
		})
	}
	return refs
}
