// Package pipeline orchestrates one question-answering turn: normalize,
// classify, disambiguate, reformulate, retrieve, rerank, budget, generate,
// validate. Stage degradations are recorded as tagged outcomes on the
// decision record; only unrecoverable conditions surface as errors.
package pipeline

import (
	"context"

	"github.com/verity0/verity/internal/retrieval"
	"github.com/verity0/verity/internal/session"
)

// Intent is the scope classification of a question.
type Intent string

const (
	IntentInScope   Intent = "in_scope"
	IntentOffTopic  Intent = "off_topic"
	IntentAmbiguous Intent = "ambiguous"
	IntentGreeting  Intent = "greeting"
)

// StageStatus tags how a stage concluded.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageSkipped  StageStatus = "skipped"
	StageFailed   StageStatus = "failed"
)

// Outcome is one stage's tagged result on the decision record.
type Outcome struct {
	Stage  string      `json:"stage"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Request is one turn's input. History carries prior persisted turns,
// oldest first; the pipeline never writes them back.
type Request struct {
	Query   string
	History []session.Turn
}

// PromptBudget records the deterministic context fit.
type PromptBudget struct {
	MaxContextTokens  int  `json:"max_context_tokens"`
	ReservedForAnswer int  `json:"reserved_for_answer"`
	PassageTokens     int  `json:"passage_tokens"`
	HistoryTokens     int  `json:"history_tokens"`
	PassagesKept      int  `json:"passages_kept"`
	HistoryKept       int  `json:"history_kept"`
	FirstTruncated    bool `json:"first_truncated"`
}

// Decision is the audit record of every choice made during a turn.
type Decision struct {
	NormalizedQuery   string              `json:"normalized_query"`
	Language          string              `json:"language"`
	Intent            Intent              `json:"intent"`
	Confidence        float64             `json:"confidence"`
	CollisionEntity   string              `json:"collision_entity,omitempty"`
	DisambiguationOK  bool                `json:"disambiguation_ok"`
	ReformulatedQuery string              `json:"reformulated_query"`
	Passages          []retrieval.Passage `json:"-"`
	Budget            PromptBudget        `json:"budget"`
	Outcomes          []Outcome           `json:"outcomes"`
}

func (d *Decision) record(stage string, status StageStatus, detail string) {
	d.Outcomes = append(d.Outcomes, Outcome{Stage: stage, Status: status, Detail: detail})
}

// SourceRef identifies one cited passage for the client.
type SourceRef struct {
	ID       string            `json:"id"`
	Snippet  string            `json:"snippet"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Answer is the final assistant output of a turn.
type Answer struct {
	Text              string      `json:"text"`
	Sources           []SourceRef `json:"sources"`
	Language          string      `json:"language"`
	RTL               bool        `json:"rtl"`
	Hedged            bool        `json:"hedged"`
	Refusal           bool        `json:"refusal"`
	ValidationRetries int         `json:"validation_retries"`
}

// Result bundles the answer with its decision record.
type Result struct {
	Answer   Answer
	Decision Decision
}

// Events receives streaming output during a turn. Nil callbacks are
// skipped. A callback error aborts the turn.
type Events struct {
	// OnSources fires once, before generation starts, with the passages
	// selected for the prompt.
	OnSources func(ctx context.Context, sources []SourceRef) error

	// OnToken fires per generated chunk. Retried generations do not
	// stream; the client replaces the text with the done payload.
	OnToken func(ctx context.Context, text string) error
}

func (e *Events) emitSources(ctx context.Context, sources []SourceRef) error {
	if e == nil || e.OnSources == nil {
		return nil
	}
	return e.OnSources(ctx, sources)
}

func (e *Events) emitToken(ctx context.Context, text string) error {
	if e == nil || e.OnToken == nil {
		return nil
	}
	return e.OnToken(ctx, text)
}
