package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/verity0/verity/internal/i18n"
	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/retrieval"
	"github.com/verity0/verity/internal/session"
)

// citationPattern matches the [S1] style source tags the system prompt
// asks the model to emit.
var citationPattern = regexp.MustCompile(`\[S(\d+)\]`)

const systemPromptTemplate = `You are the assistant for %s. Answer ONLY from the numbered sources below.

Rules:
- Every factual claim must cite its source inline as [S1], [S2], ...
- Never invent numbers, dates, prices or names that are not in the sources.
- If the sources do not contain the answer, say you do not know.
- %s refers ONLY to the organization described in the sources, never to any other entity with a similar name.
- %s

Sources:
%s`

// stricterSuffix is appended to the system prompt on a validation retry.
const stricterSuffix = `

IMPORTANT: your previous answer contained unsupported claims. Answer again using ONLY statements that appear verbatim or near-verbatim in the sources. When unsure, omit the claim.`

// Generator produces grounded answers from budgeted passages.
type Generator struct {
	orgName string
	client  llm.Client
	logger  log.Logger
}

func NewGenerator(orgName string, client llm.Client, logger log.Logger) *Generator {
	return &Generator{orgName: orgName, client: client, logger: logger.With("component", "generator")}
}

// Generate streams an answer when stream is non-nil, otherwise returns it
// whole. stricter tightens the grounding rules for validation retries.
func (g *Generator) Generate(ctx context.Context, query, lang string, passages []retrieval.Passage, history []session.Turn, stricter bool, stream llm.StreamFunc) (string, error) {
	system := g.systemPrompt(lang, passages)
	if stricter {
		system += stricterSuffix
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleModel
		}
		messages = append(messages, llm.Message{Role: role, Text: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Text: query})

	req := llm.Request{System: system, Messages: messages}
	if stream != nil {
		return g.client.GenerateStream(ctx, req, stream)
	}
	return g.client.Generate(ctx, req)
}

// PromptOverhead estimates the token cost of everything in the prompt
// besides passages and history, so the budgeter can subtract it.
func (g *Generator) PromptOverhead(query, lang string) int {
	return estimateTokens(fmt.Sprintf(systemPromptTemplate, g.orgName, g.orgName, i18n.Instruction(lang), "")) +
		estimateTokens(query) + estimateTokens(stricterSuffix)
}

func (g *Generator) systemPrompt(lang string, passages []retrieval.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[S%d] %s\n\n", i+1, p.Content)
	}
	return fmt.Sprintf(systemPromptTemplate, g.orgName, g.orgName, i18n.Instruction(lang), b.String())
}

// extractSources maps the [Sn] citations found in an answer back to the
// passages they refer to, in first-mention order.
func extractSources(answer string, passages []retrieval.Passage) []SourceRef {
	seen := make(map[int]bool)
	var refs []SourceRef
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(passages) || seen[n] {
			continue
		}
		seen[n] = true
		p := passages[n-1]
		refs = append(refs, SourceRef{
			ID:       p.ID,
			Snippet:  snippet(p.Content, 200),
			Metadata: p.Metadata,
		})
	}
	return refs
}

func snippet(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
