package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/verity0/verity/internal/llm"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/session"
)

// dependencyPatterns flag queries that cannot be understood without the
// preceding turns: dangling pronouns, follow-up starters, bare fragments.
var dependencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(it|its|that|this|those|these|them|they|he|she|him|her)\b`),
	regexp.MustCompile(`(?i)^(and|also|what about|how about|but|then|so)\b`),
	regexp.MustCompile(`(?i)\b(the same|as well|too)\s*\??$`),
	regexp.MustCompile(`(?i)^(why|how|when|where|more|really)\s*\??$`),
}

// maxRewriteRatio bounds how much longer a rewrite may be than the
// original. Anything beyond this is the model padding or answering
// instead of rewriting.
const maxRewriteRatio = 3

const reformulatePrompt = `Rewrite the user's latest question so it can be understood without the conversation. Resolve pronouns and references using the history. Keep the user's language. Output ONLY the rewritten question, nothing else.

Conversation:
%s

Latest question: %s`

// Reformulator rewrites history-dependent follow-ups into standalone
// queries so retrieval sees the full referent, not a pronoun.
type Reformulator struct {
	client llm.Client
	logger log.Logger
}

func NewReformulator(client llm.Client, logger log.Logger) *Reformulator {
	return &Reformulator{client: client, logger: logger.With("component", "reformulator")}
}

// Rewrite returns the query to retrieve with and whether a rewrite was
// applied. First turns and self-contained queries pass through untouched;
// a failed or implausible rewrite falls back to the original.
func (r *Reformulator) Rewrite(ctx context.Context, query string, history []session.Turn) (string, bool) {
	if len(history) == 0 || !needsHistory(query) {
		return query, false
	}

	resp, err := r.client.Generate(ctx, llm.Request{
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Text: fmt.Sprintf(reformulatePrompt, renderHistory(history), query),
		}},
	})
	if err != nil {
		r.logger.Warn("reformulation failed, using original query", "error", err)
		return query, false
	}

	rewritten := strings.TrimSpace(resp)
	if rewritten == "" || utf8.RuneCountInString(rewritten) > maxRewriteRatio*utf8.RuneCountInString(query) {
		r.logger.Debug("rejected implausible rewrite",
			"original_len", utf8.RuneCountInString(query),
			"rewrite_len", utf8.RuneCountInString(rewritten))
		return query, false
	}

	return rewritten, true
}

func needsHistory(query string) bool {
	for _, p := range dependencyPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

func renderHistory(history []session.Turn) string {
	var b strings.Builder
	for _, t := range history {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
