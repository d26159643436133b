package pipeline

import (
	"unicode/utf8"

	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/retrieval"
	"github.com/verity0/verity/internal/session"
)

// estimateTokens approximates the token count of a string. The divisor
// matches what the embedding and generation models average across the
// supported languages closely enough for budgeting.
func estimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 2
}

// Budgeter fits passages and history into the model's context window.
// Passages keep their rank order and win over history; history is kept
// newest first.
type Budgeter struct {
	maxContextTokens  int
	reservedForAnswer int
	logger            log.Logger
}

func NewBudgeter(maxContextTokens, reservedForAnswer int, logger log.Logger) *Budgeter {
	return &Budgeter{
		maxContextTokens:  maxContextTokens,
		reservedForAnswer: reservedForAnswer,
		logger:            logger.With("component", "budget"),
	}
}

// Fit selects the passages and history turns that fit the window after
// the answer reservation and fixed prompt text are subtracted. As long
// as any window remains, at least a truncated slice of the top passage
// is included; ErrBudgetImpossible is reserved for a zero or negative
// window.
func (b *Budgeter) Fit(passages []retrieval.Passage, history []session.Turn, fixedTokens int) ([]retrieval.Passage, []session.Turn, PromptBudget, error) {
	budget := PromptBudget{
		MaxContextTokens:  b.maxContextTokens,
		ReservedForAnswer: b.reservedForAnswer,
	}

	available := b.maxContextTokens - b.reservedForAnswer - fixedTokens
	if available <= 0 {
		return nil, nil, budget, ErrBudgetImpossible
	}

	kept := make([]retrieval.Passage, 0, len(passages))
	for i, p := range passages {
		cost := estimateTokens(p.Content)
		if cost <= available {
			kept = append(kept, p)
			available -= cost
			budget.PassageTokens += cost
			continue
		}

		// Only the top passage earns a truncated slice, and only when
		// nothing else made it in. Any positive remainder is used: an
		// impossible budget means zero or negative window, never a small
		// one.
		if i == 0 && len(kept) == 0 {
			p.Content = truncateToTokens(p.Content, available)
			kept = append(kept, p)
			budget.PassageTokens += available
			budget.FirstTruncated = true
			available = 0
		}
		break
	}

	budget.PassagesKept = len(kept)

	// Walk history newest first, then restore chronological order.
	var turns []session.Turn
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Text)
		if cost > available {
			break
		}
		turns = append(turns, history[i])
		available -= cost
		budget.HistoryTokens += cost
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	budget.HistoryKept = len(turns)

	if budget.FirstTruncated || budget.HistoryKept < len(history) {
		b.logger.Debug("prompt trimmed to fit window",
			"passages_kept", budget.PassagesKept,
			"history_kept", budget.HistoryKept,
			"first_truncated", budget.FirstTruncated)
	}

	return kept, turns, budget, nil
}

// truncateToTokens cuts a string to approximately the given token count
// on a rune boundary.
func truncateToTokens(s string, tokens int) string {
	limit := tokens * 2
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
