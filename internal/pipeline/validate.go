package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/log"
	"github.com/verity0/verity/internal/retrieval"
)

// refusalPatterns recognize when the model declined to answer, across the
// supported languages. A refusal is a valid outcome, not a failure.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(i don't|do not|cannot|can't) (know|have|find|answer|help with)`),
	regexp.MustCompile(`(?i)(no|not enough|insufficient) information`),
	regexp.MustCompile(`(?i)(sources|documents) (do not|don't) (contain|mention|cover)`),
	regexp.MustCompile(`(?i)(lo siento|no puedo|no tengo información)`),
	regexp.MustCompile(`(?i)(désolé|je ne peux pas|je n'ai pas)`),
	regexp.MustCompile(`(?i)(es tut mir leid|ich kann nicht|keine informationen)`),
	regexp.MustCompile(`(申し訳|わかりません|情報がありません)`),
	regexp.MustCompile(`(죄송|알 수 없|정보가 없)`),
	regexp.MustCompile(`(抱歉|无法|没有相关信息|沒有相關信息)`),
	regexp.MustCompile(`(عذرا|لا أستطيع|لا توجد معلومات)`),
	regexp.MustCompile(`(извините|не могу|нет информации)`),
}

// numberPattern extracts numeric tokens for hallucination scoring.
var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// sentencePattern splits an answer into sentences across the supported
// scripts.
var sentencePattern = regexp.MustCompile(`[^.!?。！？]+`)

const (
	// defaultOverlapThreshold applies when the config leaves the knob
	// unset.
	defaultOverlapThreshold = 0.25

	// materialClaimFraction is the share of assertion sentences that must
	// be unsupported before the whole answer is rejected.
	materialClaimFraction = 0.5

	// minClaimWords is the smallest number of content words a sentence
	// needs to count as a factual assertion. Shorter fragments and
	// unsegmented scripts are skipped rather than guessed at.
	minClaimWords = 2
)

// verdict is the validator's judgment of a generated answer.
type verdict struct {
	ok      bool
	refusal bool
	reason  string
}

// Validator checks generated answers for unsupported claims, ungrounded
// numbers and leakage of collision-entity vocabulary before they reach
// the user.
type Validator struct {
	profile          config.Profile
	overlapThreshold float64
	logger           log.Logger
}

func NewValidator(profile config.Profile, cfg config.Pipeline, logger log.Logger) *Validator {
	threshold := cfg.OverlapThreshold
	if threshold <= 0 {
		threshold = defaultOverlapThreshold
	}
	return &Validator{
		profile:          profile,
		overlapThreshold: threshold,
		logger:           logger.With("component", "validator"),
	}
}

// Check validates an answer against the passages it was generated from.
func (v *Validator) Check(answer string, passages []retrieval.Passage) verdict {
	if isRefusal(answer) {
		return verdict{ok: true, refusal: true}
	}

	if reason, ok := v.claimsSupported(answer, passages); !ok {
		return verdict{ok: false, reason: reason}
	}
	if reason, ok := v.numbersGrounded(answer, passages); !ok {
		return verdict{ok: false, reason: reason}
	}
	if reason, ok := v.collisionClean(answer); !ok {
		return verdict{ok: false, reason: reason}
	}
	return verdict{ok: true}
}

// claimsSupported checks that assertion sentences share vocabulary with
// the selected passages. A sentence counts as supported when at least the
// overlap threshold of its content words appears somewhere in the
// sources; the answer fails once a material fraction of its sentences
// lacks that overlap.
func (v *Validator) claimsSupported(answer string, passages []retrieval.Passage) (string, bool) {
	source := make(map[string]bool)
	for _, p := range passages {
		for w := range tokenSet(strings.ToLower(p.Content)) {
			source[w] = true
		}
	}

	var total, unsupported int
	for _, sentence := range sentencePattern.FindAllString(stripCitations(answer), -1) {
		words := contentWords(sentence)
		if len(words) < minClaimWords {
			continue
		}
		total++

		hits := 0
		for _, w := range words {
			if source[w] {
				hits++
			}
		}
		if float64(hits)/float64(len(words)) < v.overlapThreshold {
			unsupported++
			v.logger.Debug("unsupported sentence in answer",
				"sentence", strings.TrimSpace(sentence), "hits", hits, "words", len(words))
		}
	}

	if total > 0 && float64(unsupported)/float64(total) >= materialClaimFraction {
		return "answer lacks lexical overlap with the selected passages", false
	}
	return "", true
}

// contentWords returns the lowercased tokens of a sentence that are long
// enough to carry meaning. Numbers are left to the dedicated grounding
// check.
func contentWords(s string) []string {
	var words []string
	for w := range tokenSet(strings.ToLower(s)) {
		if utf8.RuneCountInString(w) >= 4 && !numberPattern.MatchString(w) {
			words = append(words, w)
		}
	}
	return words
}

func isRefusal(answer string) bool {
	for _, p := range refusalPatterns {
		if p.MatchString(answer) {
			return true
		}
	}
	return false
}

// numbersGrounded checks that numeric claims in the answer appear in the
// source passages. A single stray number fails the answer: invented
// figures are the most damaging hallucination for an organization
// assistant.
func (v *Validator) numbersGrounded(answer string, passages []retrieval.Passage) (string, bool) {
	answerNums := numberPattern.FindAllString(stripCitations(answer), -1)
	if len(answerNums) == 0 {
		return "", true
	}

	sourceNums := make(map[string]bool)
	for _, p := range passages {
		for _, n := range numberPattern.FindAllString(p.Content, -1) {
			sourceNums[canonicalNumber(n)] = true
		}
	}

	for _, n := range answerNums {
		if !sourceNums[canonicalNumber(n)] {
			v.logger.Debug("ungrounded number in answer", "number", n)
			return "answer contains number not present in sources: " + n, false
		}
	}
	return "", true
}

// collisionClean rejects answers that drift into a colliding entity's
// vocabulary, which means the model answered about the wrong party.
func (v *Validator) collisionClean(answer string) (string, bool) {
	lower := strings.ToLower(answer)
	words := tokenSet(lower)

	for _, entity := range v.profile.CollisionEntities {
		hits := 0
		for _, kw := range entity.Keywords {
			kw = strings.ToLower(kw)
			if kw != "" && (words[kw] || strings.Contains(lower, kw)) {
				hits++
			}
		}
		if hits >= 2 {
			return "answer uses vocabulary of colliding entity " + entity.Name, false
		}
	}
	return "", true
}

func stripCitations(s string) string {
	return citationPattern.ReplaceAllString(s, "")
}

// canonicalNumber normalizes separators so "1,000" and "1000" compare
// equal.
func canonicalNumber(n string) string {
	return strings.NewReplacer(",", "", ".", "").Replace(n)
}
