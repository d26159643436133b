// Package textnorm canonicalizes raw user input before any pipeline stage
// sees it: Unicode NFKC normalization, control character stripping,
// whitespace collapse and a script-based language hint.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is the canonical form of one utterance.
type Result struct {
	// Text is the normalized utterance.
	Text string

	// Language is an ISO 639-1 hint derived from the dominant script,
	// "en" when the script is Latin or nothing dominates.
	Language string

	// Empty reports whether nothing usable remained after normalization.
	Empty bool
}

// Normalize canonicalizes raw input. All downstream consumers (keyword
// matching, embeddings, prompt assembly) receive the same form.
func Normalize(raw string) Result {
	text := norm.NFKC.String(raw)
	text = stripControls(text)
	text = collapseWhitespace(text)

	return Result{
		Text:     text,
		Language: detectLanguage(text),
		Empty:    text == "",
	}
}

// stripControls removes control and zero-width format characters, except
// tab and newline which collapseWhitespace folds afterwards.
func stripControls(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// scriptLanguages maps a dominant script to a language hint. Scripts used
// by several languages get the statistically common one; the hint only
// selects response templates, it never gates the pipeline.
var scriptLanguages = []struct {
	ranges []*unicode.RangeTable
	lang   string
}{
	{[]*unicode.RangeTable{unicode.Hiragana, unicode.Katakana}, "ja"},
	{[]*unicode.RangeTable{unicode.Hangul}, "ko"},
	{[]*unicode.RangeTable{unicode.Han}, "zh"},
	{[]*unicode.RangeTable{unicode.Arabic}, "ar"},
	{[]*unicode.RangeTable{unicode.Hebrew}, "he"},
	{[]*unicode.RangeTable{unicode.Cyrillic}, "ru"},
	{[]*unicode.RangeTable{unicode.Devanagari}, "hi"},
	{[]*unicode.RangeTable{unicode.Thai}, "th"},
	{[]*unicode.RangeTable{unicode.Greek}, "el"},
}

// detectLanguage returns the hint for the dominant non-Latin script, or
// "en". Japanese kana win over Han so mixed kanji/kana text maps to "ja".
func detectLanguage(text string) string {
	counts := make([]int, len(scriptLanguages))
	total := 0

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		for i, sl := range scriptLanguages {
			if unicode.IsOneOf(sl.ranges, r) {
				counts[i]++
				break
			}
		}
	}
	if total == 0 {
		return "en"
	}

	// Kana presence marks Japanese even when Han dominates.
	if counts[0] > 0 {
		return "ja"
	}

	best, bestCount := "en", 0
	for i, c := range counts {
		if c > bestCount {
			best, bestCount = scriptLanguages[i].lang, c
		}
	}
	// Latin-dominant text keeps the default.
	if bestCount*2 < total {
		return "en"
	}
	return best
}
