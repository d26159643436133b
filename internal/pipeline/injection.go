package pipeline

import (
	"regexp"
	"strings"
)

// injectionPatterns match common prompt-injection phrasings. Matching is
// best-effort: homoglyph substitutions and novel phrasings pass through,
// so grounding validation stays the last line of defense.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`),
	regexp.MustCompile(`(?i)^you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)^from\s+now\s+on,?\s+you\s+(are|will|must)`),
	regexp.MustCompile(`(?i)^new\s+(instruction|task|rule)\s*:`),
	regexp.MustCompile(`(?i)</?(system|instruction|prompt)>`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)bypass\s+(safety|filter|restrictions?)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+prompt|instructions)`),
}

// detectInjection reports whether the query looks like a prompt-injection
// attempt, and which pattern tripped. Queries are matched after whitespace
// collapsing so spacing tricks do not split a phrase.
func detectInjection(query string) (string, bool) {
	q := strings.Join(strings.Fields(query), " ")
	for _, re := range injectionPatterns {
		if re.MatchString(q) {
			return re.String(), true
		}
	}
	return "", false
}
