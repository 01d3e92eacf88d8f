package heuristics

import "regexp"

const holdingFallbackLen = 600

var (
	firstPersonHolding = regexp.MustCompile(`(?i)\b(we\s+(?:hold|conclude|determine)[^.]{20,300}\.)`)
	courtHolding       = regexp.MustCompile(`(?i)\b(the\s+court\s+(?:holds|concludes|determines)[^.]{20,300}\.)`)
)

// ExtractHolding finds the first "we hold ..." sentence, then the first
// "the court holds ..." sentence. Without either it returns a truncated prefix
// of the whitespace-collapsed text.
func ExtractHolding(text string) string {
	txt := CollapseWhitespace(text)
	if m := firstPersonHolding.FindStringSubmatch(txt); m != nil {
		return m[1]
	}
	if m := courtHolding.FindStringSubmatch(txt); m != nil {
		return m[1]
	}
	return Truncate(txt, holdingFallbackLen)
}
