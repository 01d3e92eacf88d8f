package heuristics

import (
	"regexp"
	"sort"
)

// TagMisc is returned when no topical pattern matches.
const TagMisc = "misc"

var tagPatterns = map[string]*regexp.Regexp{
	"section_1983":    regexp.MustCompile(`(?i)\b\d{0,2}\s*usc\s*§?\s*1983\b|\b§\s*1983\b|42\s*u\.?s\.?c\.?\s*§\s*1983`),
	"due_process":     regexp.MustCompile(`(?i)due\s*process|fourteenth\s+amendment|14th\s+amendment`),
	"child_support":   regexp.MustCompile(`(?i)child\s*support|title\s*iv-d|iv[- ]?d`),
	"extrinsic_fraud": regexp.MustCompile(`(?i)extrinsic\s+fraud|fraud\s+on\s+the\s+court`),
}

// DetectTags returns the sorted topic labels whose patterns match text, or
// []string{"misc"} when none do. The result is never empty.
func DetectTags(text string) []string {
	var tags []string
	for tag, re := range tagPatterns {
		if re.MatchString(text) {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return []string{TagMisc}
	}
	sort.Strings(tags)
	return tags
}
