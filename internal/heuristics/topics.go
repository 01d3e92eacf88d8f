package heuristics

import (
	"regexp"
	"strings"
)

// TopicMatcher tests text against a list of literal topic keywords,
// case-insensitively. A matcher built from no topics matches everything.
type TopicMatcher struct {
	patterns []*regexp.Regexp
}

// NewTopicMatcher compiles topics, ignoring blank entries.
func NewTopicMatcher(topics []string) *TopicMatcher {
	m := &TopicMatcher{}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		m.patterns = append(m.patterns, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(t)))
	}
	return m
}

// Empty reports whether the matcher has no topics.
func (m *TopicMatcher) Empty() bool {
	return len(m.patterns) == 0
}

// Match reports whether any topic occurs in text.
func (m *TopicMatcher) Match(text string) bool {
	if m.Empty() {
		return true
	}
	return anyMatch(m.patterns, text)
}

// SplitList splits a comma-separated list, trimming entries and dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
