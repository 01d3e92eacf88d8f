package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatcher(t *testing.T) {
	t.Parallel()

	m := NewTopicMatcher([]string{"due process", " ", "Title IV-D", "1983"})
	assert.False(t, m.Empty())
	assert.True(t, m.Match("a DUE PROCESS challenge"))
	assert.True(t, m.Match("the title iv-d agency"))
	assert.True(t, m.Match("42 U.S.C. 1983"))
	assert.False(t, m.Match("contract dispute"))
}

func TestTopicMatcher_EmptyMatchesAll(t *testing.T) {
	t.Parallel()

	m := NewTopicMatcher(nil)
	assert.True(t, m.Empty())
	assert.True(t, m.Match("anything"))
	assert.True(t, m.Match(""))
}

func TestTopicMatcher_QuotesMeta(t *testing.T) {
	t.Parallel()

	m := NewTopicMatcher([]string{"u.s.c."})
	assert.True(t, m.Match("42 U.S.C. § 1983"))
	assert.False(t, m.Match("42 usxcx"))
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"courtlistener", "govinfo"}, SplitList(" courtlistener, ,govinfo ,"))
	assert.Nil(t, SplitList(""))
}
