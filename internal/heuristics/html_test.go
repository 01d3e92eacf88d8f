package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLText(t *testing.T) {
	t.Parallel()

	html := `<div><p>We reverse and <em>remand</em>.</p><script>var x = 1;</script><p>Second   paragraph</p></div>`
	assert.Equal(t, "We reverse and remand. Second paragraph", HTMLText(html))
}

func TestHTMLText_FullDocument(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>t</title><style>p{}</style></head><body><pre>UNITED STATES
COURT OF APPEALS</pre></body></html>`
	assert.Equal(t, "UNITED STATES COURT OF APPEALS", HTMLText(html))
}

func TestHTMLText_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", HTMLText("  "))
}

func TestHTMLText_PlainText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "just text", HTMLText("just   text"))
}
