package heuristics

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockElements end a run of text; a space is emitted after each one.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true, "th": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "section": true, "article": true, "table": true,
}

// HTMLText extracts the visible text of an HTML document or fragment. Script
// and style elements are dropped; block elements are separated by a space.
func HTMLText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return CollapseWhitespace(html)
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	collectText(doc.Find("body"), &b)
	return CollapseWhitespace(b.String())
}

func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		if name == "#text" {
			b.WriteString(c.Text())
			return
		}
		collectText(c, b)
		if blockElements[name] {
			b.WriteByte(' ')
		}
	})
}
