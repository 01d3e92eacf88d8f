package source

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/caselaw-cli/internal/heuristics"
	"github.com/sells-group/caselaw-cli/internal/model"
)

const (
	summaryLimit = 5000
	holdingLimit = 1800
)

// draft carries the source-specific fields of an opinion before the shared
// text heuristics are applied.
type draft struct {
	provider     string
	caseName     string
	body         string
	tagText      string
	jurisdiction string
	court        string
	citation     string
	link         string
	decided      time.Time
}

// build derives outcome, tags, summary and holding from the opinion body.
// Bodiless opinions fall back to the case name for summary and holding.
func (d draft) build() model.Opinion {
	tagText := d.tagText
	if tagText == "" {
		tagText = d.caseName + "\n" + d.body
	}

	summary := d.body
	if strings.TrimSpace(summary) == "" {
		summary = d.caseName
	}
	holding := heuristics.ExtractHolding(d.body)
	if holding == "" {
		holding = d.caseName
	}

	return model.Opinion{
		CaseName:     d.caseName,
		Jurisdiction: d.jurisdiction,
		Court:        d.court,
		Summary:      heuristics.Truncate(summary, summaryLimit),
		Holding:      heuristics.Truncate(holding, holdingLimit),
		Citation:     heuristics.NormalizeCitation(d.citation),
		Outcome:      heuristics.ClassifyOutcome(d.body),
		Tags:         heuristics.DetectTags(tagText),
		SourceLink:   d.link,
		Provider:     d.provider,
		DecidedAt:    d.decided,
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate accepts the ISO-8601 shapes the sources emit. Values without a
// zone are taken as UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("source: unrecognized date %q", s)
}

// before reports whether t falls before since. A zero since never filters.
func before(t, since time.Time) bool {
	return !since.IsZero() && t.Before(since)
}

// text renders a loosely typed JSON scalar as a string. Objects, arrays and
// null yield "".
func text(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
