package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/caselaw-cli/internal/fetcher"
	"github.com/sells-group/caselaw-cli/internal/heuristics"
	"github.com/sells-group/caselaw-cli/internal/model"
)

const (
	capName    = "cap"
	capMaxPage = 100
)

// CAPConfig configures the Caselaw Access Project provider. The token is
// optional; anonymous access returns metadata-only cases.
type CAPConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.case.law/v1
}

// CAP fetches cases from the Caselaw Access Project. Topics are sent as a
// search hint and re-checked client-side.
type CAP struct {
	cfg     CAPConfig
	fetcher fetcher.Fetcher
}

// NewCAP creates a CAP provider.
func NewCAP(cfg CAPConfig, f fetcher.Fetcher) *CAP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.case.law/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CAP{cfg: cfg, fetcher: f}
}

// Name implements Provider.
func (c *CAP) Name() string { return capName }

type capPage struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

type capCitation struct {
	Type string `json:"type"`
	Cite string `json:"cite"`
}

type capItem struct {
	ID               json.RawMessage `json:"id"`
	Name             string          `json:"name"`
	NameAbbreviation string          `json:"name_abbreviation"`
	DecisionDate     string          `json:"decision_date"`
	Citations        []capCitation   `json:"citations"`
	Court            struct {
		Name             string `json:"name"`
		NameAbbreviation string `json:"name_abbreviation"`
	} `json:"court"`
	Jurisdiction struct {
		NameLong string `json:"name_long"`
		Name     string `json:"name"`
	} `json:"jurisdiction"`
	Casebody struct {
		Data json.RawMessage `json:"data"`
	} `json:"casebody"`
	FrontendURL string `json:"frontend_url"`
	URL         string `json:"url"`
}

type capSection struct {
	Text string `json:"text"`
}

type capBody struct {
	Attorneys  string       `json:"attorneys"`
	HeadMatter string       `json:"head_matter"`
	Opinions   []capSection `json:"opinions"`
}

// Fetch implements Provider.
func (c *CAP) Fetch(ctx context.Context, req Request) ([]model.Opinion, error) {
	if req.MaxResults <= 0 {
		return []model.Opinion{}, nil
	}

	params := url.Values{}
	if len(req.Topics) > 0 {
		params.Set("search", strings.Join(req.Topics, " OR "))
	}
	if !req.Since.IsZero() {
		params.Set("decision_date_min", req.Since.UTC().Format("2006-01-02"))
	}
	params.Set("page_size", strconv.Itoa(clamp(req.PageSize, 1, capMaxPage)))
	params.Set("full_case", "true")

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Token "+c.cfg.APIKey)
	}

	topics := heuristics.NewTopicMatcher(req.Topics)
	out := []model.Opinion{}
	cur := Cursor{Next: c.cfg.BaseURL + "/cases/?" + params.Encode()}
	for cur.Next != "" && len(out) < req.MaxResults {
		resp, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: cur.Next, Header: header})
		if err != nil {
			return nil, eris.Wrapf(err, "cap: fetch page %d", cur.Page+1)
		}
		var page capPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, eris.Wrapf(err, "cap: decode page %d", cur.Page+1)
		}
		cur.Page++
		cur.Retrieved += len(page.Results)

		for _, raw := range page.Results {
			var full bool
			out, full = accept(capName, out, c.parse(raw, req.Since, topics), req.MaxResults)
			if full {
				break
			}
		}

		cur.Next = ""
		if page.Next != nil && len(page.Results) > 0 {
			cur.Next = *page.Next
		}
	}

	zap.L().Info("cap: collected opinions",
		zap.Int("collected", len(out)),
		zap.Int("retrieved", cur.Retrieved),
		zap.Int("pages", cur.Page),
	)
	return out, nil
}

func (c *CAP) parse(raw json.RawMessage, since time.Time, topics *heuristics.TopicMatcher) Parsed {
	var it capItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return failed(capName, "", err.Error())
	}
	id := text(it.ID)
	if it.DecisionDate == "" {
		return failed(capName, id, "missing decision_date")
	}
	decided, err := parseDate(it.DecisionDate)
	if err != nil {
		return failed(capName, id, err.Error())
	}
	if before(decided, since) {
		return dropped()
	}

	caseName := firstNonEmpty(it.Name, it.NameAbbreviation, "Unknown case")
	body := capCaseBody(it.Casebody.Data)
	tagText := caseName + "\n" + body
	if !topics.Match(tagText) {
		return dropped()
	}

	citation := heuristics.NormalizeCitation(capCite(it.Citations))
	link := firstNonEmpty(it.FrontendURL, it.URL)
	if link == "" && citation != "" {
		link = c.cfg.BaseURL + "/cases/?" + url.Values{"search": {citation}}.Encode()
	}
	if citation == "" && link == "" {
		// Nothing else identifies the case, so key it on the CAP id.
		citation = heuristics.StableKey(caseName, "cap:"+id)
	}

	return Parsed{Opinion: draft{
		provider:     capName,
		caseName:     caseName,
		body:         body,
		tagText:      tagText,
		jurisdiction: firstNonEmpty(it.Jurisdiction.NameLong, it.Jurisdiction.Name, "unknown"),
		court:        firstNonEmpty(it.Court.Name, it.Court.NameAbbreviation),
		citation:     citation,
		link:         link,
		decided:      decided,
	}.build()}
}

// capCite prefers the official reporter citation.
func capCite(cites []capCitation) string {
	for _, c := range cites {
		if c.Type == "official" && c.Cite != "" {
			return c.Cite
		}
	}
	for _, c := range cites {
		if c.Cite != "" {
			return c.Cite
		}
	}
	return ""
}

// capCaseBody flattens casebody.data, which is either an object with
// attorneys, head matter and opinions, or a list of sections.
func capCaseBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj capBody
	if json.Unmarshal(raw, &obj) == nil {
		var ops []string
		for _, op := range obj.Opinions {
			ops = append(ops, op.Text)
		}
		return joinNonEmpty(obj.Attorneys, obj.HeadMatter, strings.Join(ops, " "))
	}
	var sections []capSection
	if json.Unmarshal(raw, &sections) == nil {
		parts := make([]string, len(sections))
		for i, s := range sections {
			parts[i] = s.Text
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
