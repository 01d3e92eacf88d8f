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
	"github.com/sells-group/caselaw-cli/internal/resilience"
)

const (
	courtListenerName    = "courtlistener"
	courtListenerMinPage = 10
	courtListenerMaxPage = 25
)

// CourtListenerRetryStatuses are the statuses CourtListener uses for
// throttling and gateway trouble. It answers 403 when a token is over quota.
var CourtListenerRetryStatuses = []int{
	http.StatusForbidden,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// CourtListenerThrottleStatuses are the CourtListener statuses that mean
// "slow down", including the over-quota 403.
var CourtListenerThrottleStatuses = []int{
	http.StatusForbidden,
	http.StatusTooManyRequests,
}

// CourtListenerConfig configures the CourtListener provider.
type CourtListenerConfig struct {
	Token   string
	BaseURL string // e.g. https://www.courtlistener.com/api/rest/v3
	SiteURL string // prefix for relative absolute_url links
	// PagePause is slept before every page request. Default: 800ms.
	PagePause time.Duration
}

// CourtListener fetches opinions from the CourtListener REST API. Topic
// filtering happens server-side through the q parameter.
type CourtListener struct {
	cfg     CourtListenerConfig
	fetcher fetcher.Fetcher
}

// NewCourtListener creates a CourtListener provider.
func NewCourtListener(cfg CourtListenerConfig, f fetcher.Fetcher) *CourtListener {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.courtlistener.com/api/rest/v3"
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://www.courtlistener.com"
	}
	if cfg.PagePause == 0 {
		cfg.PagePause = 800 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &CourtListener{cfg: cfg, fetcher: f}
}

// Name implements Provider.
func (c *CourtListener) Name() string { return courtListenerName }

type clPage struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

type clItem struct {
	ID                json.RawMessage `json:"id"`
	DateFiled         string          `json:"date_filed"`
	DateFiledCamel    string          `json:"dateFiled"`
	Date              string          `json:"date"`
	CaseName          string          `json:"case_name"`
	CaseNameCamel     string          `json:"caseName"`
	HTMLWithCitations string          `json:"html_with_citations"`
	HTML              string          `json:"html"`
	AbsoluteURL       string          `json:"absolute_url"`
	AbsoluteURLCamel  string          `json:"absoluteUrl"`
	Citations         json.RawMessage `json:"citations"`
	Citation          json.RawMessage `json:"citation"`
	Cite              json.RawMessage `json:"cite"`
	CitationString    json.RawMessage `json:"citation_string"`
	Court             json.RawMessage `json:"court"`
}

type clCourt struct {
	Jurisdiction     string `json:"jurisdiction"`
	NameAbbreviation string `json:"name_abbreviation"`
	Name             string `json:"name"`
}

// Fetch implements Provider.
func (c *CourtListener) Fetch(ctx context.Context, req Request) ([]model.Opinion, error) {
	if c.cfg.Token == "" {
		zap.L().Warn("courtlistener token missing, skipping provider")
		return []model.Opinion{}, nil
	}
	if req.MaxResults <= 0 {
		return []model.Opinion{}, nil
	}

	pageSize := clamp(req.PageSize, courtListenerMinPage, courtListenerMaxPage)
	maxPages := max(1, (req.MaxResults+pageSize-1)/pageSize)

	params := url.Values{}
	params.Set("order_by", "date_filed desc")
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("expand", "court")
	if len(req.Topics) > 0 {
		params.Set("q", strings.Join(req.Topics, " OR "))
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.Token)
	header.Set("Accept", "application/json")

	out := []model.Opinion{}
	cur := Cursor{Next: c.cfg.BaseURL + "/opinions/?" + params.Encode()}
	for cur.Next != "" && len(out) < req.MaxResults && cur.Page < maxPages {
		if err := resilience.Sleep(ctx, c.cfg.PagePause); err != nil {
			return nil, eris.Wrap(err, "courtlistener: page pause")
		}

		resp, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: cur.Next, Header: header})
		if err != nil {
			return nil, eris.Wrapf(err, "courtlistener: fetch page %d", cur.Page+1)
		}
		var page clPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, eris.Wrapf(err, "courtlistener: decode page %d", cur.Page+1)
		}
		cur.Page++
		cur.Retrieved += len(page.Results)

		for _, raw := range page.Results {
			var full bool
			out, full = accept(courtListenerName, out, c.parse(raw, req.Since), req.MaxResults)
			if full {
				break
			}
		}

		cur.Next = ""
		if page.Next != nil {
			cur.Next = *page.Next
		}
	}

	zap.L().Info("courtlistener: collected opinions",
		zap.Int("collected", len(out)),
		zap.Int("retrieved", cur.Retrieved),
		zap.Int("pages", cur.Page),
	)
	return out, nil
}

func (c *CourtListener) parse(raw json.RawMessage, since time.Time) Parsed {
	var it clItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return failed(courtListenerName, "", err.Error())
	}
	id := text(it.ID)

	dateStr := firstNonEmpty(it.DateFiled, it.DateFiledCamel, it.Date)
	if dateStr == "" {
		return failed(courtListenerName, id, "missing date")
	}
	decided, err := parseDate(dateStr)
	if err != nil {
		return failed(courtListenerName, id, err.Error())
	}
	if before(decided, since) {
		return dropped()
	}

	caseName := firstNonEmpty(it.CaseName, it.CaseNameCamel, "Unknown case")
	body := heuristics.HTMLText(firstNonEmpty(it.HTMLWithCitations, it.HTML))

	link := firstNonEmpty(it.AbsoluteURL, it.AbsoluteURLCamel)
	switch {
	case strings.HasPrefix(link, "/"):
		link = c.cfg.SiteURL + link
	case link == "":
		link = c.cfg.SiteURL + "/"
	}

	jurisdiction, court := courtListenerCourt(it.Court)

	return Parsed{Opinion: draft{
		provider:     courtListenerName,
		caseName:     caseName,
		body:         body,
		jurisdiction: jurisdiction,
		court:        court,
		citation:     courtListenerCitation(it),
		link:         link,
		decided:      decided,
	}.build()}
}

// courtListenerCitation prefers the nested citations list, then top-level keys.
func courtListenerCitation(it clItem) string {
	var cites []map[string]json.RawMessage
	if json.Unmarshal(it.Citations, &cites) == nil {
		for _, c := range cites {
			for _, key := range []string{"cite", "citation", "cite_string"} {
				if v := text(c[key]); v != "" {
					return v
				}
			}
		}
	}
	return firstNonEmpty(text(it.Citation), text(it.Cite), text(it.CitationString))
}

// courtListenerCourt handles both the expanded court object and the bare
// resource URL form.
func courtListenerCourt(raw json.RawMessage) (jurisdiction, court string) {
	jurisdiction = "federal"
	if len(raw) == 0 {
		return jurisdiction, ""
	}
	var obj clCourt
	if json.Unmarshal(raw, &obj) == nil {
		return firstNonEmpty(obj.Jurisdiction, jurisdiction), firstNonEmpty(obj.NameAbbreviation, obj.Name)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimRight(s, "/")
		if i := strings.LastIndex(s, "/"); i >= 0 {
			s = s[i+1:]
		}
		return jurisdiction, s
	}
	return jurisdiction, ""
}
