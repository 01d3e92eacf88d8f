package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
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
	govInfoName    = "govinfo"
	govInfoMaxPage = 100
)

// GovInfoRetryStatuses are the statuses retried against GovInfo.
var GovInfoRetryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// GovInfoConfig configures the GovInfo provider.
type GovInfoConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.govinfo.gov
	SiteURL string // prefix for package detail links
	// PagePause is slept after every page. Default: 400ms.
	PagePause time.Duration
}

// GovInfo searches the USCOURTS collection and pulls each package's text
// rendition. Topics are matched client-side against title and body.
type GovInfo struct {
	cfg     GovInfoConfig
	fetcher fetcher.Fetcher
}

// NewGovInfo creates a GovInfo provider.
func NewGovInfo(cfg GovInfoConfig, f fetcher.Fetcher) *GovInfo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.govinfo.gov"
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "https://www.govinfo.gov"
	}
	if cfg.PagePause == 0 {
		cfg.PagePause = 400 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &GovInfo{cfg: cfg, fetcher: f}
}

// Name implements Provider.
func (g *GovInfo) Name() string { return govInfoName }

type govSearchBody struct {
	Query      string `json:"query"`
	Sort       string `json:"sort"`
	PageSize   int    `json:"pageSize"`
	OffsetMark string `json:"offsetMark"`
}

type govPage struct {
	Results        []json.RawMessage `json:"results"`
	NextOffsetMark string            `json:"nextOffsetMark"`
}

type govItem struct {
	PackageID  string          `json:"packageId"`
	DateIssued string          `json:"dateIssued"`
	Title      string          `json:"title"`
	CourtName  string          `json:"courtName"`
	CourtType  string          `json:"courtType"`
	Citation   json.RawMessage `json:"citation"`
}

// govInfoQuery builds the search expression. Multi-word topics are quoted.
func govInfoQuery(topics []string) string {
	q := "collection:uscourts"
	var terms []string
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, " ") {
			t = `"` + t + `"`
		}
		terms = append(terms, t)
	}
	if len(terms) > 0 {
		q += " AND (" + strings.Join(terms, " OR ") + ")"
	}
	return q
}

// Fetch implements Provider.
func (g *GovInfo) Fetch(ctx context.Context, req Request) ([]model.Opinion, error) {
	if g.cfg.APIKey == "" {
		zap.L().Warn("govinfo api key missing, skipping provider")
		return []model.Opinion{}, nil
	}
	if req.MaxResults <= 0 {
		return []model.Opinion{}, nil
	}

	topics := heuristics.NewTopicMatcher(req.Topics)
	search := govSearchBody{
		Query:    govInfoQuery(req.Topics),
		Sort:     "date desc",
		PageSize: clamp(req.PageSize, 1, govInfoMaxPage),
	}
	searchURL := g.cfg.BaseURL + "/search?" + url.Values{"api_key": {g.cfg.APIKey}}.Encode()
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")

	out := []model.Opinion{}
	cur := Cursor{Mark: "*"}
	for cur.Mark != "" && len(out) < req.MaxResults {
		search.OffsetMark = cur.Mark
		body, err := json.Marshal(search)
		if err != nil {
			return nil, eris.Wrap(err, "govinfo: encode search")
		}

		resp, err := g.fetcher.Fetch(ctx, fetcher.Request{
			Method: http.MethodPost,
			URL:    searchURL,
			Header: header,
			Body:   body,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "govinfo: search page %d", cur.Page+1)
		}
		var page govPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, eris.Wrapf(err, "govinfo: decode page %d", cur.Page+1)
		}
		cur.Page++
		cur.Retrieved += len(page.Results)

		for _, raw := range page.Results {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "govinfo: fetch")
			}
			var full bool
			out, full = accept(govInfoName, out, g.parse(ctx, raw, req.Since, topics), req.MaxResults)
			if full {
				break
			}
		}

		next := page.NextOffsetMark
		if next == cur.Mark || len(page.Results) == 0 {
			next = ""
		}
		cur.Mark = next

		if err := resilience.Sleep(ctx, g.cfg.PagePause); err != nil {
			return nil, eris.Wrap(err, "govinfo: page pause")
		}
	}

	zap.L().Info("govinfo: collected opinions",
		zap.Int("collected", len(out)),
		zap.Int("retrieved", cur.Retrieved),
		zap.Int("pages", cur.Page),
	)
	return out, nil
}

func (g *GovInfo) parse(ctx context.Context, raw json.RawMessage, since time.Time, topics *heuristics.TopicMatcher) Parsed {
	var it govItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return failed(govInfoName, "", err.Error())
	}
	if it.DateIssued == "" {
		return failed(govInfoName, it.PackageID, "missing dateIssued")
	}
	decided, err := parseDate(it.DateIssued)
	if err != nil {
		return failed(govInfoName, it.PackageID, err.Error())
	}
	if before(decided, since) {
		return dropped()
	}

	title := firstNonEmpty(strings.TrimSpace(it.Title), "Unknown opinion")
	body := g.packageText(ctx, it.PackageID)
	tagText := title + "\n" + body
	if !topics.Match(tagText) {
		return dropped()
	}

	return Parsed{Opinion: draft{
		provider:     govInfoName,
		caseName:     title,
		body:         body,
		tagText:      tagText,
		jurisdiction: "federal",
		court:        firstNonEmpty(it.CourtName, it.CourtType),
		citation:     firstNonEmpty(heuristics.NormalizeCitation(text(it.Citation)), it.PackageID),
		link:         g.cfg.SiteURL + "/app/details/" + it.PackageID,
		decided:      decided,
	}.build()}
}

// packageText returns the txt rendition, else the htm rendition as text. Any
// failure degrades to an empty body so the opinion falls back to its title.
func (g *GovInfo) packageText(ctx context.Context, packageID string) string {
	if packageID == "" {
		return ""
	}
	key := url.Values{"api_key": {g.cfg.APIKey}}.Encode()
	base := g.cfg.BaseURL + "/packages/" + url.PathEscape(packageID)

	if resp, err := g.fetcher.Fetch(ctx, fetcher.Request{URL: base + "/txt?" + key}); err == nil {
		if txt := strings.TrimSpace(string(resp.Body)); txt != "" {
			return txt
		}
	} else {
		zap.L().Debug("govinfo: txt rendition unavailable",
			zap.String("package_id", packageID),
			zap.Error(err),
		)
	}

	resp, err := g.fetcher.Fetch(ctx, fetcher.Request{URL: base + "/htm?" + key})
	if err != nil {
		zap.L().Debug("govinfo: htm rendition unavailable",
			zap.String("package_id", packageID),
			zap.Error(err),
		)
		return ""
	}
	return heuristics.HTMLText(string(resp.Body))
}
