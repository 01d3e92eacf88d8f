package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/caselaw-cli/internal/model"
)

func clOpinion(i int, date string) map[string]any {
	return map[string]any{
		"id":                  i,
		"date_filed":          date,
		"case_name":           fmt.Sprintf("Doe %d v. Roe", i),
		"html_with_citations": "<p>We reverse and remand for further proceedings.</p>",
		"absolute_url":        fmt.Sprintf("/opinion/%d/doe-v-roe/", i),
		"citations":           []map[string]any{{"cite": fmt.Sprintf("%d F.4th 100", i)}},
		"court":               map[string]any{"jurisdiction": "F", "name_abbreviation": "9th Cir."},
	}
}

func newCourtListenerTest(srvURL string) *CourtListener {
	return NewCourtListener(CourtListenerConfig{
		Token:     "secret",
		BaseURL:   srvURL,
		SiteURL:   "https://cl.example",
		PagePause: time.Millisecond,
	}, testFetcher(CourtListenerRetryStatuses))
}

func TestCourtListener_MissingToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cl := NewCourtListener(CourtListenerConfig{BaseURL: srv.URL}, testFetcher(nil))
	got, err := cl.Fetch(context.Background(), Request{MaxResults: 10})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCourtListener_FirstRequestParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opinions/", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "date_filed desc", q.Get("order_by"))
		assert.Equal(t, "25", q.Get("page_size"))
		assert.Equal(t, "court", q.Get("expand"))
		assert.Equal(t, "due process OR 1983", q.Get("q"))
		writeJSON(t, w, map[string]any{"results": []any{}, "next": nil})
	}))
	defer srv.Close()

	cl := newCourtListenerTest(srv.URL)
	got, err := cl.Fetch(context.Background(), Request{
		Topics:     []string{"due process", "1983"},
		MaxResults: 10,
		PageSize:   100,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCourtListener_PageSizeFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("page_size"))
		assert.Empty(t, r.URL.Query().Get("q"))
		writeJSON(t, w, map[string]any{"results": []any{}})
	}))
	defer srv.Close()

	_, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 5, PageSize: 3})
	require.NoError(t, err)
}

func TestCourtListener_PaginatesAndCapsResults(t *testing.T) {
	var srv *httptest.Server
	var pages atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(pages.Add(1))
		results := make([]any, 0, 25)
		for i := range 25 {
			results = append(results, clOpinion(n*100+i, "2024-05-01"))
		}
		writeJSON(t, w, map[string]any{
			"results": results,
			"next":    fmt.Sprintf("%s/opinions/?cursor=%d", srv.URL, n),
		})
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 30, PageSize: 25})
	require.NoError(t, err)
	assert.Len(t, got, 30)
	// ceil(30/25) pages, no more.
	assert.Equal(t, int32(2), pages.Load())
}

func TestCourtListener_FollowsNextUntilExhausted(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(t, w, map[string]any{
				"results": []any{clOpinion(1, "2024-05-01")},
				"next":    srv.URL + "/opinions/?cursor=2",
			})
			return
		}
		// Cursor URLs carry their own parameters.
		assert.Empty(t, r.URL.Query().Get("order_by"))
		writeJSON(t, w, map[string]any{
			"results": []any{clOpinion(2, "2024-05-02")},
			"next":    nil,
		})
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 100, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Doe 1 v. Roe", got[0].CaseName)
	assert.Equal(t, "Doe 2 v. Roe", got[1].CaseName)
}

func TestCourtListener_ParsesOpinion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"results": []any{clOpinion(7, "2024-05-01")}})
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)

	op := got[0]
	assert.Equal(t, "courtlistener", op.Provider)
	assert.Equal(t, "7 F.4th 100", op.Citation)
	assert.Equal(t, "https://cl.example/opinion/7/doe-v-roe/", op.SourceLink)
	assert.Equal(t, "F", op.Jurisdiction)
	assert.Equal(t, "9th Cir.", op.Court)
	assert.Equal(t, model.OutcomeWon, op.Outcome)
	assert.Equal(t, "We reverse and remand for further proceedings.", op.Summary)
	assert.Equal(t, []string{"misc"}, op.Tags)
	assert.True(t, op.DecidedAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCourtListener_AlternateShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"results": []any{
			map[string]any{
				"dateFiled":     "2024-06-01T10:00:00Z",
				"caseName":      "Smith v. State",
				"html":          "<div>Claims dismissed with prejudice.</div>",
				"absolute_url":  "",
				"citation":      "12 U.S. 345",
				"court":         "https://www.courtlistener.com/api/rest/v3/courts/ca9/",
				"irrelevantKey": true,
			},
		}})
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)

	op := got[0]
	assert.Equal(t, "Smith v. State", op.CaseName)
	assert.Equal(t, "12 U.S. 345", op.Citation)
	assert.Equal(t, "https://cl.example/", op.SourceLink)
	assert.Equal(t, "federal", op.Jurisdiction)
	assert.Equal(t, "ca9", op.Court)
	assert.Equal(t, model.OutcomeLost, op.Outcome)
}

func TestCourtListener_SinceFilterAndBadItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"results": []any{
			clOpinion(1, "2023-12-31"),
			map[string]any{"case_name": "No date"},
			map[string]any{"date_filed": "someday"},
			"not an object",
			clOpinion(2, "2024-01-02"),
		}})
	}))
	defer srv.Close()

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{Since: since, MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Doe 2 v. Roe", got[0].CaseName)
	for _, op := range got {
		assert.False(t, op.DecidedAt.Before(since))
	}
}

func TestCourtListener_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusForbidden)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			writeJSON(t, w, map[string]any{"results": []any{clOpinion(1, "2024-05-01")}})
		}
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCourtListener_ExhaustedRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	got, err := newCourtListenerTest(srv.URL).Fetch(context.Background(), Request{MaxResults: 5})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "courtlistener")
}

func TestCourtListener_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"results": []any{}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newCourtListenerTest(srv.URL).Fetch(ctx, Request{MaxResults: 5})
	require.Error(t, err)
}
