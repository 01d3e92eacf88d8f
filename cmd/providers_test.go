package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/caselaw-cli/internal/fetcher"
)

func TestBuildRegistry(t *testing.T) {
	reg := buildRegistry(testConfig())
	assert.Equal(t, []string{"cap", "courtlistener", "govinfo"}, reg.List())

	selected, err := reg.Select([]string{"govinfo", "courtlistener"})
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "govinfo", selected[0].Name())
	assert.Equal(t, "courtlistener", selected[1].Name())
}

func TestProviderInfo(t *testing.T) {
	c := testConfig()
	c.CourtListener.Token = "tok"

	base, ok := providerInfo(c, "courtlistener")
	assert.Equal(t, "https://www.courtlistener.com/api/rest/v3", base)
	assert.True(t, ok)

	_, ok = providerInfo(c, "govinfo")
	assert.False(t, ok)

	base, ok = providerInfo(c, "westlaw")
	assert.Empty(t, base)
	assert.False(t, ok)
}

func TestFormatProviders(t *testing.T) {
	c := testConfig()
	c.CAP.APIKey = "cap-key"

	var buf bytes.Buffer
	formatProviders(&buf, c)

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "courtlistener")
	assert.Contains(t, out, "https://api.govinfo.gov")
	assert.Regexp(t, `cap\s+set\s+https://api\.case\.law/v1`, out)
	assert.Regexp(t, `govinfo\s+missing`, out)
}

func TestFetcherOptions_CourtListenerForbiddenSlowsLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	al := fetcher.NewAdaptiveLimiter(100, 100)

	opts := fetcherOptions(testConfig(), map[string]*fetcher.AdaptiveLimiter{u.Host: al})
	f := fetcher.NewHTTPFetcher(opts["courtlistener"])

	_, err = f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// Halved to 50 on the over-quota 403, then +20% on success.
	assert.InDelta(t, 60.0, float64(al.Limit()), 0.01)
}

func TestFetcherOptions_Retry(t *testing.T) {
	opts := fetcherOptions(testConfig(), nil)
	assert.Equal(t, 6, opts["courtlistener"].Retry.MaxAttempts)
	assert.Equal(t, 5, opts["govinfo"].Retry.MaxAttempts)
	assert.Equal(t, 5, opts["cap"].Retry.MaxAttempts)
	assert.Equal(t, time.Second, opts["cap"].Retry.InitialBackoff)
	assert.Equal(t, 30*time.Second, opts["cap"].Retry.MaxBackoff)
	assert.Empty(t, opts["govinfo"].ThrottleStatuses)

	c := testConfig()
	c.Fetch.Retry.MaxAttempts = 2
	c.Fetch.Retry.MaxBackoffMs = 4000
	opts = fetcherOptions(c, nil)
	for _, name := range []string{"courtlistener", "govinfo", "cap"} {
		rc := opts[name].Retry
		assert.Equal(t, 2, rc.MaxAttempts, name)
		require.NotNil(t, rc.Backoff, name)
		assert.Equal(t, sourceBackoffFloor, rc.Backoff(0, assert.AnError), name)
		assert.Equal(t, 4*time.Second, rc.Backoff(5, assert.AnError), name)
	}
}
