package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/caselaw-cli/internal/config"
	"github.com/sells-group/caselaw-cli/internal/fetcher"
	"github.com/sells-group/caselaw-cli/internal/resilience"
	"github.com/sells-group/caselaw-cli/internal/source"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered opinion providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatProviders(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

// sourceBackoffFloor is the shortest wait between provider retries when the
// server sends no Retry-After hint.
const sourceBackoffFloor = 2 * time.Second

// sourceRetry builds a provider retry policy from the fetch.retry config.
// attempts is the provider's own budget, used when max_attempts is unset.
func sourceRetry(r config.RetryConfig, attempts int) resilience.RetryConfig {
	if r.MaxAttempts > 0 {
		attempts = r.MaxAttempts
	}
	rc := resilience.FromRetryConfig(attempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
	return resilience.WithSourceBackoff(rc, sourceBackoffFloor)
}

// fetcherOptions returns the HTTP options for each provider. Limiters are
// shared so providers hitting the same host share one budget.
func fetcherOptions(c *config.Config, limiters map[string]*fetcher.AdaptiveLimiter) map[string]fetcher.HTTPOptions {
	return map[string]fetcher.HTTPOptions{
		"courtlistener": {
			Service:          "courtlistener",
			Retry:            sourceRetry(c.Fetch.Retry, 6),
			RetryStatuses:    source.CourtListenerRetryStatuses,
			ThrottleStatuses: source.CourtListenerThrottleStatuses,
			Limiters:         limiters,
		},
		"govinfo": {
			Service:       "govinfo",
			Retry:         sourceRetry(c.Fetch.Retry, 5),
			RetryStatuses: source.GovInfoRetryStatuses,
			Limiters:      limiters,
		},
		"cap": {
			Service:  "cap",
			Retry:    sourceRetry(c.Fetch.Retry, 5),
			Limiters: limiters,
		},
	}
}

// buildRegistry wires every provider with its own fetcher.
func buildRegistry(c *config.Config) *source.Registry {
	opts := fetcherOptions(c, fetcher.DefaultAdaptiveLimiters())
	cl := fetcher.NewHTTPFetcher(opts["courtlistener"])
	gov := fetcher.NewHTTPFetcher(opts["govinfo"])
	capf := fetcher.NewHTTPFetcher(opts["cap"])

	return source.NewRegistry(
		source.NewCourtListener(source.CourtListenerConfig{
			Token:   c.CourtListener.Token,
			BaseURL: c.CourtListener.BaseURL,
		}, cl),
		source.NewGovInfo(source.GovInfoConfig{
			APIKey:  c.GovInfo.APIKey,
			BaseURL: c.GovInfo.BaseURL,
		}, gov),
		source.NewCAP(source.CAPConfig{
			APIKey:  c.CAP.APIKey,
			BaseURL: c.CAP.BaseURL,
		}, capf),
	)
}

// providerInfo reports the base URL and whether a credential is set.
func providerInfo(c *config.Config, name string) (baseURL string, credentialed bool) {
	switch name {
	case "courtlistener":
		return c.CourtListener.BaseURL, c.CourtListener.Token != ""
	case "govinfo":
		return c.GovInfo.BaseURL, c.GovInfo.APIKey != ""
	case "cap":
		return c.CAP.BaseURL, c.CAP.APIKey != ""
	}
	return "", false
}

func formatProviders(out io.Writer, c *config.Config) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCREDENTIAL\tBASE URL")
	_, _ = fmt.Fprintln(w, "----\t----------\t--------")
	for _, name := range buildRegistry(c).List() {
		baseURL, ok := providerInfo(c, name)
		cred := "missing"
		if ok {
			cred = "set"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, cred, baseURL)
	}
	_ = w.Flush()
}
