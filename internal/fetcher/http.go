package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/caselaw-cli/internal/resilience"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	// Service names the remote source in logs.
	Service   string
	UserAgent string
	Timeout   time.Duration

	// Retry controls attempts and backoff. Zero value uses the source policy:
	// 5 attempts, 1s base, 2s floor.
	Retry resilience.RetryConfig

	// RetryStatuses lists HTTP statuses treated as transient. Nil falls back to
	// resilience.IsTransientHTTPStatus.
	RetryStatuses []int

	// ThrottleStatuses lists statuses that signal rate limiting and slow the
	// adaptive limiter down. Default: 429.
	ThrottleStatuses []int

	// Limiters holds per-host adaptive limiters. Hosts without one use a
	// fixed limiter at DefaultRate.
	Limiters map[string]*AdaptiveLimiter

	// SlowdownThreshold and Slowdown implement the quota guard: when the
	// X-RateLimit-Remaining header drops to the threshold or below, the next
	// request waits Slowdown first. Defaults: 1 and 2s.
	SlowdownThreshold int
	Slowdown          time.Duration

	Client *http.Client
}

// DefaultRate is the request rate for hosts without a configured limiter.
const DefaultRate rate.Limit = 20

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On throttling it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate after a throttling response.
func (a *AdaptiveLimiter) OnRateLimit(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after throttling",
		zap.String("host", host),
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// DefaultAdaptiveLimiters returns adaptive rate limiters for the known source hosts.
func DefaultAdaptiveLimiters() map[string]*AdaptiveLimiter {
	return map[string]*AdaptiveLimiter{
		"www.courtlistener.com": NewAdaptiveLimiter(2, 2),
		"api.govinfo.gov":       NewAdaptiveLimiter(5, 5),
		"www.govinfo.gov":       NewAdaptiveLimiter(5, 5),
		"api.case.law":          NewAdaptiveLimiter(5, 5),
	}
}

// HTTPFetcher implements Fetcher using net/http with retry and rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	retry    map[int]bool
	throttle map[int]bool

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	fixed    map[string]*rate.Limiter
	slowNext bool
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "caselaw-cli/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.FromSourceConfig(5, time.Second, 2*time.Second)
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger(opts.Service, "fetch")
	}
	if opts.SlowdownThreshold == 0 {
		opts.SlowdownThreshold = 1
	}
	if opts.Slowdown == 0 {
		opts.Slowdown = 2 * time.Second
	}
	if len(opts.ThrottleStatuses) == 0 {
		opts.ThrottleStatuses = []int{http.StatusTooManyRequests}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limiters := make(map[string]*AdaptiveLimiter)
	for k, v := range opts.Limiters {
		limiters[k] = v
	}

	f := &HTTPFetcher{
		client:   client,
		opts:     opts,
		throttle: toSet(opts.ThrottleStatuses),
		limiters: limiters,
		fixed:    make(map[string]*rate.Limiter),
	}
	if opts.RetryStatuses != nil {
		f.retry = toSet(opts.RetryStatuses)
	}
	return f
}

func toSet(codes []int) map[int]bool {
	m := make(map[int]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

func (f *HTTPFetcher) isRetryStatus(code int) bool {
	if f.retry == nil {
		return resilience.IsTransientHTTPStatus(code)
	}
	return f.retry[code]
}

// wait blocks on the host's limiter and returns the adaptive limiter, if any.
func (f *HTTPFetcher) wait(ctx context.Context, host string) (*AdaptiveLimiter, error) {
	f.mu.Lock()
	adaptive := f.limiters[host]
	var fixed *rate.Limiter
	if adaptive == nil {
		fixed = f.fixed[host]
		if fixed == nil {
			fixed = rate.NewLimiter(DefaultRate, int(DefaultRate))
			f.fixed[host] = fixed
		}
	}
	slow := f.slowNext
	f.slowNext = false
	f.mu.Unlock()

	if slow {
		zap.L().Debug("rate limit quota nearly exhausted, slowing down",
			zap.String("service", f.opts.Service),
			zap.Duration("wait", f.opts.Slowdown),
		)
		if err := resilience.Sleep(ctx, f.opts.Slowdown); err != nil {
			return nil, err
		}
	}

	if adaptive != nil {
		return adaptive, adaptive.Wait(ctx)
	}
	return nil, fixed.Wait(ctx)
}

// Fetch issues req, retrying transient failures according to the configured
// policy. The returned response always has a 2xx status.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", req.URL)
	}

	resp, err := resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*Response, error) {
		return f.attempt(ctx, u.Host, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(err, "fetcher: %s %s", req.Method, req.URL)
	}
	return resp, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, host string, req Request) (*Response, error) {
	adaptive, err := f.wait(ctx, host)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	f.noteQuota(resp.Header)

	if f.isRetryStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		if f.throttle[resp.StatusCode] && adaptive != nil {
			adaptive.OnRateLimit(host)
		}
		te := resilience.NewTransientError(
			eris.Errorf("fetcher: status %d from %s", resp.StatusCode, host), resp.StatusCode)
		if d, ok := resilience.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			te.WithRetryAfter(d)
		}
		zap.L().Warn("transient response from source",
			zap.String("service", f.opts.Service),
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_after", te.RetryAfter),
		)
		return nil, te
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL, Body: string(snippet)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), 0)
	}

	if adaptive != nil {
		adaptive.OnSuccess()
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// noteQuota arms the slowdown when the source reports its quota is nearly spent.
func (f *HTTPFetcher) noteQuota(h http.Header) {
	v := h.Get("X-RateLimit-Remaining")
	if v == "" {
		return
	}
	remaining, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	if remaining <= f.opts.SlowdownThreshold {
		f.mu.Lock()
		f.slowNext = true
		f.mu.Unlock()
	}
}
