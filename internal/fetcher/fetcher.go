// Package fetcher is the shared HTTP transport for remote opinion sources. It
// owns rate limiting, throttling signals and retry classification so that
// providers only deal with pagination and payload shapes.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
)

// Fetcher performs a single logical request, retrying transient failures.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Request describes one HTTP call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx responses that are not retried.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}
