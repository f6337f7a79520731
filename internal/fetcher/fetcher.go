// Package fetcher defines the single-GET transport contract and the retrying
// client the archive pipelines consume.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Response is the outcome of one GET.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports a 200 response.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Redirected reports a permanent redirect. The archive treats it as a signal
// that a listing URL has moved, not as a failure.
func (r Response) Redirected() bool {
	return r.StatusCode == http.StatusMovedPermanently || r.StatusCode == http.StatusPermanentRedirect
}

// Transport performs exactly one HTTP attempt without retrying.
type Transport interface {
	Do(ctx context.Context, url string) (Response, error)
}

// Waiter throttles attempts; ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}
