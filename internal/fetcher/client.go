package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-archiver/internal/metrics"
)

// ErrRetriesExhausted is returned when every attempt failed below the HTTP layer.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Unlimited disables a retry or 404 budget.
const Unlimited = -1

// Policy decides how often and how patiently a URL is retried.
type Policy struct {
	// MaxRetries bounds retries after the first attempt; Unlimited never gives up.
	MaxRetries int
	// RetryDelay is the fixed wait used when UseBackoff is false.
	RetryDelay time.Duration
	// UseBackoff grows the wait from BackoffIncrement on every retry.
	UseBackoff       bool
	BackoffIncrement time.Duration
	// FailOn403 and FailOn404 return those statuses without retrying.
	FailOn403 bool
	FailOn404 bool
	// Max404s bounds retried 404s independently of MaxRetries.
	Max404s int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       60,
		RetryDelay:       time.Second,
		UseBackoff:       true,
		BackoffIncrement: 5 * time.Second,
		FailOn403:        true,
		Max404s:          5,
	}
}

func (p Policy) backOff() backoff.BackOff {
	if !p.UseBackoff {
		return backoff.NewConstantBackOff(p.RetryDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffIncrement
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.2
	b.MaxInterval = 5 * time.Minute
	// The retry count, not wall time, bounds the loop.
	b.MaxElapsedTime = 0
	return b
}

func (p Policy) schedule(ctx context.Context) backoff.BackOffContext {
	b := p.backOff()
	if p.MaxRetries != Unlimited {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// Client wraps a Transport with rate limiting and the retry policy.
type Client struct {
	transport Transport
	limiter   Waiter
	policy    Policy
	logger    *zap.Logger
}

// NewClient builds a Client. limiter may be nil.
func NewClient(transport Transport, limiter Waiter, policy Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		limiter:   limiter,
		policy:    policy,
		logger:    logger,
	}
}

// Fetch GETs url, retrying per policy. A non-nil error means no HTTP response
// was obtained (context canceled or transport failures on every attempt);
// otherwise the final response is returned whatever its status.
func (c *Client) Fetch(ctx context.Context, url string) (Response, error) {
	var (
		last      Response
		lastErr   error
		notFound  int
		attempts  int
		stopError error
	)
	operation := func() error {
		attempts++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, url); err != nil {
				stopError = err
				return nil
			}
		}
		resp, err := c.transport.Do(ctx, url)
		metrics.ObserveRequest(url, resp.StatusCode, len(resp.Body), resp.Duration)
		if err != nil {
			if ctx.Err() != nil {
				stopError = ctx.Err()
				return nil
			}
			last, lastErr = Response{URL: url}, err
			return err
		}
		last, lastErr = resp, nil
		return c.classify(resp, &notFound)
	}
	notify := func(err error, wait time.Duration) {
		reason := "status"
		if lastErr != nil {
			reason = "transport"
		}
		metrics.ObserveRetry(url, reason)
		c.logger.Warn("request failed, retrying",
			zap.String("url", url),
			zap.Int("status", last.StatusCode),
			zap.Int("attempt", attempts),
			zap.Int("max_retries", c.policy.MaxRetries),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	retryErr := backoff.RetryNotify(operation, c.policy.schedule(ctx), notify)
	if stopError != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", url, stopError)
	}
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	if lastErr != nil {
		return last, fmt.Errorf("%w after %d attempts for %s: %v", ErrRetriesExhausted, attempts, url, lastErr)
	}
	if retryErr != nil {
		c.logger.Warn("retry limit reached, returning failed response",
			zap.String("url", url),
			zap.Int("status", last.StatusCode),
			zap.Int("attempts", attempts),
		)
	}
	return last, nil
}

// classify returns nil for a final response and an error for a retryable one.
func (c *Client) classify(resp Response, notFound *int) error {
	switch {
	case resp.OK(), resp.Redirected():
		return nil
	case resp.StatusCode == http.StatusForbidden && c.policy.FailOn403:
		c.logger.Error("stopping further attempts due to http 403", zap.String("url", resp.URL))
		return nil
	case resp.StatusCode == http.StatusNotFound:
		if c.policy.FailOn404 {
			c.logger.Error("stopping further attempts due to http 404", zap.String("url", resp.URL))
			return nil
		}
		if c.policy.Max404s != Unlimited && *notFound >= c.policy.Max404s {
			c.logger.Error("stopping further attempts, 404 budget spent",
				zap.String("url", resp.URL),
				zap.Int("max_404s", c.policy.Max404s),
			)
			return nil
		}
		*notFound++
	}
	return fmt.Errorf("http %d", resp.StatusCode)
}
