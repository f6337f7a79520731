// Package metrics exposes Prometheus collectors for the archiver's HTTP traffic.
package metrics

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpBytesTotal             *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpRetriesTotal           *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_requests_total",
				Help: "HTTP attempts against the forum, labeled by host and status code (0 for transport errors).",
			},
			[]string{"site", "code"},
		)

		httpBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_bytes_total",
				Help: "Response bytes received, labeled by host.",
			},
			[]string{"site"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_seconds",
				Help:    "Latency of individual HTTP attempts.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_retries_total",
				Help: "Retries scheduled by the fetch policy, labeled by host and reason.",
			},
			[]string{"site", "reason"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveRequest records one HTTP attempt.
func ObserveRequest(rawURL string, code int, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	httpRequestsTotal.WithLabelValues(site, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		httpBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	httpRequestDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveRetry counts a scheduled retry.
func ObserveRetry(rawURL string, reason string) {
	Init()
	httpRetriesTotal.WithLabelValues(SanitizeSite(rawURL), reason).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// WriteTextfile dumps every metric in the default registry to path in the
// node-exporter textfile format. The write is atomic.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
