// Package metrics collects and exposes Prometheus metrics for the forum
// services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the service metric set. Each service
// builds its own Collector against its own registry.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authAttempts    *prometheus.CounterVec
	forwardFailures prometheus.Counter
	rateLimited     prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(service string, reg prometheus.Registerer) *Collector {
	labels := prometheus.Labels{"service": service}
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "forum_http_requests_total",
			Help:        "Total HTTP requests by method and status code.",
			ConstLabels: labels,
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "forum_http_request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"method"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "forum_auth_attempts_total",
			Help:        "Authentication attempts by method and outcome.",
			ConstLabels: labels,
		}, []string{"auth_method", "outcome"}),
		forwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "forum_upstream_failures_total",
			Help:        "Requests that failed because an upstream was unreachable.",
			ConstLabels: labels,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "forum_rate_limited_total",
			Help:        "Requests rejected by the rate limiter.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.authAttempts,
		c.forwardFailures,
		c.rateLimited,
	)
	return c
}

// RecordRequest records a finished HTTP request.
func (c *Collector) RecordRequest(method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAuthAttempt records a login or signup attempt.
// authMethod is "password" or an OAuth provider name; outcome is
// "success" or "failure".
func (c *Collector) RecordAuthAttempt(authMethod, outcome string) {
	c.authAttempts.WithLabelValues(authMethod, outcome).Inc()
}

// RecordUpstreamFailure records a request lost to an unreachable upstream.
func (c *Collector) RecordUpstreamFailure() {
	c.forwardFailures.Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler returns the Prometheus scrape handler for the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// WithHTTPMetrics wraps a handler and records request count and duration.
func WithHTTPMetrics(c *Collector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		c.RecordRequest(r.Method, status, time.Since(start))
	})
}
