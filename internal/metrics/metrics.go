// Package metrics holds the Prometheus collectors for the API process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	VersionsCaptured prometheus.Counter
	SavesThrottled   prometheus.Counter
	VersionConflicts prometheus.Counter
	AccessDenied     *prometheus.CounterVec
	BackendFailures  *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		VersionsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_captured_total",
			Help:      "Document versions appended to history.",
		}),
		SavesThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_throttled_total",
			Help:      "Saves persisted without a new version because of the throttle window.",
		}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Version number collisions retried.",
		}),
		AccessDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_denied_total",
			Help:      "Operations rejected by the access control engine.",
		}, []string{"operation"}),
		BackendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Persistence or identity backend failures.",
		}, []string{"operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.VersionsCaptured,
		c.SavesThrottled,
		c.VersionConflicts,
		c.AccessDenied,
		c.BackendFailures,
		c.BreakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) VersionCaptured() {
	if c != nil {
		c.VersionsCaptured.Inc()
	}
}

func (c *Collector) SaveThrottled() {
	if c != nil {
		c.SavesThrottled.Inc()
	}
}

func (c *Collector) VersionConflict() {
	if c != nil {
		c.VersionConflicts.Inc()
	}
}

func (c *Collector) Denied(operation string) {
	if c != nil {
		c.AccessDenied.WithLabelValues(operation).Inc()
	}
}

func (c *Collector) BackendFailure(operation string) {
	if c != nil {
		c.BackendFailures.WithLabelValues(operation).Inc()
	}
}

func (c *Collector) SetBreakerState(name string, state int) {
	if c != nil {
		c.BreakerState.WithLabelValues(name).Set(float64(state))
	}
}
