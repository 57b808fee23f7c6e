// Package metrics exposes the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cyphr"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	dispatches     *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	activeSessions prometheus.Gauge
	sweptSessions  prometheus.Counter
}

// New creates a Metrics instance with its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_milliseconds",
				Help:      "HTTP request duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"route"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatched agent requests",
			},
			[]string{"endpoint", "reason", "status"},
		),
		dispatchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_milliseconds",
				Help:      "End-to-end dispatch duration in milliseconds",
				Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
			},
			[]string{"endpoint"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "LLM tokens consumed",
			},
			[]string{"model", "direction"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions held in memory",
		}),
		sweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of sessions removed by the sweeper",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.dispatches,
		m.dispatchTime,
		m.tokens,
		m.activeSessions,
		m.sweptSessions,
	)
	return m
}

// Handler returns the exposition handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

// ObserveDispatch records one dispatch outcome.
func (m *Metrics) ObserveDispatch(endpoint, reason, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(endpoint, reason, status).Inc()
	m.dispatchTime.WithLabelValues(endpoint).Observe(float64(d.Milliseconds()))
}

// AddTokens records token usage for model.
func (m *Metrics) AddTokens(model string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokens.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(model, "output").Add(float64(output))
	}
}

// SetActiveSessions sets the in-memory session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// AddSweptSessions counts sessions removed by a sweep.
func (m *Metrics) AddSweptSessions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptSessions.Add(float64(n))
}
