// Package metrics defines the Prometheus metric collectors used by the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	GenerationsTotal     *prometheus.CounterVec
	GenerationDuration   *prometheus.HistogramVec
	UpstreamLatency      *prometheus.HistogramVec
	CreditsDeductedTotal prometheus.Counter
	IdeasPersistedTotal  *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idea_generations_total",
				Help: "Generation requests by mode and result (ok, or the failure class).",
			},
			[]string{"mode", "result"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idea_generation_duration_seconds",
				Help:    "End-to-end generation latency in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"mode"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Generative API call latency in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"operation", "outcome"},
		),
		CreditsDeductedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_deducted_total",
				Help: "Total idea credits consumed.",
			},
		),
		IdeasPersistedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideas_persisted_total",
				Help: "Total ideas written to the store by mode.",
			},
			[]string{"mode"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Generation events written to Kafka by type.",
			},
			[]string{"type"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_dropped_total",
				Help: "Generation events lost to a full buffer or a failed flush, by type.",
			},
			[]string{"type"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.GenerationsTotal,
		m.GenerationDuration,
		m.UpstreamLatency,
		m.CreditsDeductedTotal,
		m.IdeasPersistedTotal,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.CircuitBreakerState,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler returns the Prometheus scrape HTTP handler for m's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
