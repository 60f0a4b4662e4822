package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the queue server collectors on their own registry
type Metrics struct {
	registry *prometheus.Registry

	Connections     prometheus.Gauge
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	Mutations       *prometheus.CounterVec
	MutationLatency *prometheus.HistogramVec
	TickerRuns      *prometheus.CounterVec
	ActiveProcedure prometheus.Gauge
}

// New registers every collector plus the Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "queueboard",
			Name:      "ws_connections",
			Help:      "Open display connections.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueboard",
			Name:      "events_published_total",
			Help:      "Events published to the broadcast bus by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "queueboard",
			Name:      "events_dropped_total",
			Help:      "Events not delivered because a connection buffer was full.",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueboard",
			Name:      "mutations_total",
			Help:      "Mutation API calls by operation and result kind.",
		}, []string{"op", "result"}),
		MutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queueboard",
			Name:      "mutation_duration_seconds",
			Help:      "Mutation API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		TickerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queueboard",
			Name:      "ticker_runs_total",
			Help:      "Background ticker runs by ticker and result.",
		}, []string{"ticker", "result"}),
		ActiveProcedure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "queueboard",
			Name:      "patients_in_procedure",
			Help:      "Patients in procedure at the last elapsed tick.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.EventsPublished,
		m.EventsDropped,
		m.Mutations,
		m.MutationLatency,
		m.TickerRuns,
		m.ActiveProcedure,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
