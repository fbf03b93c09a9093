// Package metrics exposes the proxy's Prometheus collectors. Everything
// registers on a private registry so tests can build as many instances as
// they like without collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

const (
	namespace        = "glm_proxy"
	routingSubsystem = "model_routing"
)

// StateFuncs feed the gauge metrics that reflect live component state.
// Nil members read as zero.
type StateFuncs struct {
	RoutingEnabled  func() float64
	ActiveCooldowns func() float64
	ActiveOverrides func() float64
	QueueDepth      func() float64
	InFlight        func() float64
}

// Metrics holds every collector the proxy exports.
type Metrics struct {
	registry *prometheus.Registry

	DecisionsTotal *prometheus.CounterVec
	FailoversTotal prometheus.Counter

	RequestsTotal  *prometheus.CounterVec
	RequestLatency prometheus.Histogram
	QueueWait      prometheus.Histogram
}

func New(state StateFuncs) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: routingSubsystem,
				Name:      "decisions_total",
				Help:      "Route decisions by tier and decision source",
			},
			[]string{"tier", "source"},
		),
		FailoversTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: routingSubsystem,
				Name:      "failovers_total",
				Help:      "Dispatch attempts that re-routed after a prior attempt failed",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		RequestLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "Upstream attempt latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		QueueWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time jobs spent parked in the request queue",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: routingSubsystem,
		Name:      "enabled",
		Help:      "Whether model routing is enabled (1) or passthrough (0)",
	}, orZero(state.RoutingEnabled))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: routingSubsystem,
		Name:      "cooldowns_active",
		Help:      "Models currently in cooldown",
	}, orZero(state.ActiveCooldowns))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: routingSubsystem,
		Name:      "overrides_active",
		Help:      "Saved routing overrides",
	}, orZero(state.ActiveOverrides))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs currently waiting in the request queue",
	}, orZero(state.QueueDepth))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "credentials_in_flight",
		Help:      "Requests currently holding a credential slot",
	}, orZero(state.InFlight))

	return m
}

func orZero(f func() float64) func() float64 {
	if f == nil {
		return func() float64 { return 0 }
	}
	return f
}

// Handler serves the text exposition for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests that scrape collectors directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDecision implements the dispatch observer contract.
func (m *Metrics) ObserveDecision(decision *domain.RouteDecision) {
	m.DecisionsTotal.WithLabelValues(string(decision.Tier), string(decision.Source)).Inc()
}

func (m *Metrics) ObserveFailover() {
	m.FailoversTotal.Inc()
}

func (m *Metrics) ObserveOutcome(outcome domain.Outcome, latency time.Duration) {
	m.RequestsTotal.WithLabelValues(string(outcome)).Inc()
	if latency > 0 {
		m.RequestLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) ObserveQueueWait(waited time.Duration) {
	m.QueueWait.Observe(waited.Seconds())
}
