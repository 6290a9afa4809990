package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every orchestra metric.
const Namespace = "orchestra"

// Metrics holds the orchestra collectors. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	// dispatch
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchInFlight prometheus.Gauge
	QueueDepth       prometheus.Gauge
	Selections       *prometheus.CounterVec

	// health
	ProbeTotal     prometheus.Counter
	ProbeErrors    prometheus.Counter
	ProbeLatency   prometheus.Histogram
	Healthy        prometheus.Gauge
	ResourcesKnown *prometheus.GaugeVec

	// scheduler
	ScheduleFires *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "dispatch_total",
				Help:      "Total dispatches by resource, status and error kind",
			},
			[]string{"resource", "status", "error_kind"},
		),
		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"resource", "status"},
		),
		DispatchInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "dispatch_in_flight",
				Help:      "Number of dispatches currently running",
			},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "dispatch_queue_depth",
				Help:      "Number of dispatches waiting for a worker",
			},
		),
		Selections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "selections_total",
				Help:      "Resource selections by resource and reason",
			},
			[]string{"resource", "reason"},
		),
		ProbeTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "probe_total",
				Help:      "Total liveness probes",
			},
		),
		ProbeErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "probe_errors_total",
				Help:      "Total failed liveness probes",
			},
		),
		ProbeLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "probe_latency_seconds",
				Help:      "Liveness probe latency in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		Healthy: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "backend_pool_healthy",
				Help:      "1 when the backend pool passed its last probe",
			},
		),
		ResourcesKnown: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "resources",
				Help:      "Registered resources by availability",
			},
			[]string{"available"},
		),
		ScheduleFires: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "schedule_fires_total",
				Help:      "Cron triggers by schedule and outcome",
			},
			[]string{"schedule", "outcome"},
		),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatchStart marks a dispatch as running.
func (m *Metrics) RecordDispatchStart() {
	if m == nil {
		return
	}
	m.DispatchInFlight.Inc()
}

// RecordDispatchComplete records a sealed dispatch.
func (m *Metrics) RecordDispatchComplete(resource, status, errorKind string, duration time.Duration) {
	if m == nil {
		return
	}
	if resource == "" {
		resource = "none"
	}
	m.DispatchInFlight.Dec()
	m.DispatchTotal.WithLabelValues(resource, status, errorKind).Inc()
	m.DispatchDuration.WithLabelValues(resource, status).Observe(duration.Seconds())
}

// RecordSelection counts a successful resource selection.
func (m *Metrics) RecordSelection(resource, reason string) {
	if m == nil {
		return
	}
	m.Selections.WithLabelValues(resource, reason).Inc()
}

// SetQueueDepth sets the number of queued dispatches.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordProbe records one liveness probe.
func (m *Metrics) RecordProbe(latency time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ProbeTotal.Inc()
	m.ProbeLatency.Observe(latency.Seconds())
	if success {
		m.Healthy.Set(1)
	} else {
		m.ProbeErrors.Inc()
		m.Healthy.Set(0)
	}
}

// SetResourceCounts publishes the registry's availability split.
func (m *Metrics) SetResourceCounts(available, unavailable int) {
	if m == nil {
		return
	}
	m.ResourcesKnown.WithLabelValues("true").Set(float64(available))
	m.ResourcesKnown.WithLabelValues("false").Set(float64(unavailable))
}

// RecordScheduleFire counts a cron trigger. outcome is "dispatched", "skipped",
// "stale" or "error".
func (m *Metrics) RecordScheduleFire(schedule, outcome string) {
	if m == nil {
		return
	}
	m.ScheduleFires.WithLabelValues(schedule, outcome).Inc()
}
