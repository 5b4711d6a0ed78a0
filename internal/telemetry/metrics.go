// Package telemetry exposes viewer metrics and a status endpoint.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records session activity. It implements session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	loads         *prometheus.CounterVec
	staleLoads    prometheus.Counter
	loadDuration  prometheus.Histogram
	loadedSpans   prometheus.Gauge
	renderLatency prometheus.Histogram
	renderedRows  prometheus.Gauge
	diagnostics   prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traviz_loads_total",
			Help: "Trace loads by result.",
		}, []string{"result"}),
		staleLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traviz_stale_loads_total",
			Help: "Loads discarded because a newer load superseded them.",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traviz_load_duration_seconds",
			Help:    "Time spent reading and building a trace.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		loadedSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traviz_loaded_spans",
			Help: "Spans in the loaded trace.",
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traviz_render_duration_seconds",
			Help:    "Time spent producing one frame of span rows.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		renderedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traviz_rendered_spans",
			Help: "Span rows in the last frame.",
		}),
		diagnostics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traviz_render_diagnostics",
			Help: "Diagnostics reported by the last frame.",
		}),
	}
	m.registry.MustRegister(m.loads, m.staleLoads, m.loadDuration, m.loadedSpans,
		m.renderLatency, m.renderedRows, m.diagnostics)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) LoadStarted(string) {}

func (m *Metrics) LoadFinished(_ string, spans int, elapsed time.Duration, err error) {
	m.loadDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.loads.WithLabelValues("error").Inc()
		return
	}
	m.loads.WithLabelValues("ok").Inc()
	m.loadedSpans.Set(float64(spans))
}

func (m *Metrics) LoadDiscarded(string) { m.staleLoads.Inc() }

func (m *Metrics) Rendered(elapsed time.Duration, spans, diagnostics int) {
	m.renderLatency.Observe(elapsed.Seconds())
	m.renderedRows.Set(float64(spans))
	m.diagnostics.Set(float64(diagnostics))
}
