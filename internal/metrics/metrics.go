// Package metrics exposes playground counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/vade/internal/domain"
)

// Metrics holds the playground collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	TurnsInFlight  prometheus.Gauge
	CodeUpdates    *prometheus.CounterVec
	PreviewRenders prometheus.Counter
	PreviewBytes   prometheus.Gauge
	ElementClicks  prometheus.Counter
	LiveClients    prometheus.Gauge
	Fixes          *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vade",
			Name:      "turns_total",
			Help:      "Finished conversation turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vade",
			Name:      "turn_duration_seconds",
			Help:      "Time from turn start to placeholder resolution.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		TurnsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "vade",
			Name:      "turns_in_flight",
			Help:      "1 while a turn awaits the assistant.",
		}),
		CodeUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vade",
			Name:      "code_updates_total",
			Help:      "Buffer overwrites applied from assistant replies.",
		}, []string{"language"}),
		PreviewRenders: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vade",
			Name:      "preview_renders_total",
			Help:      "Preview documents rendered.",
		}),
		PreviewBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "vade",
			Name:      "preview_document_bytes",
			Help:      "Size of the latest preview document.",
		}),
		ElementClicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vade",
			Name:      "element_clicks_total",
			Help:      "Element click messages relayed from the preview.",
		}),
		LiveClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "vade",
			Name:      "live_clients",
			Help:      "Connected live channel clients.",
		}),
		Fixes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vade",
			Name:      "buffer_fixes_total",
			Help:      "Single-buffer fix requests by language and result.",
		}, []string{"language", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BusyChanged tracks the in-flight gauge.
func (m *Metrics) BusyChanged(busy bool) {
	if busy {
		m.TurnsInFlight.Set(1)
		return
	}
	m.TurnsInFlight.Set(0)
}

// TurnFinished records a finished turn.
func (m *Metrics) TurnFinished(_ context.Context, rec domain.TurnRecord) {
	m.Turns.WithLabelValues(string(rec.Outcome)).Inc()
	m.TurnDuration.Observe(rec.Duration().Seconds())
	for _, lang := range rec.Updated {
		m.CodeUpdates.WithLabelValues(string(lang)).Inc()
	}
}

// PreviewRendered records a rendered document of the given size.
func (m *Metrics) PreviewRendered(size int) {
	m.PreviewRenders.Inc()
	m.PreviewBytes.Set(float64(size))
}
