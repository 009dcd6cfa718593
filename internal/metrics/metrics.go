// Package metrics exposes pipeline counters to Prometheus. Every method is
// safe on a nil *Metrics so callers can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	papersImported *prometheus.CounterVec
	rowsRejected   *prometheus.CounterVec
	alerts         prometheus.Counter
	importDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		papersImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperfeed_papers_imported_total",
			Help: "Papers written by the import pipeline, by upsert outcome.",
		}, []string{"outcome"}),
		rowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperfeed_rows_rejected_total",
			Help: "Rows dropped by the import pipeline, by entity kind.",
		}, []string{"kind"}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperfeed_alerts_total",
			Help: "Alerts raised to the operator channel.",
		}),
		importDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperfeed_import_duration_seconds",
			Help:    "Wall time of one import run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.papersImported,
		m.rowsRejected,
		m.alerts,
		m.importDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) PaperImported(outcome string) {
	if m == nil {
		return
	}
	m.papersImported.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RowsRejected(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsRejected.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) AlertRaised(string) {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) ImportFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.importDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
