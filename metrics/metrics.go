// ABOUTME: Prometheus instruments for sync runs, processed deals, and CRM retries
// ABOUTME: Exposes a registry-scoped Metrics value and its HTTP handler
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deals_export"

// Metrics groups every instrument the exporter records.
type Metrics struct {
	registry *prometheus.Registry

	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	DealsProcessed *prometheus.CounterVec
	CRMRetries     *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sync invocations by event and outcome.",
		}, []string{"event", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sync invocations by event.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"event"}),
		DealsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deals_processed_total",
			Help:      "Deals written to the warehouse by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CRMRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_retries_total",
			Help:      "Retried CRM API calls by HTTP status.",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "webhook_queue_depth",
			Help:      "Webhook messages waiting to be processed.",
		}),
	}
	reg.MustRegister(m.Runs, m.RunDuration, m.DealsProcessed, m.CRMRetries, m.QueueDepth)
	return m
}

// ObserveRun records one finished invocation.
func (m *Metrics) ObserveRun(event string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	m.Runs.WithLabelValues(event, outcome).Inc()
	m.RunDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}

// ObserveDeal records one deal written (or failed) in mode "single" or "bulk".
func (m *Metrics) ObserveDeal(mode string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	m.DealsProcessed.WithLabelValues(mode, outcome).Inc()
}

// SetQueueDepth records the number of pending webhook messages.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
