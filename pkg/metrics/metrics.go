// Package metrics exposes the dispatcher's Prometheus metrics (spec.md
// §6). Grounded on the promauto/promhttp patterns retrieved alongside
// the teacher repo (e.g. the ingester-append counters in Loki's
// distributor and the gauge/counter-vec wiring in the polymarket
// indexer's syncer), since the teacher itself hand-writes Prometheus
// text format rather than using the client library.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the four dispatcher-level series of spec.md §6.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDurationMs *prometheus.HistogramVec
	workerHealth      *prometheus.GaugeVec
	workerActiveConns *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// New builds a fresh, dedicated Prometheus registry and registers the
// dispatcher's series on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "lb",
			Name:      "requests_total",
			Help:      "Total forwarded requests by worker and outcome.",
		}, []string{"worker", "status"}),
		requestDurationMs: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lb",
			Name:      "request_duration_ms",
			Help:      "Forward latency in milliseconds by worker.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
		}, []string{"worker"}),
		workerHealth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lb",
			Name:      "worker_health",
			Help:      "1 if the worker is healthy, 0 otherwise.",
		}, []string{"worker"}),
		workerActiveConns: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lb",
			Name:      "worker_active_connections",
			Help:      "Current in-flight forwards per worker.",
		}, []string{"worker"}),
	}
	return m
}

// ObserveRequest records one forward outcome (status is "success" or
// "error"; worker is "none" when no eligible worker was found).
func (m *Metrics) ObserveRequest(worker, status string) {
	m.requestsTotal.WithLabelValues(worker, status).Inc()
}

// ObserveLatency records a forward's locally measured duration.
func (m *Metrics) ObserveLatency(worker string, ms float64) {
	m.requestDurationMs.WithLabelValues(worker).Observe(ms)
}

// SetWorkerHealth updates the health gauge for a worker.
func (m *Metrics) SetWorkerHealth(worker string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.workerHealth.WithLabelValues(worker).Set(v)
}

// SetActiveConnections updates the active-connections gauge for a worker.
func (m *Metrics) SetActiveConnections(worker string, n int64) {
	m.workerActiveConns.WithLabelValues(worker).Set(float64(n))
}

// Handler returns the /metrics HTTP handler serving Prometheus text
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
