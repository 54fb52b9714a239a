package metricssvc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edupay/feeledger/core"
)

// PrometheusRecorder exposes reconciliation counters to prometheus.
type PrometheusRecorder struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	mutations     *prometheus.CounterVec
	discrepancies prometheus.Gauge
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)

func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "operations_total",
			Help:      "Finished operations by type and final status.",
		}, []string{"type", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feeledger",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of finished operations.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "ledger_mutations_total",
			Help:      "Fee record writes by kind.",
		}, []string{"kind"}),
		discrepancies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeledger",
			Name:      "health_discrepancies",
			Help:      "Total fee discrepancies found by the last health check.",
		}),
	}
	r.registry.MustRegister(
		r.operations,
		r.durations,
		r.mutations,
		r.discrepancies,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *PrometheusRecorder) OperationFinished(opType, status string, took time.Duration) {
	r.operations.WithLabelValues(opType, status).Inc()
	r.durations.WithLabelValues(opType).Observe(took.Seconds())
}

func (r *PrometheusRecorder) LedgerMutation(kind string, count int) {
	if count <= 0 {
		return
	}
	r.mutations.WithLabelValues(kind).Add(float64(count))
}

func (r *PrometheusRecorder) HealthDiscrepancies(total int) {
	r.discrepancies.Set(float64(total))
}

// Handler serves the registry in the prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
