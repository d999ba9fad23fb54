package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments of the collector. A nil *Metrics
// records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	tenants       prometheus.Gauge
	fetchDuration *prometheus.HistogramVec
	fetchRecords  *prometheus.GaugeVec
	fetchErrors   *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenant_usage",
			Name:      "collection_runs_total",
			Help:      "Usage collection runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tenant_usage",
			Name:      "collection_duration_seconds",
			Help:      "Wall time of a full usage collection run.",
			Buckets:   prometheus.DefBuckets,
		}),
		tenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tenant_usage",
			Name:      "tenants",
			Help:      "Tenants reported by the last successful run.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenant_usage",
			Name:      "source_fetch_duration_seconds",
			Help:      "Time spent listing records from a source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		fetchRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tenant_usage",
			Name:      "source_records",
			Help:      "Records returned by the last fetch of a source.",
		}, []string{"source"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenant_usage",
			Name:      "source_fetch_errors_total",
			Help:      "Failed fetches per source.",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.tenants, m.fetchDuration, m.fetchRecords, m.fetchErrors)
	}
	return m
}

func (m *Metrics) observeRun(took time.Duration, tenants int, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.tenants.Set(float64(tenants))
}

func (m *Metrics) observeFetch(source string, took time.Duration, records int, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(took.Seconds())
	if err != nil {
		m.fetchErrors.WithLabelValues(source).Inc()
		return
	}
	m.fetchRecords.WithLabelValues(source).Set(float64(records))
}
