// Package metrics provides Prometheus collectors for the fragmentd worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the worker.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal     *prometheus.CounterVec
	TaskDuration   prometheus.Histogram
	TasksInFlight  prometheus.Gauge
	BytesFetched   prometheus.Counter
	StorageRetries prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fragmentd",
			Name:      "tasks_total",
			Help:      "Total tasks processed, by outcome.",
		}, []string{"outcome"}),

		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "fragmentd",
			Name:                            "task_duration_seconds",
			Help:                            "End-to-end task processing duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),

		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fragmentd",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently being processed (0 or 1).",
		}),

		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fragmentd",
			Name:      "bytes_fetched_total",
			Help:      "Total payload bytes fetched from blob storage.",
		}),

		StorageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fragmentd",
			Name:      "storage_retries_total",
			Help:      "Total retried storage reads.",
		}),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.TasksInFlight,
		m.BytesFetched,
		m.StorageRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an HTTP handler serving the worker's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
