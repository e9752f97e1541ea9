// Package metrics exports coordinator activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
)

const namespace = "cloudtodo"

// Result label values.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// Metrics holds the collectors on their own registry. It implements
// coordinator.Observer.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	queueWait    *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	mirrorRows   *prometheus.CounterVec
	identityFail prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "operations_total",
				Help:      "Coordinated operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "operation_duration_seconds",
				Help:      "Run time of started operations in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		queueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "queue_wait_seconds",
				Help:      "Time operations spent queued behind the same key or the concurrency limit.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "operations_in_flight",
			Help:      "Operations currently running.",
		}),
		mirrorRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "mirror_rows_total",
				Help:      "Mirror rows written by reconciliation, by change.",
			},
			[]string{"change"},
		),
		identityFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "identity_failures_total",
			Help:      "Passes whose identity resolution failed.",
		}),
	}

	m.registry.MustRegister(
		m.operations, m.duration, m.queueWait, m.inFlight, m.mirrorRows, m.identityFail,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OperationStarted(ev coordinator.Event) {
	m.inFlight.Inc()
	m.queueWait.WithLabelValues(string(ev.Op)).Observe(ev.Waited.Seconds())
}

func (m *Metrics) OperationFinished(ev coordinator.Event) {
	result := resultLabel(ev.Err)
	m.operations.WithLabelValues(string(ev.Op), result).Inc()
	if result == ResultCancelled {
		return
	}
	m.inFlight.Dec()
	m.duration.WithLabelValues(string(ev.Op)).Observe(ev.Elapsed.Seconds())
}

func (m *Metrics) Reconciled(result *reconcile.Result) {
	m.mirrorRows.WithLabelValues("inserted").Add(float64(result.Inserted))
	m.mirrorRows.WithLabelValues("updated").Add(float64(result.Updated))
	m.mirrorRows.WithLabelValues("deleted").Add(float64(result.Deleted))
	if result.IdentityErr != nil {
		m.identityFail.Inc()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, cloud.ErrCancelled):
		return ResultCancelled
	default:
		return ResultError
	}
}
