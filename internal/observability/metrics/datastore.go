package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics tracks the offline store
type DatastoreMetrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Errors            *prometheus.CounterVec
	PendingItems      prometheus.Gauge
	DatabaseSize      prometheus.Gauge
}

// NewDatastoreMetrics creates and registers datastore metrics
func NewDatastoreMetrics(registry prometheus.Registerer) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datastore_operations_total",
		Help:      "Offline store operations by operation and status",
	}, []string{"operation", "status"})
	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "datastore_operation_duration_seconds",
		Help:      "Offline store operation latency",
		Buckets:   latencyBuckets,
	}, []string{"operation"})
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "datastore_errors_total",
		Help:      "Offline store errors by operation",
	}, []string{"operation"})
	m.PendingItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_queue_pending_items",
		Help:      "Items waiting in the sync queue",
	})
	m.DatabaseSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "datastore_size_bytes",
		Help:      "Size of the offline database file",
	})
}

// RecordOperation records the outcome and latency of an operation
func (m *DatastoreMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.Errors.WithLabelValues(operation).Inc()
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *DatastoreMetrics) SetPendingItems(n int64) {
	if m == nil {
		return
	}
	m.PendingItems.Set(float64(n))
}

func (m *DatastoreMetrics) SetDatabaseSize(bytes int64) {
	if m == nil {
		return
	}
	m.DatabaseSize.Set(float64(bytes))
}

func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.Errors.Describe(ch)
	m.PendingItems.Describe(ch)
	m.DatabaseSize.Describe(ch)
}

func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.Errors.Collect(ch)
	m.PendingItems.Collect(ch)
	m.DatabaseSize.Collect(ch)
}
