package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics tracks sync runs and per-item outcomes
type SyncMetrics struct {
	Runs         *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	Items        *prometheus.CounterVec
	Conflicts    prometheus.Counter
	Rejected     prometheus.Counter
	LastSuccess  prometheus.Gauge
	SyncInFlight prometheus.Gauge
}

// NewSyncMetrics creates and registers sync metrics
func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

func (m *SyncMetrics) initMetrics() {
	m.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Sync runs by result (success, partial)",
	}, []string{"result"})
	m.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_run_duration_seconds",
		Help:      "Duration of sync runs",
		Buckets:   latencyBuckets,
	})
	m.Items = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_items_total",
		Help:      "Synced queue items by type and status",
	}, []string{"type", "status"})
	m.Conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_conflicts_total",
		Help:      "Session conflicts detected",
	})
	m.Rejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_rejected_total",
		Help:      "Sync requests rejected because a sync was running or the link was offline",
	})
	m.LastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix time of the last fully successful sync",
	})
	m.SyncInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_in_progress",
		Help:      "1 while a sync run is executing",
	})
}

func (m *SyncMetrics) RecordRun(success bool, duration time.Duration, at time.Time) {
	if m == nil {
		return
	}
	result := "partial"
	if success {
		result = "success"
		m.LastSuccess.Set(float64(at.Unix()))
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

func (m *SyncMetrics) RecordItem(itemType string, err error) {
	if m == nil {
		return
	}
	status := "synced"
	if err != nil {
		status = "failed"
	}
	m.Items.WithLabelValues(itemType, status).Inc()
}

func (m *SyncMetrics) RecordConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *SyncMetrics) RecordRejected() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}

func (m *SyncMetrics) SetInFlight(running bool) {
	if m == nil {
		return
	}
	if running {
		m.SyncInFlight.Set(1)
	} else {
		m.SyncInFlight.Set(0)
	}
}

func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Runs.Describe(ch)
	m.RunDuration.Describe(ch)
	m.Items.Describe(ch)
	m.Conflicts.Describe(ch)
	m.Rejected.Describe(ch)
	m.LastSuccess.Describe(ch)
	m.SyncInFlight.Describe(ch)
}

func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Runs.Collect(ch)
	m.RunDuration.Collect(ch)
	m.Items.Collect(ch)
	m.Conflicts.Collect(ch)
	m.Rejected.Collect(ch)
	m.LastSuccess.Collect(ch)
	m.SyncInFlight.Collect(ch)
}
