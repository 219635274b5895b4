package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NetworkMetrics tracks connectivity and remote store calls
type NetworkMetrics struct {
	Online         prometheus.Gauge
	Transitions    *prometheus.CounterVec
	ProbeDuration  prometheus.Histogram
	RemoteRequests *prometheus.CounterVec
	RemoteLatency  *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec
}

// NewNetworkMetrics creates and registers network metrics
func NewNetworkMetrics(registry prometheus.Registerer) (*NetworkMetrics, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	factory := promauto.With(registry)
	m := &NetworkMetrics{
		Online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 while the remote backend is reachable",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_transitions_total",
			Help:      "Connectivity transitions by direction",
		}, []string{"to"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_probe_duration_seconds",
			Help:      "Health probe latency",
			Buckets:   latencyBuckets,
		}),
		RemoteRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote store requests by operation and status",
		}, []string{"operation", "status"}),
		RemoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote store request latency",
			Buckets:   latencyBuckets,
		}, []string{"operation"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_cache_lookups_total",
			Help:      "Remote read cache lookups by result",
		}, []string{"result"}),
	}
	return m, nil
}

func (m *NetworkMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
		m.Transitions.WithLabelValues("online").Inc()
	} else {
		m.Online.Set(0)
		m.Transitions.WithLabelValues("offline").Inc()
	}
}

func (m *NetworkMetrics) ObserveProbe(d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeDuration.Observe(d.Seconds())
}

func (m *NetworkMetrics) RecordRemote(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RemoteRequests.WithLabelValues(operation, status).Inc()
	m.RemoteLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *NetworkMetrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues("hit").Inc()
	} else {
		m.CacheHits.WithLabelValues("miss").Inc()
	}
}
