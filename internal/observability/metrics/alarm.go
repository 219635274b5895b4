package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlarmMetrics tracks event bus throughput and alarm sink deliveries
type AlarmMetrics struct {
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
	Deliveries      *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	SinkConnected   *prometheus.GaugeVec
}

// NewAlarmMetrics creates and registers alarm metrics
func NewAlarmMetrics(registry prometheus.Registerer) (*AlarmMetrics, error) {
	m := &AlarmMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register alarm metrics: %w", err)
	}
	return m, nil
}

func (m *AlarmMetrics) initMetrics() {
	m.EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events accepted by the event bus",
	})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because the event bus buffer was full",
	})
	m.Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarm_deliveries_total",
		Help:      "Alarm deliveries by sink and status",
	}, []string{"sink", "status"})
	m.DeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "alarm_delivery_duration_seconds",
		Help:      "Alarm delivery latency by sink",
		Buckets:   latencyBuckets,
	}, []string{"sink"})
	m.SinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alarm_sink_connected",
		Help:      "1 while the alarm sink is connected",
	}, []string{"sink"})
}

func (m *AlarmMetrics) EventPublished(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.EventsPublished.Inc()
	} else {
		m.EventsDropped.Inc()
	}
}

func (m *AlarmMetrics) RecordDelivery(sink string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Deliveries.WithLabelValues(sink, status).Inc()
	m.DeliveryLatency.WithLabelValues(sink).Observe(d.Seconds())
}

func (m *AlarmMetrics) SetConnected(sink string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.SinkConnected.WithLabelValues(sink).Set(v)
}

func (m *AlarmMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EventsPublished.Describe(ch)
	m.EventsDropped.Describe(ch)
	m.Deliveries.Describe(ch)
	m.DeliveryLatency.Describe(ch)
	m.SinkConnected.Describe(ch)
}

func (m *AlarmMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EventsPublished.Collect(ch)
	m.EventsDropped.Collect(ch)
	m.Deliveries.Collect(ch)
	m.DeliveryLatency.Collect(ch)
	m.SinkConnected.Collect(ch)
}
