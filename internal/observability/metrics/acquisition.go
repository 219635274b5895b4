package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AcquisitionMetrics tracks the acquisition loop and detection chain
type AcquisitionMetrics struct {
	SamplesEmitted  prometheus.Counter
	SourceErrors    prometheus.Counter
	Stalls          prometheus.Counter
	Running         prometheus.Gauge
	DefectsDetected *prometheus.CounterVec
	Flushes         prometheus.Counter
	FlushSize       prometheus.Histogram
}

// NewAcquisitionMetrics creates and registers acquisition metrics
func NewAcquisitionMetrics(registry prometheus.Registerer) (*AcquisitionMetrics, error) {
	m := &AcquisitionMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register acquisition metrics: %w", err)
	}
	return m, nil
}

func (m *AcquisitionMetrics) initMetrics() {
	m.SamplesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acquisition_samples_total",
		Help:      "Total number of samples delivered to subscribers",
	})
	m.SourceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acquisition_source_errors_total",
		Help:      "Total number of failed sample reads",
	})
	m.Stalls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acquisition_stalls_total",
		Help:      "Number of times acquisition stopped because the source stalled",
	})
	m.Running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "acquisition_running",
		Help:      "1 while the acquisition loop is running",
	})
	m.DefectsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "defects_detected_total",
		Help:      "Defects detected by severity",
	}, []string{"severity"})
	m.Flushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_flushes_total",
		Help:      "Number of buffered sample flushes",
	})
	m.FlushSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_flush_samples",
		Help:      "Samples written per flush",
		Buckets:   sizeBuckets,
	})
}

func (m *AcquisitionMetrics) SampleEmitted() {
	if m == nil {
		return
	}
	m.SamplesEmitted.Inc()
}

func (m *AcquisitionMetrics) SourceError() {
	if m == nil {
		return
	}
	m.SourceErrors.Inc()
}

func (m *AcquisitionMetrics) Stalled() {
	if m == nil {
		return
	}
	m.Stalls.Inc()
}

func (m *AcquisitionMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

func (m *AcquisitionMetrics) DefectDetected(severity string) {
	if m == nil {
		return
	}
	m.DefectsDetected.WithLabelValues(severity).Inc()
}

func (m *AcquisitionMetrics) RecordFlush(samples int) {
	if m == nil {
		return
	}
	m.Flushes.Inc()
	m.FlushSize.Observe(float64(samples))
}

// Describe implements prometheus.Collector
func (m *AcquisitionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SamplesEmitted.Describe(ch)
	m.SourceErrors.Describe(ch)
	m.Stalls.Describe(ch)
	m.Running.Describe(ch)
	m.DefectsDetected.Describe(ch)
	m.Flushes.Describe(ch)
	m.FlushSize.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *AcquisitionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SamplesEmitted.Collect(ch)
	m.SourceErrors.Collect(ch)
	m.Stalls.Collect(ch)
	m.Running.Collect(ch)
	m.DefectsDetected.Collect(ch)
	m.Flushes.Collect(ch)
	m.FlushSize.Collect(ch)
}
