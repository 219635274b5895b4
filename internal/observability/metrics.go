// Package observability exposes magtest component metrics to Prometheus.
// Error telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/magtest/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	Acquisition *metrics.AcquisitionMetrics
	Datastore   *metrics.DatastoreMetrics
	Sync        *metrics.SyncMetrics
	Network     *metrics.NetworkMetrics
	Alarm       *metrics.AlarmMetrics
}

// NewMetrics creates a registry and every component metric set on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	acquisitionMetrics, err := metrics.NewAcquisitionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	syncMetrics, err := metrics.NewSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	networkMetrics, err := metrics.NewNetworkMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create network metrics: %w", err)
	}

	alarmMetrics, err := metrics.NewAlarmMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create alarm metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		Acquisition: acquisitionMetrics,
		Datastore:   datastoreMetrics,
		Sync:        syncMetrics,
		Network:     networkMetrics,
		Alarm:       alarmMetrics,
	}, nil
}

// Registry returns the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
