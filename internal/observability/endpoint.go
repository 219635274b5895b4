package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/logger"
	metricspkg "github.com/tphakala/magtest/internal/observability/metrics"
)

// Endpoint serves /metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// NewEndpoint creates a metrics endpoint. It fails when the Prometheus
// endpoint is disabled in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Prometheus.Enabled {
		return nil, fmt.Errorf("prometheus endpoint not enabled in settings")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Prometheus.Listen,
		metrics:       metrics,
	}, nil
}

// Start runs the HTTP server until quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := getLogger()
	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
}

func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log := getLogger()
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
