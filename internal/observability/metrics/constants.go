// Package metrics provides the Prometheus metric sets of each magtest component.
// Every Record/Set method is safe to call on a nil receiver so components can
// run without metrics in tests and CLI one-shots.
package metrics

import "time"

// ShutdownTimeout bounds the metrics server graceful shutdown
const ShutdownTimeout = 5 * time.Second

const namespace = "magtest"

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sizeBuckets    = []float64{1, 10, 50, 100, 500, 1000, 5000, 10000}
)
