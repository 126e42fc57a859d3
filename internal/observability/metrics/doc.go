// Package metrics provides the Prometheus collectors shared by the runtime.
//
// This package centralizes:
//   - Lifecycle metrics (phase durations, component state)
//   - Drain metrics (in-flight operations per component)
//   - Inbound and outbound HTTP metrics
//   - Chat update and scheduled job metrics
//   - Database query metrics
//
// All collectors are registered with the Prometheus default registry through
// promauto and exposed by the health server on /metrics.
//
// Example usage:
//
//	import "director/internal/observability/metrics"
//
//	func stopComponent(name string) {
//	    start := time.Now()
//	    // ... stop the component ...
//	    metrics.RecordPhase(name, "stop", time.Since(start), nil)
//	}
package metrics
