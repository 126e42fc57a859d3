// Package observability groups the logging, metrics and tracing used by every
// component.
//
// Subpackages:
//   - logging: slog construction and context enrichment (request id, trace id)
//   - metrics: Prometheus collectors and recorders
//   - tracing: OpenTelemetry provider, inbound middleware, outbound transport
//
// Example usage:
//
//	import (
//	    "director/internal/observability/logging"
//	    "director/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger("info")
//	    logger.Info("application started")
//
//	    metrics.RecordConfigFallback("HTTP_ADDR")
//	}
package observability
