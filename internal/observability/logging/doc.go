// Package logging provides structured logging utilities with context propagation.
//
// Key features:
//   - JSON and text output formats
//   - Request ID and trace ID enrichment
//   - Context-aware logging
//   - Configurable log levels
//
// Example usage:
//
//	logger := logging.NewLogger(cfg.LogLevel)
//	slog.SetDefault(logger)
//
//	func handle(ctx context.Context) {
//	    logger := logging.WithTrace(ctx, logging.WithRequestID(ctx, slog.Default()))
//	    logger.Info("processing request")
//	}
package logging
