// Package observability provides the logging, metrics, and tracing shared by
// every delegator component.
//
// # Logging
//
// Logger wraps slog with secret redaction and pulls request_id, tool, and
// operation from the context. Output goes to stderr (and optionally a file);
// stdout belongs to the MCP transport.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.AddRequestID(ctx, id)
//	logger.Info(ctx, "tool call", "tool", name)
//
// # Metrics
//
// Metrics registers delegator_* collectors on the registry it is given, so a
// process can expose them with promhttp while tests use a private registry.
// ExecutionLog keeps the most recent tool calls for the health check.
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordToolExecution("git_status", time.Since(start), "")
//
// # Tracing
//
// Tracer exports spans over OTLP gRPC when an endpoint is configured and is a
// no-op otherwise. Spans: delegate.complete and tool.execute.
package observability
