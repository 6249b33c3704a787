// Package observability provides logging helpers, Prometheus collectors and
// OpenTelemetry setup.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

func attrsFrom(base []any, fields map[string]any) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// LogServiceCall logs a service method call.
func LogServiceCall(ctx context.Context, service, method string, fields map[string]any) {
	attrs := attrsFrom([]any{
		slog.String("service", service),
		slog.String("method", method),
		slog.String("type", "service_call"),
	}, fields)
	GlobalLogger.InfoContext(ctx, "service call", attrs...)
}

// LogAsyncOperationStart logs the start of a long-running operation such as a poll.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]any) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of a long-running operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]any) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogDegraded logs a degraded-mode event with a stable event name.
func LogDegraded(ctx context.Context, event string, err error, fields map[string]any) {
	attrs := []any{slog.String("event", event)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	GlobalLogger.WarnContext(ctx, "degraded mode", attrsFrom(attrs, fields)...)
}
