package logging

import (
	"context"
	"log/slog"

	"ctscribe/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobQueue is the standardized key for the queue a job was consumed from.
	FieldJobQueue = "job_queue"
	// FieldResourceID is the standardized key for the media resource a job operates on.
	FieldResourceID = "resource_id"
	// FieldCorrelationID is the standardized key for per-delivery correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies warnings and errors for log filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing next step.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if queue, ok := services.JobQueueFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobQueue, queue))
	}
	if id, ok := services.ResourceIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldResourceID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
