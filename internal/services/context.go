package services

import "context"

type contextKey string

const (
	jobQueueKey   contextKey = "job_queue"
	resourceIDKey contextKey = "resource_id"
	requestIDKey  contextKey = "request_id"
)

// WithJobQueue annotates context with the queue a job was consumed from.
func WithJobQueue(ctx context.Context, queue string) context.Context {
	if queue == "" {
		return ctx
	}
	return context.WithValue(ctx, jobQueueKey, queue)
}

// JobQueueFromContext returns the queue name if present.
func JobQueueFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobQueueKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithResourceID annotates context with the media resource a job operates on.
func WithResourceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, resourceIDKey, id)
}

// ResourceIDFromContext returns the resource identifier if present.
func ResourceIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(resourceIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
