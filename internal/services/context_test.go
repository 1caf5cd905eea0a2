package services_test

import (
	"context"
	"testing"

	"ctscribe/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobQueue(ctx, "Transcribe")
	ctx = services.WithResourceID(ctx, "video-7")
	ctx = services.WithRequestID(ctx, "req-123")

	if queue, ok := services.JobQueueFromContext(ctx); !ok || queue != "Transcribe" {
		t.Fatalf("unexpected queue: %v %v", queue, ok)
	}
	if id, ok := services.ResourceIDFromContext(ctx); !ok || id != "video-7" {
		t.Fatalf("unexpected resource id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithResourceID(context.Background(), "")
	if _, ok := services.ResourceIDFromContext(ctx); ok {
		t.Fatal("expected no resource id value")
	}
}
