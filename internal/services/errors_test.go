package services_test

import (
	"errors"
	"strings"
	"testing"

	"ctscribe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcribe", "ffmpeg", "extract failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "ffmpeg", "extract failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if !services.IsPermanent(services.Wrap(services.ErrValidation, "transcribe", "payload", "missing video id", nil)) {
		t.Fatal("expected validation error to be permanent")
	}
	if services.IsPermanent(services.Wrap(services.ErrTransient, "transcribe", "recognize", "session dropped", errors.New("io"))) {
		t.Fatal("expected transient error to be retryable")
	}
	if services.IsPermanent(nil) {
		t.Fatal("expected nil to be non-permanent")
	}
}
