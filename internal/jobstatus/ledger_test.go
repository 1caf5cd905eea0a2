package jobstatus_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"ctscribe/internal/jobstatus"
	"ctscribe/internal/keypool"
	"ctscribe/internal/services"
)

func openLedger(t *testing.T) (*jobstatus.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	ledger, err := jobstatus.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger, path
}

func TestClassify(t *testing.T) {
	busy := fmt.Errorf("acquire: %w", keypool.ErrResourceBusy)
	cases := []struct {
		name    string
		outcome jobstatus.Outcome
		want    jobstatus.Status
	}{
		{"success", jobstatus.Outcome{CueCount: 3}, jobstatus.StatusCompleted},
		{"skip", jobstatus.Outcome{Skipped: true}, jobstatus.StatusSkipped},
		{"busy", jobstatus.Outcome{Err: busy}, jobstatus.StatusRejected},
		{"failure", jobstatus.Outcome{Err: errors.New("bridge crashed")}, jobstatus.StatusFailed},
		{"skip with error", jobstatus.Outcome{Skipped: true, Err: errors.New("x")}, jobstatus.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := jobstatus.Classify(tc.outcome); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStartFinishAndList(t *testing.T) {
	ledger, _ := openLedger(t)
	ctx := services.WithRequestID(context.Background(), "msg-1")

	run, err := ledger.Start(ctx, "Transcribe", "video-1", true)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if run.Status != jobstatus.StatusRunning || run.CorrelationID != "msg-1" {
		t.Fatalf("unexpected run %+v", run)
	}

	outputs := []string{"/out/video-1.srt", "/out/video-1.vtt"}
	if err := ledger.Finish(ctx, run, jobstatus.Outcome{Region: "westus", CueCount: 12, SkippedWords: 1, Outputs: outputs}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	failed, err := ledger.Start(ctx, "Transcribe", "video-2", false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	wrapped := services.Wrap(services.ErrExternalTool, "recognize", "bridge exit", "boom", nil)
	if err := ledger.Finish(ctx, failed, jobstatus.Outcome{Err: wrapped}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	runs, err := ledger.List(context.Background(), jobstatus.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ResourceID != "video-2" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[0].Status != jobstatus.StatusFailed || runs[0].ErrorMessage == "" {
		t.Fatalf("expected failed run with message, got %+v", runs[0])
	}
	done := runs[1]
	if done.Status != jobstatus.StatusCompleted || !done.Force || done.Region != "westus" || done.CueCount != 12 || done.SkippedWords != 1 {
		t.Fatalf("unexpected completed run %+v", done)
	}
	if len(done.Outputs) != 2 || done.Outputs[1] != outputs[1] {
		t.Fatalf("unexpected outputs %v", done.Outputs)
	}
	if done.FinishedAt.Before(done.StartedAt) {
		t.Fatalf("finish before start: %+v", done)
	}

	filtered, err := ledger.List(context.Background(), jobstatus.Filter{Status: jobstatus.StatusCompleted})
	if err != nil || len(filtered) != 1 {
		t.Fatalf("expected one completed run, got %d (%v)", len(filtered), err)
	}

	latest, ok, err := ledger.Latest(context.Background(), "video-1")
	if err != nil || !ok || latest.ID != run.ID {
		t.Fatalf("Latest = %+v, %v, %v", latest, ok, err)
	}
	if _, ok, _ := ledger.Latest(context.Background(), "missing"); ok {
		t.Fatal("expected no run for unknown resource")
	}
}

func TestFinishSurvivesCancelledContext(t *testing.T) {
	ledger, _ := openLedger(t)
	run, err := ledger.Start(context.Background(), "Transcribe", "video-1", false)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ledger.Finish(ctx, run, jobstatus.Outcome{Err: context.Canceled}); err != nil {
		t.Fatalf("Finish with cancelled context failed: %v", err)
	}
}

func TestStatsAndAbandon(t *testing.T) {
	ledger, path := openLedger(t)
	ctx := context.Background()
	for i := range 3 {
		run, err := ledger.Start(ctx, "Transcribe", fmt.Sprintf("video-%d", i), false)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if i == 0 {
			if err := ledger.Finish(ctx, run, jobstatus.Outcome{Skipped: true}); err != nil {
				t.Fatalf("Finish failed: %v", err)
			}
		}
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := jobstatus.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	abandoned, err := reopened.AbandonRunning(ctx)
	if err != nil {
		t.Fatalf("AbandonRunning failed: %v", err)
	}
	if abandoned != 2 {
		t.Fatalf("expected 2 abandoned runs, got %d", abandoned)
	}
	stats, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[jobstatus.StatusSkipped] != 1 || stats[jobstatus.StatusFailed] != 2 || stats[jobstatus.StatusRunning] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
