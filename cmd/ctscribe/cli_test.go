package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ctscribe/internal/broker"
	"ctscribe/internal/config"
	"ctscribe/internal/jobstatus"
	"ctscribe/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_PREFETCH", "")
	t.Setenv("AZURE_SUBSCRIPTION_KEYS", "")
	t.Setenv("MOCK_RECOGNITION", "")

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "ctscribe.toml")
	contents := fmt.Sprintf(`
[paths]
output_dir = %q
work_dir = %q
log_dir = %q
state_dir = %q

[broker]
driver = "sqlite"
poll_interval_ms = 10

[speech]
subscription_keys = %q

[captions]
language = "fr"
`, cfg.Paths.OutputDir, cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.StateDir, cfg.Speech.SubscriptionKeys)
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if env != nil {
		args = append([]string{"--config", env.configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q:\n%s", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "sqlite")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, nil, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, nil, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestPublishAndQueueStats(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "publish", "transcribe", "lec-7", "/media/lec-7.mp4",
		"--force", "--meta", "language=de", "--meta", "phrase_hints=eigenvalue;Hilbert")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	requireContains(t, out, "Queued Transcribe for lec-7")

	out, err = runCLI(t, env, "queues", "stats", "--json")
	if err != nil {
		t.Fatalf("queues stats: %v", err)
	}
	var stats []broker.QueueStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out)
	}
	ready := map[string]int{}
	for _, s := range stats {
		ready[s.Queue] = s.Ready
	}
	if ready[broker.QueueTranscribe] != 1 || ready[broker.QueueGenerateCaptionFiles] != 0 {
		t.Fatalf("unexpected queue depths %+v", ready)
	}

	out, err = runCLI(t, env, "queues", "stats")
	if err != nil {
		t.Fatalf("queues stats table: %v", err)
	}
	requireContains(t, out, "Transcribe.dead")
}

func TestPublishRejectsBadMetadata(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "publish", "captions", "lec-1", "/media/lec-1.mp4", "--meta", "novalue"); err == nil {
		t.Fatal("expected error for metadata without '='")
	}
	if _, err := runCLI(t, env, "publish", "transcribe", " ", "/media/lec-1.mp4"); err == nil {
		t.Fatal("expected error for blank video id")
	}
}

func TestQueuesResetRequiresConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "publish", "captions", "lec-2", "/media/lec-2.mp4"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := runCLI(t, env, "queues", "reset"); err == nil {
		t.Fatal("expected reset without --yes to fail")
	}
	out, err := runCLI(t, env, "queues", "reset", "--yes")
	if err != nil {
		t.Fatalf("queues reset: %v", err)
	}
	requireContains(t, out, "Deleted 4 queues")

	out, err = runCLI(t, env, "queues", "stats", "--json")
	if err != nil {
		t.Fatalf("queues stats: %v", err)
	}
	var stats []broker.QueueStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, s := range stats {
		if s.Ready != 0 {
			t.Fatalf("expected empty queue after reset, got %+v", s)
		}
	}
}

func TestJobsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "No job runs recorded")

	ledger := testsupport.MustOpenLedger(t, env.cfg)
	ctx := context.Background()
	run, err := ledger.Start(ctx, broker.QueueTranscribe, "lec-3", true)
	if err != nil {
		t.Fatalf("ledger.Start: %v", err)
	}
	if err := ledger.Finish(ctx, run, jobstatus.Outcome{CueCount: 12, Region: "westus", Outputs: []string{"/out/lec-3.srt"}}); err != nil {
		t.Fatalf("ledger.Finish: %v", err)
	}

	out, err = runCLI(t, env, "jobs", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "lec-3")

	out, err = runCLI(t, env, "jobs", "show", "lec-3")
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "westus")
	requireContains(t, out, "/out/lec-3.srt")

	out, err = runCLI(t, env, "jobs", "stats")
	if err != nil {
		t.Fatalf("jobs stats: %v", err)
	}
	requireContains(t, out, "completed")

	if _, err := runCLI(t, env, "jobs", "list", "--status", "exploded"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	if _, err := runCLI(t, env, "jobs", "show", "missing"); err == nil {
		t.Fatal("expected show for unknown video to fail")
	}
}

func TestCaptionsSegmentAndRender(t *testing.T) {
	env := setupCLITestEnv(t)
	wordsPath := filepath.Join(env.baseDir, "talk.json")
	words := `[
  {"word": "Hello", "offset": 0, "duration": 3000000},
  {"word": "world", "offset": 3200000, "duration": 2000000},
  {"word": "", "offset": 5000000, "duration": 10}
]`
	if err := os.WriteFile(wordsPath, []byte(words), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "captions", "segment", wordsPath)
	if err != nil {
		t.Fatalf("captions segment: %v", err)
	}
	requireContains(t, out, "Wrote 1 cues")
	requireContains(t, out, "Skipped 1 malformed words")

	srt, err := os.ReadFile(filepath.Join(env.baseDir, "talk.srt"))
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	if string(srt) != "1\n00:00:00,000 --> 00:00:00,520\nHello world\n\n" {
		t.Fatalf("unexpected srt:\n%q", srt)
	}
	vtt, err := os.ReadFile(filepath.Join(env.baseDir, "talk.vtt"))
	if err != nil {
		t.Fatalf("read vtt: %v", err)
	}
	requireContains(t, string(vtt), "Language: fr")

	longSRT := filepath.Join(env.baseDir, "long.srt")
	content := "1\n00:00:00,000 --> 00:00:04,000\nthe quick brown fox jumps over the lazy dog again\n\n"
	if err := os.WriteFile(longSRT, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, env, "captions", "render", longSRT, "--max-line-chars", "20", "--out", filepath.Join(env.baseDir, "split"))
	if err != nil {
		t.Fatalf("captions render: %v", err)
	}
	requireContains(t, out, "(1 before splitting)")
	rendered, err := os.ReadFile(filepath.Join(env.baseDir, "split.srt"))
	if err != nil {
		t.Fatalf("read rendered srt: %v", err)
	}
	if !strings.Contains(string(rendered), "2\n") {
		t.Fatalf("expected long cue to be split:\n%s", rendered)
	}
	if _, err := os.Stat(filepath.Join(env.baseDir, "split.cues.json")); !os.IsNotExist(err) {
		t.Fatalf("render must not write a cue sidecar, stat err=%v", err)
	}

	if _, err := runCLI(t, env, "captions", "render", wordsPath); err == nil {
		t.Fatal("expected unsupported input to fail")
	}
}

func TestCheckAndDaemonStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "check")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "Speech credentials")
	requireContains(t, out, "[OK]")

	out, err = runCLI(t, env, "daemon", "status")
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "not running")

	if _, err := runCLI(t, env, "daemon", "stop"); err == nil {
		t.Fatal("expected stop to fail when no daemon runs")
	}
}
