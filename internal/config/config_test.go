package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ctscribe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_PREFETCH", "")
	t.Setenv("AZURE_SUBSCRIPTION_KEYS", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantOutput := filepath.Join(tempHome, ".local", "share", "ctscribe", "captions")
	if cfg.Paths.OutputDir != wantOutput {
		t.Fatalf("unexpected output dir: got %q want %q", cfg.Paths.OutputDir, wantOutput)
	}
	if cfg.Broker.Prefetch != 10 {
		t.Fatalf("expected default prefetch 10, got %d", cfg.Broker.Prefetch)
	}
	if cfg.Broker.FailurePolicy != "ack" {
		t.Fatalf("expected ack failure policy by default, got %q", cfg.Broker.FailurePolicy)
	}
	if cfg.Captions.MaxCaptionWords != 6 || cfg.Captions.EndOrphanCount != 3 {
		t.Fatalf("unexpected caption defaults: %+v", cfg.Captions)
	}
	if cfg.QueueDBPath() != filepath.Join(cfg.Paths.StateDir, "queue.db") {
		t.Fatalf("unexpected queue db path %q", cfg.QueueDBPath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("RABBITMQ_PREFETCH", "")
	configPath := filepath.Join(t.TempDir(), "ctscribe.toml")

	type payload struct {
		Broker struct {
			Driver        string `toml:"driver"`
			Prefetch      int    `toml:"prefetch"`
			FailurePolicy string `toml:"failure_policy"`
		} `toml:"broker"`
		Captions struct {
			MaxLineChars int `toml:"max_line_chars"`
		} `toml:"captions"`
	}
	custom := payload{}
	custom.Broker.Driver = "sqlite"
	custom.Broker.Prefetch = 4
	custom.Broker.FailurePolicy = "dead_letter"
	custom.Captions.MaxLineChars = 75
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Broker.Driver != "sqlite" || cfg.Broker.Prefetch != 4 || cfg.Broker.FailurePolicy != "dead_letter" {
		t.Fatalf("unexpected broker config: %+v", cfg.Broker)
	}
	if cfg.Captions.MaxLineChars != 75 {
		t.Fatalf("expected max line chars 75, got %d", cfg.Captions.MaxLineChars)
	}
	if cfg.Captions.MaxCaptionDurationMS != 8000 {
		t.Fatalf("expected untouched default duration, got %d", cfg.Captions.MaxCaptionDurationMS)
	}
}

func TestEnvVarsOverrideConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ctscribe.toml")
	contents := `
[broker]
url = "amqp://file/"
prefetch = 2

[speech]
subscription_keys = "file-key,westus"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RABBITMQ_URL", "amqp://env/")
	t.Setenv("RABBITMQ_PREFETCH", "7")
	t.Setenv("AZURE_SUBSCRIPTION_KEYS", "k1,eastus;k2,westus")
	t.Setenv("MOCK_RECOGNITION", "true")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Broker.URL != "amqp://env/" {
		t.Errorf("expected broker url from env, got %q", cfg.Broker.URL)
	}
	if cfg.Broker.Prefetch != 7 {
		t.Errorf("expected prefetch from env, got %d", cfg.Broker.Prefetch)
	}
	if cfg.Speech.SubscriptionKeys != "k1,eastus;k2,westus" {
		t.Errorf("expected subscription keys from env, got %q", cfg.Speech.SubscriptionKeys)
	}
	if !cfg.Speech.MockRecognition {
		t.Error("expected mock recognition from env")
	}
}

func TestInvalidPrefetchEnvIsRejected(t *testing.T) {
	t.Setenv("RABBITMQ_PREFETCH", "lots")
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for non-numeric RABBITMQ_PREFETCH")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_speech_key_here") {
		t.Fatalf("sample config missing placeholder speech key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Broker.Prefetch != 10 {
		t.Fatalf("expected sample prefetch 10, got %d", cfg.Broker.Prefetch)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Broker.Driver = "kafka" }},
		{"amqp without url", func(c *config.Config) { c.Broker.URL = "" }},
		{"zero prefetch", func(c *config.Config) { c.Broker.Prefetch = 0 }},
		{"unknown policy", func(c *config.Config) { c.Broker.FailurePolicy = "retry" }},
		{"zero attempts", func(c *config.Config) { c.Broker.MaxAttempts = 0 }},
		{"negative pacing", func(c *config.Config) { c.Speech.SessionsPerMinute = -1 }},
		{"zero words", func(c *config.Config) { c.Captions.MaxCaptionWords = 0 }},
		{"negative fudge", func(c *config.Config) { c.Captions.FudgeStartGapMS = -5 }},
		{"s3 without bucket", func(c *config.Config) { c.Storage.S3Enabled = true }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
