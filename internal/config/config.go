package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
	StateDir  string `toml:"state_dir"`
}

// Broker contains message broker settings.
type Broker struct {
	// Driver selects the transport: "amqp" (RabbitMQ) or "sqlite" (local durable queue).
	Driver     string `toml:"driver"`
	URL        string `toml:"url"`
	SQLitePath string `toml:"sqlite_path"`
	Prefetch   int    `toml:"prefetch"`
	// FailurePolicy is one of "ack", "requeue", or "dead_letter".
	FailurePolicy      string `toml:"failure_policy"`
	MaxAttempts        int    `toml:"max_attempts"`
	PollIntervalMS     int    `toml:"poll_interval_ms"`
	ResetQueuesOnStart bool   `toml:"reset_queues_on_start"`
}

// Speech contains recognizer settings.
type Speech struct {
	// SubscriptionKeys is a ';' separated list of "key,region" pairs.
	SubscriptionKeys  string `toml:"subscription_keys"`
	Command           string `toml:"command"`
	Language          string `toml:"language"`
	SessionsPerMinute int    `toml:"sessions_per_minute"`
	MockRecognition   bool   `toml:"mock_recognition"`
}

// Captions contains segmentation and rendering settings.
type Captions struct {
	MaxCaptionDurationMS int    `toml:"max_caption_duration_ms"`
	MaxInterwordGapMS    int    `toml:"max_interword_gap_ms"`
	MaxCaptionWords      int    `toml:"max_caption_words"`
	EndOrphanCount       int    `toml:"end_orphan_count"`
	NotableSilenceMS     int    `toml:"notable_silence_ms"`
	FudgeStartGapMS      int    `toml:"fudge_start_gap_ms"`
	MaxLineChars         int    `toml:"max_line_chars"`
	Language             string `toml:"language"`
}

// Storage contains optional remote publication settings.
type Storage struct {
	S3Enabled bool   `toml:"s3_enabled"`
	S3Bucket  string `toml:"s3_bucket"`
	S3Prefix  string `toml:"s3_prefix"`
	S3Region  string `toml:"s3_region"`
}

// Workflow contains job execution settings.
type Workflow struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	KeepAudio    bool   `toml:"keep_audio"`
}

// API contains the daemon status endpoint settings. An empty Bind disables it.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ctscribe.
//
// Configuration sections by subsystem:
//   - Paths: caption output, scratch, log, and state directories
//   - Broker: transport selection, prefetch, and failure policy
//   - Speech: recognizer credentials and bridge command
//   - Captions: segmentation constants and WebVTT language
//   - Storage: optional S3 publication
//   - Workflow: ffmpeg and scratch file handling
//   - API: read-only HTTP status endpoint
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Broker   Broker   `toml:"broker"`
	Speech   Speech   `toml:"speech"`
	Captions Captions `toml:"captions"`
	Storage  Storage  `toml:"storage"`
	Workflow Workflow `toml:"workflow"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ctscribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("ctscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.WorkDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database used by the local broker transport.
func (c *Config) QueueDBPath() string {
	if strings.TrimSpace(c.Broker.SQLitePath) != "" {
		return c.Broker.SQLitePath
	}
	return filepath.Join(c.Paths.StateDir, queueDatabaseFile)
}

// JobsDBPath returns the SQLite database holding the job run ledger.
func (c *Config) JobsDBPath() string {
	return filepath.Join(c.Paths.StateDir, jobsDatabaseFile)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, daemonLockFile)
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, daemonPIDFile)
}

// PollInterval returns the SQLite transport polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Broker.PollIntervalMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
