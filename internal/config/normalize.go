package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBroker(); err != nil {
		return err
	}
	c.normalizeSpeech()
	c.normalizeCaptions()
	c.normalizeStorage()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if value, ok := os.LookupEnv("CTSCRIBE_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.API.Token = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Workflow.FFmpegBinary) == "" {
		c.Workflow.FFmpegBinary = defaultFFmpegBinary
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBroker() error {
	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	if c.Broker.Driver == "" {
		c.Broker.Driver = defaultBrokerDriver
	}
	if value, ok := os.LookupEnv("RABBITMQ_URL"); ok && strings.TrimSpace(value) != "" {
		c.Broker.URL = strings.TrimSpace(value)
	}
	c.Broker.URL = strings.TrimSpace(c.Broker.URL)
	if value, ok := os.LookupEnv("RABBITMQ_PREFETCH"); ok && strings.TrimSpace(value) != "" {
		prefetch, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("RABBITMQ_PREFETCH: %w", err)
		}
		c.Broker.Prefetch = prefetch
	}
	if c.Broker.Prefetch == 0 {
		c.Broker.Prefetch = defaultBrokerPrefetch
	}
	c.Broker.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Broker.FailurePolicy))
	if c.Broker.FailurePolicy == "" {
		c.Broker.FailurePolicy = defaultFailurePolicy
	}
	if c.Broker.MaxAttempts == 0 {
		c.Broker.MaxAttempts = defaultMaxAttempts
	}
	if c.Broker.PollIntervalMS == 0 {
		c.Broker.PollIntervalMS = defaultPollIntervalMS
	}
	if strings.TrimSpace(c.Broker.SQLitePath) != "" {
		expanded, err := expandPath(c.Broker.SQLitePath)
		if err != nil {
			return fmt.Errorf("broker.sqlite_path: %w", err)
		}
		c.Broker.SQLitePath = expanded
	}
	return nil
}

func (c *Config) normalizeSpeech() {
	if value, ok := os.LookupEnv("AZURE_SUBSCRIPTION_KEYS"); ok && strings.TrimSpace(value) != "" {
		c.Speech.SubscriptionKeys = value
	}
	c.Speech.SubscriptionKeys = strings.TrimSpace(c.Speech.SubscriptionKeys)
	if value, ok := os.LookupEnv("MOCK_RECOGNITION"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			c.Speech.MockRecognition = parsed
		}
	}
	c.Speech.Command = strings.TrimSpace(c.Speech.Command)
	if c.Speech.Command == "" {
		c.Speech.Command = defaultSpeechCommand
	}
	c.Speech.Language = strings.TrimSpace(c.Speech.Language)
	if c.Speech.Language == "" {
		c.Speech.Language = defaultSpeechLanguage
	}
}

func (c *Config) normalizeCaptions() {
	if c.Captions.MaxCaptionDurationMS == 0 {
		c.Captions.MaxCaptionDurationMS = defaultMaxCaptionDuration
	}
	if c.Captions.MaxInterwordGapMS == 0 {
		c.Captions.MaxInterwordGapMS = defaultMaxInterwordGap
	}
	if c.Captions.MaxCaptionWords == 0 {
		c.Captions.MaxCaptionWords = defaultMaxCaptionWords
	}
	if c.Captions.NotableSilenceMS == 0 {
		c.Captions.NotableSilenceMS = defaultNotableSilence
	}
	if c.Captions.MaxLineChars == 0 {
		c.Captions.MaxLineChars = defaultMaxLineChars
	}
	c.Captions.Language = strings.TrimSpace(c.Captions.Language)
	if c.Captions.Language == "" {
		c.Captions.Language = defaultCaptionLanguage
	}
}

func (c *Config) normalizeStorage() {
	if value, ok := os.LookupEnv("CTSCRIBE_S3_BUCKET"); ok && strings.TrimSpace(value) != "" {
		c.Storage.S3Bucket = strings.TrimSpace(value)
	}
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	c.Storage.S3Prefix = strings.TrimLeft(strings.TrimSpace(c.Storage.S3Prefix), "/")
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
