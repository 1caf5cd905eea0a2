package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateSpeech(); err != nil {
		return err
	}
	if err := c.validateCaptions(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBroker() error {
	switch c.Broker.Driver {
	case "amqp":
		if c.Broker.URL == "" {
			return errors.New("broker.url is required for the amqp driver (set RABBITMQ_URL or edit the config file)")
		}
	case "sqlite":
	default:
		return fmt.Errorf("broker.driver must be amqp or sqlite, got %q", c.Broker.Driver)
	}
	if c.Broker.Prefetch < 1 {
		return errors.New("broker.prefetch must be positive")
	}
	switch c.Broker.FailurePolicy {
	case "ack", "requeue", "dead_letter":
	default:
		return fmt.Errorf("broker.failure_policy must be ack, requeue, or dead_letter, got %q", c.Broker.FailurePolicy)
	}
	if c.Broker.MaxAttempts < 1 {
		return errors.New("broker.max_attempts must be positive")
	}
	if c.Broker.PollIntervalMS < 1 {
		return errors.New("broker.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateSpeech() error {
	if c.Speech.SessionsPerMinute < 0 {
		return errors.New("speech.sessions_per_minute must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateCaptions() error {
	checks := []struct {
		name  string
		value int
	}{
		{"captions.max_caption_duration_ms", c.Captions.MaxCaptionDurationMS},
		{"captions.max_interword_gap_ms", c.Captions.MaxInterwordGapMS},
		{"captions.max_caption_words", c.Captions.MaxCaptionWords},
		{"captions.notable_silence_ms", c.Captions.NotableSilenceMS},
		{"captions.max_line_chars", c.Captions.MaxLineChars},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive", check.name)
		}
	}
	if c.Captions.EndOrphanCount < 0 {
		return errors.New("captions.end_orphan_count must not be negative")
	}
	if c.Captions.FudgeStartGapMS < 0 {
		return errors.New("captions.fudge_start_gap_ms must not be negative")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.S3Enabled && c.Storage.S3Bucket == "" {
		return errors.New("storage.s3_bucket is required when storage.s3_enabled is true (set CTSCRIBE_S3_BUCKET or edit the config file)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
