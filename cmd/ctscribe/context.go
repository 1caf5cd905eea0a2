package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"ctscribe/internal/broker"
	"ctscribe/internal/config"
	"ctscribe/internal/daemonrun"
	"ctscribe/internal/jobstatus"
	"ctscribe/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// withBroker opens the configured transport for one command.
func (c *commandContext) withBroker(ctx context.Context, fn func(*broker.Broker) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	b, err := daemonrun.OpenBroker(ctx, cfg, logging.NewNop())
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer b.Close()
	return fn(b)
}

func (c *commandContext) withLedger(ctx context.Context, fn func(*jobstatus.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ledger, err := jobstatus.Open(ctx, cfg.JobsDBPath())
	if err != nil {
		return fmt.Errorf("open job ledger: %w", err)
	}
	defer ledger.Close()
	return fn(ledger)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
