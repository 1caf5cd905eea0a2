package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ctscribe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Command
		switch {
		case !status.Available:
			detail = status.Detail
		case status.Version != "":
			detail = fmt.Sprintf("%s (%s)", status.Command, status.Version)
		}
		results = append(results, Result{
			Name:   status.Name,
			Passed: status.Available || status.Optional,
			Detail: detail,
		})
	}

	// Mock recognition needs no speech credentials.
	if !cfg.Speech.MockRecognition {
		results = append(results, CheckCredentials(cfg.Speech.SubscriptionKeys))
	}

	results = append(results, CheckBroker(ctx, cfg))

	if cfg.Storage.S3Enabled {
		results = append(results, CheckS3Config(cfg.Storage))
	}

	return results
}

// Failed returns an error naming every failed result, or nil.
func Failed(results []Result) error {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return errors.New("preflight failed: " + strings.Join(failures, "; "))
}
