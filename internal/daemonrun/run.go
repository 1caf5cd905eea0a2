package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ctscribe/internal/broker"
	"ctscribe/internal/config"
	"ctscribe/internal/daemon"
	"ctscribe/internal/deps"
	"ctscribe/internal/jobstatus"
	"ctscribe/internal/keypool"
	"ctscribe/internal/logging"
	"ctscribe/internal/preflight"
	"ctscribe/internal/recognizer"
	"ctscribe/internal/storage"
	"ctscribe/internal/transcription"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	ResetQueues bool
}

// Run starts the ctscribe daemon and blocks until a signal arrives, ctx ends,
// or a consumer loses its broker connection.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("ctscribed-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update ctscribed.log link: %v\n", err)
	}

	logDependencySnapshot(logger, cfg)
	results := preflight.RunAll(signalCtx, cfg)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
	if err := preflight.Failed(results); err != nil {
		return err
	}

	b, err := OpenBroker(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open broker", logging.Error(err))
		return err
	}
	ledger, err := jobstatus.Open(signalCtx, cfg.JobsDBPath())
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("open job ledger: %w", err)
	}
	worker, pool, err := BuildWorker(signalCtx, cfg, ledger, logger)
	if err != nil {
		_ = errors.Join(b.Close(), ledger.Close())
		return err
	}

	d, err := daemon.New(cfg, daemon.Components{
		Broker: b,
		Ledger: ledger,
		Pool:   pool,
		Worker: worker,
	}, daemon.Options{ResetQueues: opts.ResetQueues}, logger)
	if err != nil {
		_ = errors.Join(b.Close(), ledger.Close())
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	select {
	case <-signalCtx.Done():
		logger.Info("ctscribe daemon shutting down")
		return nil
	case err := <-d.Fatal():
		logging.ErrorWithContext(logger, "ctscribe daemon stopping after consumer failure", "daemon_fatal",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity and restart"),
		)
		return err
	}
}

// OpenBroker connects the configured transport and wraps it in a Broker.
func OpenBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*broker.Broker, error) {
	policy, err := broker.ParseFailurePolicy(cfg.Broker.FailurePolicy)
	if err != nil {
		return nil, err
	}

	var transport broker.Transport
	switch cfg.Broker.Driver {
	case "sqlite":
		transport, err = broker.OpenSQLite(ctx, cfg.QueueDBPath(), cfg.PollInterval(), logger)
	default:
		transport, err = broker.DialAMQP(cfg.Broker.URL, logger)
	}
	if err != nil {
		return nil, err
	}
	return broker.New(transport, broker.Options{
		Prefetch:    cfg.Broker.Prefetch,
		Policy:      policy,
		MaxAttempts: cfg.Broker.MaxAttempts,
		Logger:      logger,
	}), nil
}

// mockCredential stands in for subscription keys when recognition is mocked.
var mockCredential = keypool.Credential{Key: "mock", Region: "local"}

// BuildWorker assembles the credential pool, recognizer, audio extractor, and
// optional S3 publisher into a transcription worker.
func BuildWorker(ctx context.Context, cfg *config.Config, ledger transcription.Ledger, logger *slog.Logger) (*transcription.Worker, *keypool.Pool, error) {
	creds, err := keypool.ParseCredentials(cfg.Speech.SubscriptionKeys)
	if err != nil {
		if !cfg.Speech.MockRecognition {
			return nil, nil, fmt.Errorf("speech.subscription_keys: %w", err)
		}
		creds = []keypool.Credential{mockCredential}
	}
	pool, err := keypool.New(creds, keypool.WithSessionRate(cfg.Speech.SessionsPerMinute))
	if err != nil {
		return nil, nil, err
	}

	var recog recognizer.Recognizer
	if cfg.Speech.MockRecognition {
		logger.Info("mock recognition enabled; no speech service will be contacted")
		recog = recognizer.NewMockRecognizer(logger)
	} else {
		recog = recognizer.NewCommandRecognizer(cfg.Speech.Command, nil, logger)
	}

	workerDeps := transcription.Dependencies{
		Pool:       pool,
		Recognizer: recog,
		Extractor:  recognizer.NewAudioExtractor(cfg.Workflow.FFmpegBinary),
		Ledger:     ledger,
	}
	if cfg.Storage.S3Enabled {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Storage.S3Bucket, cfg.Storage.S3Prefix, cfg.Storage.S3Region, logger)
		if err != nil {
			return nil, nil, err
		}
		workerDeps.Publisher = uploader
	}

	worker, err := transcription.New(cfg, workerDeps, logger)
	if err != nil {
		return nil, nil, err
	}
	return worker, pool, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "ctscribed.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	creds, _ := keypool.ParseCredentials(cfg.Speech.SubscriptionKeys)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("broker_driver", cfg.Broker.Driver),
		logging.String("failure_policy", cfg.Broker.FailurePolicy),
		logging.Int("prefetch", cfg.Broker.Prefetch),
		logging.Int("speech_keys", len(creds)),
		logging.Bool("mock_recognition", cfg.Speech.MockRecognition),
		logging.Bool("s3_enabled", cfg.Storage.S3Enabled),
	}
	for _, status := range deps.CheckBinaries(deps.WorkerRequirements(cfg.Workflow.FFmpegBinary, cfg.Speech.Command, cfg.Speech.MockRecognition)) {
		key := dependencyKey(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key, status.Command),
		)
		if status.Version != "" {
			attrs = append(attrs, logging.String(key+"_version", status.Version))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func dependencyKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
