package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"ctscribe/internal/broker"
	"ctscribe/internal/config"
	"ctscribe/internal/jobstatus"
	"ctscribe/internal/keypool"
	"ctscribe/internal/logging"
	"ctscribe/internal/transcription"
)

// ErrAlreadyRunning reports that another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another ctscribe daemon instance is already running")

// Components are the collaborators a Daemon drives.
type Components struct {
	Broker *broker.Broker
	Ledger *jobstatus.Ledger
	Pool   *keypool.Pool
	Worker *transcription.Worker
}

// Options tune startup behavior.
type Options struct {
	// ResetQueues deletes every pipeline queue before consuming.
	ResetQueues bool
}

type leaseRecoverer interface {
	RecoverLeases(ctx context.Context) (int64, error)
}

// Daemon coordinates the queue consumers and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	comp   Components
	opts   Options
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fatal   chan error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	Driver       string
	Queues       []broker.QueueStats
	QueueError   string
	Jobs         map[jobstatus.Status]int
	Credentials  []keypool.Load
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, comp Components, opts Options, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comp.Broker == nil || comp.Ledger == nil || comp.Worker == nil {
		return nil, errors.New("daemon requires config, broker, ledger, and worker")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		comp:     comp,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		fatal:    make(chan error, len(broker.JobTypes)),
	}
	d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, d, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers crash state, and launches one
// consumer per job queue.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.recover(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.consume(runCtx, broker.QueueTranscribe, func(ctx context.Context) error {
		return broker.Consume(ctx, d.comp.Broker, broker.QueueTranscribe, d.comp.Worker.HandleTranscribe)
	})
	d.consume(runCtx, broker.QueueGenerateCaptionFiles, func(ctx context.Context) error {
		return broker.Consume(ctx, d.comp.Broker, broker.QueueGenerateCaptionFiles, d.comp.Worker.HandleGenerateCaptionFiles)
	})

	d.running.Store(true)
	d.logger.Info("ctscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("driver", d.cfg.Broker.Driver),
		logging.Int("prefetch", d.comp.Broker.Prefetch()),
	)
	return nil
}

func (d *Daemon) recover(ctx context.Context) error {
	if recoverer, ok := d.comp.Broker.Transport().(leaseRecoverer); ok {
		recovered, err := recoverer.RecoverLeases(ctx)
		if err != nil {
			return fmt.Errorf("recover leased messages: %w", err)
		}
		if recovered > 0 {
			d.logger.Info("requeued messages leased by a previous run", logging.Int64("count", recovered))
		}
	}

	abandoned, err := d.comp.Ledger.AbandonRunning(ctx)
	if err != nil {
		return fmt.Errorf("abandon stale runs: %w", err)
	}
	if abandoned > 0 {
		logging.WarnWithContext(d.logger, "marked interrupted runs failed", "ledger_runs_abandoned",
			logging.Int64("count", abandoned),
		)
	}

	if d.opts.ResetQueues || d.cfg.Broker.ResetQueuesOnStart {
		if err := d.comp.Broker.DeleteAllQueues(ctx); err != nil {
			logging.WarnWithContext(d.logger, "queue reset incomplete", "queue_reset_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check broker permissions"),
			)
		} else {
			d.logger.Info("pipeline queues reset")
		}
	}
	return nil
}

func (d *Daemon) consume(ctx context.Context, queue string, run func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(ctx); err != nil {
			logging.ErrorWithContext(d.logger, "consumer exited", "consumer_failed",
				logging.String(logging.FieldJobQueue, queue),
				logging.Error(err),
			)
			d.fatal <- fmt.Errorf("%s consumer: %w", queue, err)
		}
	}()
}

// Fatal delivers consumer failures. A daemon whose consumer failed keeps
// the remaining consumers running until Stop.
func (d *Daemon) Fatal() <-chan error {
	return d.fatal
}

// Stop cancels the consumers, waits for in-flight jobs to settle, and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("ctscribe daemon stopped")
}

// Close stops the daemon and closes the broker and ledger.
func (d *Daemon) Close() error {
	d.Stop()
	return errors.Join(d.comp.Broker.Close(), d.comp.Ledger.Close())
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Driver:       d.cfg.Broker.Driver,
	}
	queues, err := d.comp.Broker.Inspect(ctx)
	if err != nil {
		status.QueueError = err.Error()
	}
	status.Queues = queues
	if jobs, err := d.comp.Ledger.Stats(ctx); err == nil {
		status.Jobs = jobs
	}
	if d.comp.Pool != nil {
		status.Credentials = d.comp.Pool.Snapshot()
	}
	return status
}

// APIAddr returns the status endpoint's listen address, or "" when disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}
