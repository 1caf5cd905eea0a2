package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ctscribe/internal/logging"
	"ctscribe/internal/services"
)

var (
	// ErrConnectionLost is returned by Consume when deliveries stop while the
	// consumer is still running.
	ErrConnectionLost = errors.New("broker connection lost")
	// ErrMalformedEnvelope marks a message body that is not a valid envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panic")
)

// DefaultPrefetch bounds unacknowledged deliveries per consumer.
const DefaultPrefetch = 10

// FailurePolicy decides how a failed delivery is settled.
type FailurePolicy string

const (
	// PolicyAck logs the failure and acknowledges the message.
	PolicyAck FailurePolicy = "ack"
	// PolicyRequeue negatively acknowledges so the broker redelivers.
	PolicyRequeue FailurePolicy = "requeue"
	// PolicyDeadLetter republishes with an attempt count and parks the job
	// on the dead-letter queue once MaxAttempts is reached.
	PolicyDeadLetter FailurePolicy = "dead_letter"
)

// ParseFailurePolicy accepts ack, requeue, or dead_letter.
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch policy := FailurePolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case PolicyAck, PolicyRequeue, PolicyDeadLetter:
		return policy, nil
	case "":
		return PolicyAck, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", value)
	}
}

// Options configures a Broker.
type Options struct {
	Prefetch    int
	Policy      FailurePolicy
	MaxAttempts int
	Logger      *slog.Logger
}

// Broker publishes and consumes envelopes over a Transport.
type Broker struct {
	transport Transport
	prefetch  int
	policy    FailurePolicy
	attempts  int
	logger    *slog.Logger
}

// New wraps transport. Zero options select prefetch 10, PolicyAck, and three attempts.
func New(transport Transport, opts Options) *Broker {
	b := &Broker{
		transport: transport,
		prefetch:  opts.Prefetch,
		policy:    opts.Policy,
		attempts:  opts.MaxAttempts,
		logger:    logging.NewComponentLogger(opts.Logger, "broker"),
	}
	if b.prefetch <= 0 {
		b.prefetch = DefaultPrefetch
	}
	if b.policy == "" {
		b.policy = PolicyAck
	}
	if b.attempts <= 0 {
		b.attempts = 3
	}
	return b
}

// Transport exposes the underlying transport.
func (b *Broker) Transport() Transport { return b.transport }

// Prefetch returns the configured consumer prefetch.
func (b *Broker) Prefetch() int { return b.prefetch }

// Close closes the transport.
func (b *Broker) Close() error {
	if b == nil || b.transport == nil {
		return nil
	}
	return b.transport.Close()
}

// Publish declares queue and enqueues payload wrapped with params.
func Publish[T any](ctx context.Context, b *Broker, queue string, payload T, params Parameters) error {
	body, err := Encode(payload, params)
	if err != nil {
		return err
	}
	return b.publishBody(ctx, queue, body, 0)
}

func (b *Broker) publishBody(ctx context.Context, queue string, body []byte, attempt int) error {
	if err := b.transport.Declare(ctx, queue); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	msg := Message{ID: uuid.NewString(), Body: body, Attempt: attempt, PublishedAt: time.Now().UTC()}
	if err := b.transport.Publish(ctx, queue, msg); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// Handler processes one decoded job.
type Handler[T any] func(ctx context.Context, payload T, params Parameters) error

// Consume declares queue and runs handler for every delivery until ctx ends.
// Up to prefetch handlers run concurrently. It returns nil on cancellation
// and ErrConnectionLost if the transport stops delivering first.
func Consume[T any](ctx context.Context, b *Broker, queue string, handler Handler[T]) error {
	if err := b.transport.Declare(ctx, queue); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	deliveries, err := b.transport.Consume(ctx, queue, b.prefetch)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	b.logger.Info("consumer started",
		logging.String(logging.FieldJobQueue, queue),
		logging.Int("prefetch", b.prefetch),
		logging.String("failure_policy", string(b.policy)),
	)

	var wg sync.WaitGroup
	for range b.prefetch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range deliveries {
				b.process(ctx, queue, delivery, func(jobCtx context.Context, body []byte) error {
					env, err := Decode[T](body)
					if err != nil {
						return err
					}
					return handler(jobCtx, env.Payload, env.Parameters)
				})
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		b.logger.Info("consumer stopped", logging.String(logging.FieldJobQueue, queue))
		return nil
	}
	return fmt.Errorf("%w: %s delivery stream closed", ErrConnectionLost, queue)
}

func (b *Broker) process(ctx context.Context, queue string, delivery Delivery, run func(context.Context, []byte) error) {
	msg := delivery.Message()
	jobCtx := services.WithJobQueue(ctx, queue)
	jobCtx = services.WithRequestID(jobCtx, msg.ID)
	logger := logging.WithContext(jobCtx, b.logger)

	err := invoke(jobCtx, msg.Body, run)
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			logging.ErrorWithContext(logger, "ack failed", "broker_ack_failed", logging.Error(ackErr))
		}
		return
	}

	if ctx.Err() != nil {
		logger.Info("job interrupted by shutdown", logging.Error(err))
	} else {
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.Int("attempt", msg.Attempt+1),
			logging.String(logging.FieldErrorHint, "see job ledger for outcome"),
		)
	}
	b.settleFailure(ctx, queue, delivery, msg, err, logger)
}

func invoke(ctx context.Context, body []byte, run func(context.Context, []byte) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return run(ctx, body)
}

func (b *Broker) settleFailure(ctx context.Context, queue string, delivery Delivery, msg Message, cause error, logger *slog.Logger) {
	if ctx.Err() != nil {
		// Interrupted by shutdown rather than failed; hand the job back.
		if err := delivery.Nack(true); err != nil {
			logging.ErrorWithContext(logger, "requeue on shutdown failed", "broker_nack_failed", logging.Error(err))
		}
		return
	}
	permanent := errors.Is(cause, ErrMalformedEnvelope) || services.IsPermanent(cause)

	switch b.policy {
	case PolicyRequeue:
		if !permanent {
			if err := delivery.Nack(true); err != nil {
				logging.ErrorWithContext(logger, "requeue failed", "broker_nack_failed", logging.Error(err))
			}
			return
		}
	case PolicyDeadLetter:
		attempt := msg.Attempt + 1
		target := queue
		if permanent || attempt >= b.attempts {
			target = DeadLetterQueue(queue)
		}
		if err := b.publishBody(ctx, target, msg.Body, attempt); err != nil {
			logging.ErrorWithContext(logger, "dead-letter republish failed; requeueing", "broker_republish_failed", logging.Error(err))
			if nackErr := delivery.Nack(true); nackErr != nil {
				logging.ErrorWithContext(logger, "requeue failed", "broker_nack_failed", logging.Error(nackErr))
			}
			return
		}
		if target != queue {
			logging.WarnWithContext(logger, "job parked on dead-letter queue", "job_dead_lettered",
				logging.String("dead_letter_queue", target),
				logging.Int("attempts", attempt),
				logging.String(logging.FieldErrorHint, "inspect and republish the parked job"),
			)
		}
	}

	if err := delivery.Ack(); err != nil {
		logging.ErrorWithContext(logger, "ack failed", "broker_ack_failed", logging.Error(err))
	}
}

// DeleteAllQueues removes every job queue and its dead-letter queue. A
// failure on one queue is logged and does not stop the others; the combined
// error is returned at the end.
func (b *Broker) DeleteAllQueues(ctx context.Context) error {
	var errs []error
	for _, queue := range JobTypes {
		for _, name := range []string{queue, DeadLetterQueue(queue)} {
			if err := b.transport.Delete(ctx, name); err != nil {
				logging.WarnWithContext(b.logger, "queue delete failed", "queue_delete_failed",
					logging.String(logging.FieldJobQueue, name),
					logging.Error(err),
				)
				errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
				continue
			}
			b.logger.Info("queue deleted", logging.String(logging.FieldJobQueue, name))
		}
	}
	return errors.Join(errs...)
}

// Inspect reports depth for each job queue when the transport supports it.
func (b *Broker) Inspect(ctx context.Context) ([]QueueStats, error) {
	inspector, ok := b.transport.(Inspector)
	if !ok {
		return nil, errors.New("transport does not support queue inspection")
	}
	var stats []QueueStats
	for _, queue := range JobTypes {
		for _, name := range []string{queue, DeadLetterQueue(queue)} {
			s, err := inspector.Inspect(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", name, err)
			}
			stats = append(stats, s)
		}
	}
	return stats, nil
}
