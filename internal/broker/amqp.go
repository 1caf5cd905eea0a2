package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"ctscribe/internal/logging"
)

const attemptHeader = "x-ctscribe-attempt"

// amqpChannel is the subset of *amqp.Channel the transport uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// AMQPTransport talks to RabbitMQ. All channel operations, including
// acknowledgements, are serialized because AMQP channels are not safe for
// concurrent use.
type AMQPTransport struct {
	mu     sync.Mutex
	conn   io.Closer
	ch     amqpChannel
	logger *slog.Logger
}

// DialAMQP connects to url and opens one channel.
func DialAMQP(url string, logger *slog.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return newAMQPTransport(conn, ch, logger), nil
}

func newAMQPTransport(conn io.Closer, ch amqpChannel, logger *slog.Logger) *AMQPTransport {
	return &AMQPTransport{conn: conn, ch: ch, logger: logging.NewComponentLogger(logger, "amqp")}
}

// Declare creates queue as durable, non-exclusive, and non-auto-delete.
func (t *AMQPTransport) Declare(_ context.Context, queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

// Publish sends a persistent message through the default exchange.
func (t *AMQPTransport) Publish(ctx context.Context, queue string, msg Message) error {
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.PublishedAt,
		Headers:      amqp.Table{attemptHeader: int32(msg.Attempt)},
		Body:         msg.Body,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch.PublishWithContext(ctx, "", queue, false, false, publishing)
}

// Consume applies prefetch and forwards deliveries until ctx ends or the
// server closes the channel.
func (t *AMQPTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	tag := fmt.Sprintf("ctscribe-%s-%s", queue, uuid.NewString()[:8])

	t.mu.Lock()
	if err := t.ch.Qos(prefetch, 0, false); err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	raw, err := t.ch.Consume(queue, tag, false, false, false, false, nil)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.cancel(tag)
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := &amqpDelivery{transport: t, raw: d}
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = delivery.Nack(true)
					t.cancel(tag)
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *AMQPTransport) cancel(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ch.Cancel(tag, false); err != nil {
		t.logger.Debug("consumer cancel failed", logging.String("consumer", tag), logging.Error(err))
	}
}

// Delete removes queue regardless of consumers or contents.
func (t *AMQPTransport) Delete(_ context.Context, queue string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.ch.QueueDelete(queue, false, false, false)
	return err
}

// Inspect reports ready messages and consumers. Unacknowledged counts are
// not exposed by AMQP queue declarations.
func (t *AMQPTransport) Inspect(_ context.Context, queue string) (QueueStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, err := t.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Queue: queue, Ready: q.Messages, Consumers: q.Consumers}, nil
}

// Close closes the channel and the connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	if t.ch != nil {
		if err := t.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			firstErr = err
		}
	}
	if t.conn != nil {
		if err := t.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type amqpDelivery struct {
	transport *AMQPTransport
	raw       amqp.Delivery
}

func (d *amqpDelivery) Message() Message {
	return Message{
		ID:          d.raw.MessageId,
		Body:        d.raw.Body,
		Attempt:     headerInt(d.raw.Headers[attemptHeader]),
		PublishedAt: d.raw.Timestamp,
	}
}

func (d *amqpDelivery) Ack() error {
	d.transport.mu.Lock()
	defer d.transport.mu.Unlock()
	return d.raw.Ack(false)
}

func (d *amqpDelivery) Nack(requeue bool) error {
	d.transport.mu.Lock()
	defer d.transport.mu.Unlock()
	return d.raw.Nack(false, requeue)
}

func headerInt(value any) int {
	switch v := value.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}
