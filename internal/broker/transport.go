package broker

import (
	"context"
	"time"
)

// Message is a queued job body with delivery bookkeeping.
type Message struct {
	ID          string
	Body        []byte
	Attempt     int
	PublishedAt time.Time
}

// Delivery is one received message awaiting settlement.
type Delivery interface {
	Message() Message
	Ack() error
	Nack(requeue bool) error
}

// Transport is the wire underneath Broker. Consume's channel closes when ctx
// ends or the connection is lost.
type Transport interface {
	Declare(ctx context.Context, queue string) error
	Publish(ctx context.Context, queue string, msg Message) error
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Delete(ctx context.Context, queue string) error
	Close() error
}

// QueueStats summarizes a queue for diagnostics.
type QueueStats struct {
	Queue     string
	Ready     int
	Unacked   int
	Consumers int
}

// Inspector is implemented by transports that can report queue depth.
type Inspector interface {
	Inspect(ctx context.Context, queue string) (QueueStats, error)
}
