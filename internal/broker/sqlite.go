package broker

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ctscribe/internal/logging"
	"ctscribe/internal/sqlstore"
)

//go:embed sqlite_schema.sql
var sqliteSchemaSQL string

const sqliteSchemaVersion = 1

const (
	stateReady  = "ready"
	stateLeased = "leased"
)

// DefaultPollInterval is how often an idle SQLite consumer checks for work.
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteTransport is a durable single-host queue. A message is leased to one
// consumer at a time and deleted when acknowledged.
type SQLiteTransport struct {
	db       *sqlstore.DB
	poll     time.Duration
	logger   *slog.Logger
	consumer string

	mu        sync.Mutex
	consumers map[string]int
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(ctx context.Context, path string, poll time.Duration, logger *slog.Logger) (*SQLiteTransport, error) {
	db, err := sqlstore.Open(ctx, path, sqlstore.Schema{Name: "queue", Version: sqliteSchemaVersion, SQL: sqliteSchemaSQL})
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SQLiteTransport{
		db:        db,
		poll:      poll,
		logger:    logging.NewComponentLogger(logger, "sqlite-queue"),
		consumer:  uuid.NewString(),
		consumers: make(map[string]int),
	}, nil
}

// RecoverLeases returns messages leased by a previous process to the ready
// state. Only the process owning the daemon lock may call it.
func (t *SQLiteTransport) RecoverLeases(ctx context.Context) (int64, error) {
	res, err := t.db.Exec(ctx,
		`UPDATE messages SET state = ?, consumer = NULL, leased_at = NULL WHERE state = ?`,
		stateReady, stateLeased,
	)
	if err != nil {
		return 0, fmt.Errorf("recover leases: %w", err)
	}
	return res.RowsAffected()
}

// Declare registers queue if it does not exist.
func (t *SQLiteTransport) Declare(ctx context.Context, queue string) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO queues (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		queue, sqlstore.FormatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

// Publish stores msg as ready on queue. The queue must be declared.
func (t *SQLiteTransport) Publish(ctx context.Context, queue string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	_, err := t.db.Exec(ctx,
		`INSERT INTO messages (id, queue, body, attempt, state, published_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, queue, msg.Body, msg.Attempt, stateReady, sqlstore.FormatTime(msg.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Consume leases up to prefetch messages at a time from queue.
func (t *SQLiteTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	t.trackConsumer(queue, 1)

	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)
	go func() {
		defer close(out)
		defer t.trackConsumer(queue, -1)
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}

			msg, ok, err := t.claim(ctx, queue)
			if err != nil {
				<-slots
				if ctx.Err() != nil {
					return
				}
				logging.ErrorWithContext(t.logger, "claim failed; stopping consumer", "queue_claim_failed",
					logging.String(logging.FieldJobQueue, queue),
					logging.Error(err),
				)
				return
			}
			if !ok {
				<-slots
				select {
				case <-time.After(t.poll):
					continue
				case <-ctx.Done():
					return
				}
			}

			delivery := &sqliteDelivery{transport: t, msg: msg, release: func() { <-slots }}
			select {
			case out <- delivery:
			case <-ctx.Done():
				_ = delivery.Nack(true)
				return
			}
		}
	}()
	return out, nil
}

func (t *SQLiteTransport) claim(ctx context.Context, queue string) (Message, bool, error) {
	var (
		msg       Message
		published string
	)
	err := sqlstore.RetryOnBusy(ctx, func() error {
		return t.db.QueryRowContext(ctx,
			`UPDATE messages SET state = ?, consumer = ?, leased_at = ?
             WHERE seq = (SELECT seq FROM messages WHERE queue = ? AND state = ? ORDER BY seq LIMIT 1)
             RETURNING id, body, attempt, published_at`,
			stateLeased, t.consumer, sqlstore.FormatTime(time.Now()), queue, stateReady,
		).Scan(&msg.ID, &msg.Body, &msg.Attempt, &published)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("claim message: %w", err)
	}
	msg.PublishedAt = sqlstore.ParseTime(published)
	return msg, true, nil
}

func (t *SQLiteTransport) trackConsumer(queue string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumers[queue] += delta
	if t.consumers[queue] <= 0 {
		delete(t.consumers, queue)
	}
}

// Delete removes queue and every message on it.
func (t *SQLiteTransport) Delete(ctx context.Context, queue string) error {
	if _, err := t.db.Exec(ctx, `DELETE FROM queues WHERE name = ?`, queue); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	return nil
}

// Inspect counts ready and leased messages on queue.
func (t *SQLiteTransport) Inspect(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Queue: queue}
	rows, err := t.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM messages WHERE queue = ? GROUP BY state`, queue)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return stats, err
		}
		switch state {
		case stateReady:
			stats.Ready = count
		case stateLeased:
			stats.Unacked = count
		}
	}
	t.mu.Lock()
	stats.Consumers = t.consumers[queue]
	t.mu.Unlock()
	return stats, rows.Err()
}

// Close closes the database.
func (t *SQLiteTransport) Close() error {
	return t.db.Close()
}

type sqliteDelivery struct {
	transport *SQLiteTransport
	msg       Message
	release   func()
	once      sync.Once
}

func (d *sqliteDelivery) Message() Message { return d.msg }

func (d *sqliteDelivery) Ack() error {
	return d.settle(`DELETE FROM messages WHERE id = ? AND state = ?`, d.msg.ID, stateLeased)
}

func (d *sqliteDelivery) Nack(requeue bool) error {
	if !requeue {
		return d.Ack()
	}
	return d.settle(
		`UPDATE messages SET state = ?, consumer = NULL, leased_at = NULL WHERE id = ? AND state = ?`,
		stateReady, d.msg.ID, stateLeased,
	)
}

func (d *sqliteDelivery) settle(query string, args ...any) error {
	var err error
	settled := false
	d.once.Do(func() {
		settled = true
		defer d.release()
		_, err = d.transport.db.Exec(context.Background(), query, args...)
	})
	if !settled {
		return errors.New("delivery already settled")
	}
	if err != nil {
		return fmt.Errorf("settle message %s: %w", d.msg.ID, err)
	}
	return nil
}
