package broker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ctscribe/internal/broker"
	"ctscribe/internal/services"
)

func openSQLite(t *testing.T, path string) *broker.SQLiteTransport {
	t.Helper()
	transport, err := broker.OpenSQLite(context.Background(), path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })
	return transport
}

func newBroker(t *testing.T, opts broker.Options) (*broker.Broker, *broker.SQLiteTransport) {
	t.Helper()
	transport := openSQLite(t, filepath.Join(t.TempDir(), "queue.db"))
	return broker.New(transport, opts), transport
}

type consumer struct {
	cancel context.CancelFunc
	done   chan error
}

func startConsumer(t *testing.T, b *broker.Broker, queue string, handler broker.Handler[samplePayload]) *consumer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{cancel: cancel, done: make(chan error, 1)}
	go func() { c.done <- broker.Consume(ctx, b, queue, handler) }()
	t.Cleanup(func() { c.stop(t) })
	return c
}

func (c *consumer) stop(t *testing.T) error {
	t.Helper()
	c.cancel()
	select {
	case err := <-c.done:
		c.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func queueStats(t *testing.T, transport *broker.SQLiteTransport, queue string) broker.QueueStats {
	t.Helper()
	stats, err := transport.Inspect(context.Background(), queue)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	return stats
}

func TestPublishConsumeAcksAfterHandler(t *testing.T) {
	b, transport := newBroker(t, broker.Options{})
	ctx := context.Background()
	if err := broker.Publish(ctx, b, broker.QueueTranscribe, samplePayload{VideoID: "v1"}, broker.Parameters{Force: true}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if stats := queueStats(t, transport, broker.QueueTranscribe); stats.Ready != 1 {
		t.Fatalf("expected 1 ready message, got %+v", stats)
	}

	release := make(chan struct{})
	var got atomic.Value
	startConsumer(t, b, broker.QueueTranscribe, func(ctx context.Context, payload samplePayload, params broker.Parameters) error {
		if queue, _ := services.JobQueueFromContext(ctx); queue != broker.QueueTranscribe {
			t.Errorf("expected job queue in context, got %q", queue)
		}
		if !params.Force {
			t.Error("expected force flag to survive transport")
		}
		got.Store(payload.VideoID)
		<-release
		return nil
	})

	waitFor(t, "handler start", func() bool { return got.Load() != nil })
	if stats := queueStats(t, transport, broker.QueueTranscribe); stats.Unacked != 1 {
		t.Fatalf("expected message held unacked while handler runs, got %+v", stats)
	}
	close(release)
	waitFor(t, "ack", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return s.Ready == 0 && s.Unacked == 0
	})
	if got.Load() != "v1" {
		t.Fatalf("unexpected payload %v", got.Load())
	}
}

func TestAckPolicyDropsFailedJob(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyAck})
	if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{VideoID: "v1"}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		calls.Add(1)
		return errors.New("recognizer exploded")
	})

	waitFor(t, "failed job acked", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return calls.Load() == 1 && s.Ready == 0 && s.Unacked == 0
	})
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt under ack policy, got %d", calls.Load())
	}
}

func TestRequeuePolicyRedelivers(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyRequeue})
	if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{VideoID: "v1"}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	waitFor(t, "redelivery", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return calls.Load() == 2 && s.Ready == 0 && s.Unacked == 0
	})
}

func TestDeadLetterPolicyParksAfterMaxAttempts(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyDeadLetter, MaxAttempts: 2})
	if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{VideoID: "v1"}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		calls.Add(1)
		return errors.New("still broken")
	})

	dead := broker.DeadLetterQueue(broker.QueueTranscribe)
	waitFor(t, "dead letter", func() bool {
		return queueStats(t, transport, dead).Ready == 1
	})
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts before parking, got %d", calls.Load())
	}
	if s := queueStats(t, transport, broker.QueueTranscribe); s.Ready != 0 || s.Unacked != 0 {
		t.Fatalf("expected source queue drained, got %+v", s)
	}
}

func TestDeadLetterPolicyParksMalformedEnvelopeImmediately(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyDeadLetter, MaxAttempts: 5})
	ctx := context.Background()
	if err := transport.Declare(ctx, broker.QueueTranscribe); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	if err := transport.Publish(ctx, broker.QueueTranscribe, broker.Message{ID: "bad", Body: []byte("garbage")}); err != nil {
		t.Fatalf("raw publish failed: %v", err)
	}

	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		calls.Add(1)
		return nil
	})

	waitFor(t, "malformed job parked", func() bool {
		return queueStats(t, transport, broker.DeadLetterQueue(broker.QueueTranscribe)).Ready == 1
	})
	if calls.Load() != 0 {
		t.Fatalf("handler should not run for malformed envelope, ran %d times", calls.Load())
	}
}

func TestPermanentFailureSkipsRequeue(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyRequeue})
	if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		calls.Add(1)
		return services.Wrap(services.ErrValidation, "transcribe", "payload", "missing video id", nil)
	})
	waitFor(t, "permanent failure acked", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return calls.Load() == 1 && s.Ready == 0 && s.Unacked == 0
	})
}

func TestHandlerPanicIsContained(t *testing.T) {
	b, transport := newBroker(t, broker.Options{})
	for i := range 2 {
		if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{VideoID: string(rune('a' + i))}, broker.Parameters{}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	var calls atomic.Int32
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		calls.Add(1)
		panic("boom")
	})
	waitFor(t, "both jobs settled", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return calls.Load() == 2 && s.Ready == 0 && s.Unacked == 0
	})
}

func TestPrefetchBoundsConcurrentHandlers(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Prefetch: 2})
	for range 6 {
		if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{}, broker.Parameters{}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		active  int
		peak    int
		handled atomic.Int32
	)
	startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		handled.Add(1)
		return nil
	})

	waitFor(t, "all jobs handled", func() bool {
		s := queueStats(t, transport, broker.QueueTranscribe)
		return handled.Load() == 6 && s.Ready == 0 && s.Unacked == 0
	})
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent handlers, saw %d", peak)
	}
	if peak < 2 {
		t.Fatalf("expected handlers to overlap up to prefetch, saw %d", peak)
	}
}

func TestConsumeReturnsNilOnCancel(t *testing.T) {
	b, _ := newBroker(t, broker.Options{})
	c := startConsumer(t, b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error { return nil })
	time.Sleep(20 * time.Millisecond)
	if err := c.stop(t); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
}

func TestShutdownRequeuesInFlightJob(t *testing.T) {
	b, transport := newBroker(t, broker.Options{Policy: broker.PolicyAck})
	if err := broker.Publish(context.Background(), b, broker.QueueTranscribe, samplePayload{VideoID: "slow"}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	started := make(chan struct{})
	c := startConsumer(t, b, broker.QueueTranscribe, func(ctx context.Context, _ samplePayload, _ broker.Parameters) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	if err := c.stop(t); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if s := queueStats(t, transport, broker.QueueTranscribe); s.Ready != 1 {
		t.Fatalf("expected interrupted job back on the queue, got %+v", s)
	}
}

type closedTransport struct {
	broker.Transport
	deleteErr map[string]error
	deleted   []string
}

func (c *closedTransport) Declare(context.Context, string) error { return nil }

func (c *closedTransport) Consume(context.Context, string, int) (<-chan broker.Delivery, error) {
	ch := make(chan broker.Delivery)
	close(ch)
	return ch, nil
}

func (c *closedTransport) Delete(_ context.Context, queue string) error {
	c.deleted = append(c.deleted, queue)
	return c.deleteErr[queue]
}

func (c *closedTransport) Close() error { return nil }

func TestConsumeReportsConnectionLoss(t *testing.T) {
	b := broker.New(&closedTransport{}, broker.Options{})
	err := broker.Consume(context.Background(), b, broker.QueueTranscribe, func(context.Context, samplePayload, broker.Parameters) error { return nil })
	if !errors.Is(err, broker.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestDeleteAllQueuesContinuesPastFailures(t *testing.T) {
	transport := &closedTransport{deleteErr: map[string]error{broker.QueueTranscribe: errors.New("in use")}}
	b := broker.New(transport, broker.Options{})
	err := b.DeleteAllQueues(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(transport.deleted) != 2*len(broker.JobTypes) {
		t.Fatalf("expected every queue attempted, got %v", transport.deleted)
	}
}

func TestDeleteAllQueuesRemovesMessages(t *testing.T) {
	b, transport := newBroker(t, broker.Options{})
	ctx := context.Background()
	for _, queue := range broker.JobTypes {
		for _, name := range []string{queue, broker.DeadLetterQueue(queue)} {
			if err := broker.Publish(ctx, b, name, samplePayload{}, broker.Parameters{}); err != nil {
				t.Fatalf("Publish %s failed: %v", name, err)
			}
		}
	}
	if s := queueStats(t, transport, broker.DeadLetterQueue(broker.QueueTranscribe)); s.Ready != 1 {
		t.Fatalf("expected parked message before reset, got %+v", s)
	}
	if err := b.DeleteAllQueues(ctx); err != nil {
		t.Fatalf("DeleteAllQueues failed: %v", err)
	}
	stats, err := b.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(stats) != 2*len(broker.JobTypes) {
		t.Fatalf("expected job and dead-letter queues inspected, got %d", len(stats))
	}
	for _, s := range stats {
		if s.Ready != 0 || s.Unacked != 0 {
			t.Fatalf("expected empty queue after delete, got %+v", s)
		}
	}
}

func TestSQLiteMessagesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	first, err := broker.OpenSQLite(ctx, path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	b := broker.New(first, broker.Options{})
	if err := broker.Publish(ctx, b, broker.QueueTranscribe, samplePayload{VideoID: "durable"}, broker.Parameters{}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	deliveries, err := first.Consume(consumeCtx, broker.QueueTranscribe, 1)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	<-deliveries // leased and never settled, as if the worker crashed
	cancel()
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second := openSQLite(t, path)
	recovered, err := second.RecoverLeases(ctx)
	if err != nil {
		t.Fatalf("RecoverLeases failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered lease, got %d", recovered)
	}

	var got atomic.Value
	startConsumer(t, broker.New(second, broker.Options{}), broker.QueueTranscribe, func(_ context.Context, p samplePayload, _ broker.Parameters) error {
		got.Store(p.VideoID)
		return nil
	})
	waitFor(t, "redelivery after restart", func() bool { return got.Load() == "durable" })
}
