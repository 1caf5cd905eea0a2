package testsupport

import (
	"context"
	"testing"

	"ctscribe/internal/broker"
	"ctscribe/internal/config"
	"ctscribe/internal/jobstatus"
)

// MustOpenBroker opens a broker over the SQLite transport at the config's
// queue path and registers cleanup.
func MustOpenBroker(t testing.TB, cfg *config.Config) (*broker.Broker, *broker.SQLiteTransport) {
	t.Helper()

	transport, err := broker.OpenSQLite(context.Background(), cfg.QueueDBPath(), cfg.PollInterval(), nil)
	if err != nil {
		t.Fatalf("broker.OpenSQLite: %v", err)
	}
	policy, err := broker.ParseFailurePolicy(cfg.Broker.FailurePolicy)
	if err != nil {
		t.Fatalf("broker.ParseFailurePolicy: %v", err)
	}
	b := broker.New(transport, broker.Options{
		Prefetch:    cfg.Broker.Prefetch,
		Policy:      policy,
		MaxAttempts: cfg.Broker.MaxAttempts,
	})
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b, transport
}

// MustOpenLedger opens the job ledger at the config's jobs path and
// registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *jobstatus.Ledger {
	t.Helper()

	ledger, err := jobstatus.Open(context.Background(), cfg.JobsDBPath())
	if err != nil {
		t.Fatalf("jobstatus.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close()
	})
	return ledger
}
