// Package jobstatus records every transcription attempt in a SQLite ledger
// so failed and skipped jobs remain visible after the broker has settled
// their messages.
package jobstatus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ctscribe/internal/keypool"
	"ctscribe/internal/services"
	"ctscribe/internal/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Status is the outcome of one run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []Status{StatusRunning, StatusCompleted, StatusSkipped, StatusRejected, StatusFailed}

// Run is one ledger row.
type Run struct {
	ID            string
	Queue         string
	ResourceID    string
	CorrelationID string
	Status        Status
	Force         bool
	Region        string
	CueCount      int
	SkippedWords  int
	Outputs       []string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome is what a handler reports when a run ends.
type Outcome struct {
	Skipped      bool
	Region       string
	CueCount     int
	SkippedWords int
	Outputs      []string
	Err          error
}

// Classify maps an outcome to a terminal status.
func Classify(o Outcome) Status {
	switch {
	case o.Err == nil && o.Skipped:
		return StatusSkipped
	case o.Err == nil:
		return StatusCompleted
	case errors.Is(o.Err, keypool.ErrResourceBusy):
		return StatusRejected
	default:
		return StatusFailed
	}
}

// Ledger persists runs.
type Ledger struct {
	db  *sqlstore.DB
	now func() time.Time
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sqlstore.Open(ctx, path, sqlstore.Schema{Name: "jobs", Version: schemaVersion, SQL: schemaSQL})
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Start records a running attempt for resourceID on queue.
func (l *Ledger) Start(ctx context.Context, queue, resourceID string, force bool) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Queue:      queue,
		ResourceID: resourceID,
		Status:     StatusRunning,
		Force:      force,
		StartedAt:  l.now().UTC(),
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		run.CorrelationID = rid
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO job_runs (id, queue, resource_id, correlation_id, status, force, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Queue, run.ResourceID, sqlstore.NullableString(run.CorrelationID),
		string(run.Status), boolToInt(force), sqlstore.FormatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("record job start: %w", err)
	}
	return run, nil
}

// Finish stores the outcome of run and updates it in place.
func (l *Ledger) Finish(ctx context.Context, run *Run, outcome Outcome) error {
	if run == nil {
		return errors.New("finish: nil run")
	}
	run.Status = Classify(outcome)
	run.Region = outcome.Region
	run.CueCount = outcome.CueCount
	run.SkippedWords = outcome.SkippedWords
	run.Outputs = outcome.Outputs
	run.FinishedAt = l.now().UTC()
	if outcome.Err != nil {
		run.ErrorMessage = outcome.Err.Error()
	}

	var outputs any
	if len(run.Outputs) > 0 {
		data, err := json.Marshal(run.Outputs)
		if err != nil {
			return fmt.Errorf("encode outputs: %w", err)
		}
		outputs = string(data)
	}
	// A shutdown cancels the job context; the ledger write still has to land.
	ctx = context.WithoutCancel(sqlstore.EnsureContext(ctx))
	res, err := l.db.Exec(ctx,
		`UPDATE job_runs SET status = ?, region = ?, cue_count = ?, skipped_words = ?, outputs_json = ?,
                             error_message = ?, finished_at = ?
         WHERE id = ?`,
		string(run.Status), sqlstore.NullableString(run.Region), run.CueCount, run.SkippedWords, outputs,
		sqlstore.NullableString(run.ErrorMessage), sqlstore.FormatTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("record job finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record job finish: run %s not found", run.ID)
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status     Status
	ResourceID string
	Limit      int
}

const runColumns = "id, queue, resource_id, correlation_id, status, force, region, cue_count, skipped_words, outputs_json, error_message, started_at, finished_at"

// List returns runs newest first, by insertion order.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]Run, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	query := "SELECT " + runColumns + " FROM job_runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(sqlstore.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Latest returns the newest run for resourceID.
func (l *Ledger) Latest(ctx context.Context, resourceID string) (Run, bool, error) {
	runs, err := l.List(ctx, Filter{ResourceID: resourceID, Limit: 1})
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[0], true, nil
}

// Stats counts runs per status.
func (l *Ledger) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := l.db.QueryContext(sqlstore.EnsureContext(ctx), `SELECT status, COUNT(1) FROM job_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job run stats: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int, len(AllStatuses))
	for _, status := range AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// AbandonRunning marks runs left running by a previous process as failed.
func (l *Ledger) AbandonRunning(ctx context.Context) (int64, error) {
	res, err := l.db.Exec(ctx,
		`UPDATE job_runs SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`,
		string(StatusFailed), "interrupted: daemon stopped before the run finished",
		sqlstore.FormatTime(l.now()), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("abandon running jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		correlation sql.NullString
		status      string
		force       int
		region      sql.NullString
		outputs     sql.NullString
		errMessage  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Queue,
		&run.ResourceID,
		&correlation,
		&status,
		&force,
		&region,
		&run.CueCount,
		&run.SkippedWords,
		&outputs,
		&errMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Run{}, fmt.Errorf("scan job run: %w", err)
	}
	run.CorrelationID = correlation.String
	run.Status = Status(status)
	run.Force = force != 0
	run.Region = region.String
	run.ErrorMessage = errMessage.String
	run.StartedAt = sqlstore.ParseTime(startedRaw)
	run.FinishedAt = sqlstore.ParseTime(finishedRaw.String)
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &run.Outputs); err != nil {
			return Run{}, fmt.Errorf("decode outputs for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
