// Package observability records match job lifecycle events in SQLite.
// Writes are best-effort: a failing event store logs a warning and never
// blocks or fails the pipeline.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/profmatch/idgen"
)

// Schema contains the DDL for the event log table.
const Schema = `
CREATE TABLE IF NOT EXISTS match_event_logs (
    event_id   TEXT PRIMARY KEY,
    job_id     TEXT NOT NULL,
    event      TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_match_events_job ON match_event_logs(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_match_events_time ON match_event_logs(created_at DESC);
`

// Recorder writes job lifecycle events. It satisfies the orchestrator's
// event sink interface.
type Recorder struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIDGenerator sets a custom ID generator for event ids.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(r *Recorder) { r.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates the event table if needed and returns a Recorder.
func NewRecorder(db *sql.DB, opts ...Option) (*Recorder, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("observability: create schema: %w", err)
	}
	r := &Recorder{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Record writes one lifecycle event. Errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, jobID, event, detail string) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO match_event_logs (event_id, job_id, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.newID(), jobID, event, detail, time.Now().Unix())
	if err != nil {
		r.logger.Warn("event log failed", "job_id", jobID, "event", event, "error", err)
	}
}

// Events returns the recorded events for a job in insertion order.
func (r *Recorder) Events(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event, detail, created_at FROM match_event_logs
		WHERE job_id = ? ORDER BY created_at, event_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.Event, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Event is one recorded lifecycle event.
type Event struct {
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cleanup deletes events older than the retention window and returns how
// many rows were deleted.
func (r *Recorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM match_event_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Reaper runs Cleanup on a fixed interval until ctx is cancelled.
func (r *Recorder) Reaper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Cleanup(ctx, retention)
			if err != nil {
				r.logger.Warn("event reaper failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Debug("event reaper purged rows", "purged", n)
			}
		}
	}
}
