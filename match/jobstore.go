package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// jobSchema defines the match_jobs table. Results and failures are JSON
// columns written once; the status column carries the lifecycle.
const jobSchema = `
CREATE TABLE IF NOT EXISTS match_jobs (
    id               TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL,
    university_url   TEXT NOT NULL,
    university_id    TEXT NOT NULL,
    status           TEXT NOT NULL,
    candidates_found INTEGER NOT NULL DEFAULT 0,
    enrich_attempted INTEGER NOT NULL DEFAULT 0,
    enrich_succeeded INTEGER NOT NULL DEFAULT 0,
    enrich_failed    INTEGER NOT NULL DEFAULT 0,
    error_kind       TEXT NOT NULL DEFAULT '',
    error_message    TEXT NOT NULL DEFAULT '',
    results          TEXT,
    failures         TEXT,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_jobs_session ON match_jobs(session_id);
CREATE INDEX IF NOT EXISTS idx_match_jobs_status ON match_jobs(status, updated_at);
`

// JobStore persists match jobs in SQLite. All status transitions are guarded
// UPDATEs so concurrent writers (the pipeline goroutine and Cancel) cannot
// overwrite a terminal state.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobStore creates the match_jobs table if needed.
func NewJobStore(db *sql.DB, logger *slog.Logger) (*JobStore, error) {
	if _, err := db.Exec(jobSchema); err != nil {
		return nil, fmt.Errorf("match: create job schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{db: db, logger: logger}, nil
}

// Create inserts a new job in StatusPending.
func (s *JobStore) Create(ctx context.Context, job *Job) error {
	now := time.Now().Unix()
	job.Status = StatusPending
	job.CreatedAt = time.Unix(now, 0).UTC()
	job.UpdatedAt = job.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_jobs (id, session_id, university_url, university_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.UniversityURL, job.UniversityID, job.Status, now, now)
	if err != nil {
		return fmt.Errorf("match: create job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns a consistent snapshot of the job, including results when done.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, university_url, university_id, status,
		       candidates_found, enrich_attempted, enrich_succeeded, enrich_failed,
		       error_kind, error_message,
		       COALESCE(results, ''), COALESCE(failures, ''),
		       created_at, updated_at
		FROM match_jobs WHERE id = ?`, id)

	var job Job
	var resultsJSON, failuresJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&job.ID, &job.SessionID, &job.UniversityURL, &job.UniversityID, &job.Status,
		&job.Progress.CandidatesFound, &job.Progress.EnrichAttempted,
		&job.Progress.EnrichSucceeded, &job.Progress.EnrichFailed,
		&job.ErrorKind, &job.ErrorMessage,
		&resultsJSON, &failuresJSON,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match: get job %s: %w", id, err)
	}

	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &job.Results); err != nil {
			return nil, fmt.Errorf("match: decode results for %s: %w", id, err)
		}
	}
	if failuresJSON != "" {
		if err := json.Unmarshal([]byte(failuresJSON), &job.Failures); err != nil {
			return nil, fmt.Errorf("match: decode failures for %s: %w", id, err)
		}
	}
	return &job, nil
}

// Transition moves a job from one status to the next. It reports false when
// the job was not in the expected status, which happens when a cancel or
// failure raced ahead.
func (s *JobStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE match_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, time.Now().Unix(), id, from)
	if err != nil {
		return false, fmt.Errorf("match: transition %s %s→%s: %w", id, from, to, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetCandidatesFound records how many candidates discovery produced.
func (s *JobStore) SetCandidatesFound(ctx context.Context, id string, n int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE match_jobs SET candidates_found = ?, updated_at = ? WHERE id = ?`,
		n, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("match: set candidates for %s: %w", id, err)
	}
	return nil
}

// SetEnrichProgress updates the enrichment counters. Counters are facts
// about work performed, so the update is not status-guarded.
func (s *JobStore) SetEnrichProgress(ctx context.Context, id string, attempted, succeeded, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE match_jobs
		SET enrich_attempted = ?, enrich_succeeded = ?, enrich_failed = ?, updated_at = ?
		WHERE id = ?`,
		attempted, succeeded, failed, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("match: set enrich progress for %s: %w", id, err)
	}
	return nil
}

// Complete writes the results and moves scoring → done in one statement, so
// a job can never be done without its results. Reports false if the job left
// StatusScoring in the meantime; the caller discards the results.
func (s *JobStore) Complete(ctx context.Context, id string, results []Result, failures []CandidateFailure) (bool, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("match: encode results for %s: %w", id, err)
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return false, fmt.Errorf("match: encode failures for %s: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE match_jobs
		SET status = ?, results = ?, failures = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusDone, string(resultsJSON), string(failuresJSON), time.Now().Unix(),
		id, StatusScoring)
	if err != nil {
		return false, fmt.Errorf("match: complete %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Fail moves a non-terminal job to StatusFailed with an error kind and
// message. Reports false when the job already reached a terminal state.
func (s *JobStore) Fail(ctx context.Context, id string, kind ErrorKind, msg string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE match_jobs
		SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		StatusFailed, kind, msg, time.Now().Unix(),
		id, StatusDone, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("match: fail %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkCancelled moves a non-terminal job to StatusFailed with
// ErrKindCancelled. Cancellation is a failure mode, not a status of its
// own, so polling clients only ever see the fixed status set. Reports
// false when the job already finished.
func (s *JobStore) MarkCancelled(ctx context.Context, id string) (bool, error) {
	return s.Fail(ctx, id, ErrKindCancelled, "cancelled by caller")
}

// DeleteFinishedBefore removes terminal jobs last updated before the cutoff
// and returns how many rows were deleted.
func (s *JobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM match_jobs
		WHERE status IN (?, ?) AND updated_at < ?`,
		StatusDone, StatusFailed, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("match: delete finished jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Reaper deletes finished jobs older than maxAge on a fixed interval until
// ctx is cancelled.
func (s *JobStore) Reaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteFinishedBefore(ctx, time.Now().Add(-maxAge))
			if err != nil {
				s.logger.Warn("job reaper failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("job reaper purged finished jobs", "purged", n)
			}
		}
	}
}
