package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

// InsertJob persists a new queue job. When dedupKey is set and a QUEUED or
// RUNNING job already carries it, the insert is a no-op and the existing
// job's id is returned. FAILED/SUCCEEDED/DEAD jobs do not block a new one.
// The partial unique index on dedup_key is authoritative; the pre-select is
// only the fast path, and a concurrent insert surfaces as 23505 here.
func (s *Store) InsertJob(ctx context.Context, job *models.Job) (string, error) {
	for i := 0; i < 2; i++ {
		id, err := s.insertJob(ctx, job)
		if err == nil {
			return id, nil
		}
		if job.DedupKey == nil || !isUniqueViolation(err) {
			return "", err
		}

		var existingID string
		selErr := s.db.GetContext(ctx, &existingID, `
			SELECT id FROM jobs
			WHERE dedup_key = $1 AND status IN ($2, $3)
			LIMIT 1`,
			*job.DedupKey, models.JobStatusQueued, models.JobStatusRunning)
		if selErr == nil {
			return existingID, nil
		}
		if selErr != sql.ErrNoRows {
			return "", selErr
		}
		// The competing job finished between the violation and the lookup;
		// the slot is free again, so insert once more.
	}
	return "", fmt.Errorf("could not settle dedup race for key %s", *job.DedupKey)
}

func (s *Store) insertJob(ctx context.Context, job *models.Job) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if job.DedupKey != nil {
		var existingID string
		err := tx.GetContext(ctx, &existingID, `
			SELECT id FROM jobs
			WHERE dedup_key = $1 AND status IN ($2, $3)
			LIMIT 1 FOR UPDATE`,
			*job.DedupKey, models.JobStatusQueued, models.JobStatusRunning)
		if err == nil {
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, queue_name, payload, dedup_key, status, attempt, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		job.ID, job.QueueName, job.Payload, job.DedupKey, models.JobStatusQueued,
		job.MaxAttempts, job.NextRunAt)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return job.ID, nil
}

// ClaimDueJob pulls the oldest due QUEUED job for a queue and marks it
// RUNNING. SKIP LOCKED lets concurrent workers claim without contention.
// Returns nil, nil when nothing is due.
func (s *Store) ClaimDueJob(ctx context.Context, queueName string, now time.Time) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		SELECT * FROM jobs
		WHERE queue_name = $1 AND status = $2 AND next_run_at <= $3
		ORDER BY next_run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		queueName, models.JobStatusQueued, now)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE jobs SET status = $1, attempt = attempt + 1, updated_at = NOW() WHERE id = $2",
		models.JobStatusRunning, job.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusRunning
	job.Attempt++
	return &job, nil
}

const stalledJobError = "execution stalled past the job lease"

// RecoverStalledJobs requeues RUNNING jobs claimed before cutoff and never
// finalized (crashed worker, killed process, lost connection). Without this
// a stalled row sits RUNNING forever — and, when it carries a dedup key,
// suppresses every future enqueue for that key. Stalled jobs that already
// spent their attempt budget go straight to the dead-letter table. Returns
// (requeued, deadLettered).
func (s *Store) RecoverStalledJobs(ctx context.Context, cutoff time.Time) (int, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var stalled []models.Job
	err = tx.SelectContext(ctx, &stalled, `
		SELECT * FROM jobs
		WHERE status = $1 AND updated_at < $2
		FOR UPDATE SKIP LOCKED`,
		models.JobStatusRunning, cutoff)
	if err != nil {
		return 0, 0, err
	}

	var requeued, deadLettered int
	for i := range stalled {
		job := &stalled[i]
		attemptLog, err := appendAttempt(job.AttemptLog, job.Attempt, stalledJobError)
		if err != nil {
			return 0, 0, err
		}

		if job.Attempt >= job.MaxAttempts {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = $1, last_error = $2, attempt_log = $3, updated_at = NOW()
				WHERE id = $4`,
				models.JobStatusDead, stalledJobError, attemptLog, job.ID)
			if err != nil {
				return 0, 0, err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO dead_letters (job_id, queue_name, payload, last_error, attempt_log)
				VALUES ($1, $2, $3, $4, $5)`,
				job.ID, job.QueueName, job.Payload, stalledJobError, attemptLog)
			if err != nil {
				return 0, 0, err
			}
			deadLettered++
			continue
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, last_error = $2, attempt_log = $3, next_run_at = NOW(), updated_at = NOW()
			WHERE id = $4`,
			models.JobStatusQueued, stalledJobError, attemptLog, job.ID)
		if err != nil {
			return 0, 0, err
		}
		requeued++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return requeued, deadLettered, nil
}

// MarkJobSucceeded finalizes a successfully handled job.
func (s *Store) MarkJobSucceeded(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = $1, last_error = NULL, updated_at = NOW() WHERE id = $2",
		models.JobStatusSucceeded, jobID)
	return err
}

// RescheduleJob records a failed attempt and requeues the job for nextRunAt.
func (s *Store) RescheduleJob(ctx context.Context, job *models.Job, handlerErr string, nextRunAt time.Time) error {
	attemptLog, err := appendAttempt(job.AttemptLog, job.Attempt, handlerErr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, attempt_log = $3, next_run_at = $4, updated_at = NOW()
		WHERE id = $5`,
		models.JobStatusQueued, handlerErr, attemptLog, nextRunAt, job.ID)
	return err
}

// MoveJobToDeadLetter marks the job DEAD and writes a DeadLetterEntry
// retaining payload, final error, and the full attempt history, atomically.
func (s *Store) MoveJobToDeadLetter(ctx context.Context, job *models.Job, handlerErr string) (*models.DeadLetterEntry, error) {
	attemptLog, err := appendAttempt(job.AttemptLog, job.Attempt, handlerErr)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, attempt_log = $3, updated_at = NOW()
		WHERE id = $4`,
		models.JobStatusDead, handlerErr, attemptLog, job.ID)
	if err != nil {
		return nil, err
	}

	entry := &models.DeadLetterEntry{
		JobID:      job.ID,
		QueueName:  job.QueueName,
		Payload:    job.Payload,
		LastError:  handlerErr,
		AttemptLog: attemptLog,
	}
	err = tx.GetContext(ctx, entry, `
		INSERT INTO dead_letters (job_id, queue_name, payload, last_error, attempt_log)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, failed_at`,
		entry.JobID, entry.QueueName, entry.Payload, entry.LastError, entry.AttemptLog)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListDeadLetters retrieves dead-letter entries not yet requeued, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM dead_letters
		WHERE requeued_at IS NULL
		ORDER BY failed_at DESC
		LIMIT $1`, limit)
	return entries, err
}

// CountDeadLetters counts entries awaiting re-drive.
func (s *Store) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM dead_letters WHERE requeued_at IS NULL")
	return n, err
}

// RequeueDeadLetter re-drives a dead-letter entry as a fresh QUEUED job with
// a reset attempt counter, and stamps the entry so it is not re-driven twice.
func (s *Store) RequeueDeadLetter(ctx context.Context, entryID int64, newJobID string, maxAttempts int) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var entry models.DeadLetterEntry
	err = tx.GetContext(ctx, &entry,
		"SELECT * FROM dead_letters WHERE id = $1 AND requeued_at IS NULL FOR UPDATE", entryID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("dead letter entry not found or already requeued: %d", entryID)
	}
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, queue_name, payload, status, attempt, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())`,
		newJobID, entry.QueueName, entry.Payload, models.JobStatusQueued, maxAttempts)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE dead_letters SET requeued_at = NOW() WHERE id = $1", entryID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return newJobID, nil
}

func appendAttempt(log json.RawMessage, attempt int, errMsg string) (json.RawMessage, error) {
	var history []models.JobAttempt
	if len(log) > 0 {
		if err := json.Unmarshal(log, &history); err != nil {
			return nil, fmt.Errorf("corrupt attempt log: %w", err)
		}
	}
	history = append(history, models.JobAttempt{
		Attempt:  attempt,
		Error:    errMsg,
		FailedAt: time.Now().UTC(),
	})
	return json.Marshal(history)
}
