package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned when a page job id does not exist.
var ErrJobNotFound = errors.New("page job not found")

const pageJobColumns = `id, document_id, tenant_id, page_number, status, attempts,
	max_attempts, storage_store, storage_bucket, storage_key, items_extracted,
	raw_response, error_message, created_at, updated_at`

// CreatePageJob inserts a job for (document, page) if one does not already
// exist. Returns true when a row was created. Safe to call repeatedly: the
// orchestrator re-enters this on retries of the whole fan-out.
func (s *Store) CreatePageJob(ctx context.Context, job *PageJob) (bool, error) {
	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO page_jobs (id, document_id, tenant_id, page_number, status,
			attempts, max_attempts, storage_store, storage_bucket, storage_key,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, page_number) DO NOTHING`,
		job.ID, job.DocumentID, job.TenantID, job.PageNumber, JobStatusQueued,
		job.MaxAttempts, job.StorageStore, job.StorageBucket, job.StorageKey, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert page job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GetPageJob fetches a job by id.
func (s *Store) GetPageJob(ctx context.Context, id string) (*PageJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageJobColumns+` FROM page_jobs WHERE id = ?`, id)
	return scanPageJob(row)
}

// GetPageJobByPage fetches the job for a (document, page) pair.
func (s *Store) GetPageJobByPage(ctx context.Context, docID string, page int) (*PageJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageJobColumns+` FROM page_jobs WHERE document_id = ? AND page_number = ?`,
		docID, page)
	return scanPageJob(row)
}

// ListPageJobs returns a document's jobs ordered by page number.
func (s *Store) ListPageJobs(ctx context.Context, docID string) ([]*PageJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageJobColumns+` FROM page_jobs
		 WHERE document_id = ? ORDER BY page_number ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list page jobs: %w", err)
	}
	defer rows.Close()
	return collectPageJobs(rows)
}

// MarkJobSucceeded transitions a non-terminal job to succeeded, recording the
// extracted item count and the raw response audit payload.
func (s *Store) MarkJobSucceeded(ctx context.Context, id string, items int, rawResponse string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_jobs SET status = ?, items_extracted = ?, raw_response = ?,
			error_message = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		JobStatusSucceeded, items, rawResponse, nowUTC(), id,
		JobStatusQueued, JobStatusRetryable)
	if err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Already terminal; a duplicate dispatch converged. Nothing to do.
		s.logger.Debug("job success transition skipped, already terminal", "job_id", id)
	}
	return nil
}

// MarkJobFailure records a failed attempt. Transient failures consume one
// attempt and park the job as retryable until the budget is exhausted;
// permanent failures go straight to failed. Returns the resulting status.
func (s *Store) MarkJobFailure(ctx context.Context, id, errMsg string, permanent bool) (JobStatus, error) {
	var result JobStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status      JobStatus
			attempts    int
			maxAttempts int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, attempts, max_attempts FROM page_jobs WHERE id = ?`, id).
			Scan(&status, &attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load page job: %w", err)
		}
		if status.Terminal() {
			result = status
			return nil
		}

		attempts++
		next := JobStatusRetryable
		if permanent || attempts >= maxAttempts {
			next = JobStatusFailed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE page_jobs SET status = ?, attempts = ?, error_message = ?, updated_at = ?
			WHERE id = ?`, next, attempts, errMsg, nowUTC(), id); err != nil {
			return fmt.Errorf("failed to record job failure: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// FailPendingJobs terminally fails every non-terminal job of a document.
// The orchestrator calls this when it abandons a fan-out and refunds the
// charge: refunded pages must never be picked up by the sweeper. Returns the
// number of jobs failed.
func (s *Store) FailPendingJobs(ctx context.Context, docID, errMsg string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE document_id = ? AND status IN (?, ?)`,
		JobStatusFailed, errMsg, nowUTC(), docID,
		JobStatusQueued, JobStatusRetryable)
	if err != nil {
		return 0, fmt.Errorf("failed to fail pending jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// RequeueJob moves a retryable job back to queued. Used by the sweeper once
// the retry cooldown has elapsed. Returns true when the transition happened.
func (s *Store) RequeueJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE page_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobStatusQueued, nowUTC(), id, JobStatusRetryable)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// StaleQueuedJobs returns jobs stuck in queued since before the cutoff,
// oldest first. These are dispatches that were lost.
func (s *Store) StaleQueuedJobs(ctx context.Context, cutoff time.Time, limit int) ([]*PageJob, error) {
	return s.jobsByStatusBefore(ctx, JobStatusQueued, cutoff, limit)
}

// CooledRetryableJobs returns retryable jobs idle since before the cutoff.
func (s *Store) CooledRetryableJobs(ctx context.Context, cutoff time.Time, limit int) ([]*PageJob, error) {
	return s.jobsByStatusBefore(ctx, JobStatusRetryable, cutoff, limit)
}

func (s *Store) jobsByStatusBefore(ctx context.Context, status JobStatus, cutoff time.Time, limit int) ([]*PageJob, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageJobColumns+` FROM page_jobs
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC LIMIT ?`, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	defer rows.Close()
	return collectPageJobs(rows)
}

func collectPageJobs(rows *sql.Rows) ([]*PageJob, error) {
	var jobs []*PageJob
	for rows.Next() {
		job, err := scanPageJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanPageJob(row rowScanner) (*PageJob, error) {
	var job PageJob
	err := row.Scan(&job.ID, &job.DocumentID, &job.TenantID, &job.PageNumber,
		&job.Status, &job.Attempts, &job.MaxAttempts, &job.StorageStore,
		&job.StorageBucket, &job.StorageKey, &job.ItemsExtracted,
		&job.RawResponse, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page job: %w", err)
	}
	return &job, nil
}
