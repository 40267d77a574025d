package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDocumentNotFound is returned when a document id does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// ErrDocumentLocked is returned when an operation requires an unlocked
// document but an export lock is active.
var ErrDocumentLocked = errors.New("document has an active export lock")

const documentColumns = `id, tenant_id, file_name, status, page_count, items_extracted,
	error_code, error_message, exported_at, export_batch_id, found_revenue,
	review_status, review_reasons, total_paid_cents, total_patient_cents, claim_count,
	created_at, updated_at`

// CreateDocument inserts a new document in status pending.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	now := nowUTC()
	doc.Status = DocStatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, file_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.FileName, doc.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns the tenant's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, tenantID string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetDocumentQueued records that the fan-out finished and jobs exist. The
// page count is written here because it is only known after the split.
func (s *Store) SetDocumentQueued(ctx context.Context, id string, pageCount int) error {
	return s.updateDocument(ctx, id, `
		UPDATE documents SET status = ?, page_count = ?, error_code = '', error_message = '', updated_at = ?
		WHERE id = ?`, DocStatusQueued, pageCount, nowUTC(), id)
}

// MarkDocumentProcessing transitions pending/queued to processing. A no-op
// for documents already processing or terminal.
func (s *Store) MarkDocumentProcessing(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		DocStatusProcessing, nowUTC(), id, DocStatusPending, DocStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}
	return nil
}

// FailDocument marks a document failed with an error code and message.
// Used by the orchestrator for admission and fan-out failures.
func (s *Store) FailDocument(ctx context.Context, id, code, message string) error {
	return s.updateDocument(ctx, id, `
		UPDATE documents SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ?`, DocStatusFailed, code, message, nowUTC(), id)
}

// SetDocumentReview updates the review rollup for a document.
func (s *Store) SetDocumentReview(ctx context.Context, id, status string, reasons []string) error {
	raw, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("failed to encode review reasons: %w", err)
	}
	return s.updateDocument(ctx, id, `
		UPDATE documents SET review_status = ?, review_reasons = ?, updated_at = ?
		WHERE id = ?`, status, string(raw), nowUTC(), id)
}

// SetDocumentFoundRevenue flips the found-revenue flag.
func (s *Store) SetDocumentFoundRevenue(ctx context.Context, id string, found bool) error {
	return s.updateDocument(ctx, id, `
		UPDATE documents SET found_revenue = ?, updated_at = ? WHERE id = ?`,
		found, nowUTC(), id)
}

// RollupResult describes the outcome of a rollup evaluation.
type RollupResult struct {
	Changed        bool
	Status         DocumentStatus
	SucceededPages int
	TotalPages     int
	ItemsExtracted int
	Refunded       int
}

// RollupDocument derives the document's terminal status from its page jobs.
//
// It only acts when every page job is terminal, and it is idempotent: once
// the document is terminal re-running it changes nothing, which is also what
// guarantees the all-failed refund happens exactly once. The refund is issued
// in the same transaction as the status transition.
func (s *Store) RollupDocument(ctx context.Context, docID string) (*RollupResult, error) {
	res := &RollupResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status    DocumentStatus
			tenantID  string
			pageCount int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, tenant_id, page_count FROM documents WHERE id = ?`, docID).
			Scan(&status, &tenantID, &pageCount)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDocumentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load document for rollup: %w", err)
		}

		if status.Terminal() {
			res.Status = status
			return nil
		}

		var total, succeeded, terminal, items int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
			       COALESCE(SUM(CASE WHEN status = ? THEN items_extracted ELSE 0 END), 0)
			FROM page_jobs WHERE document_id = ?`,
			JobStatusSucceeded, JobStatusSucceeded, JobStatusFailed, JobStatusSucceeded, docID).
			Scan(&total, &succeeded, &terminal, &items)
		if err != nil {
			return fmt.Errorf("failed to aggregate page jobs: %w", err)
		}

		if pageCount == 0 || total < pageCount || terminal < pageCount {
			// Not all pages terminal yet; leave the document alone.
			res.Status = status
			return nil
		}

		var (
			next   DocumentStatus
			errMsg string
		)
		switch {
		case succeeded == pageCount:
			next = DocStatusCompleted
		case succeeded > 0:
			next = DocStatusPartialFailure
			errMsg = fmt.Sprintf("%d of %d pages processed", succeeded, pageCount)
		default:
			next = DocStatusFailed
			errMsg = "all pages failed extraction"
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET status = ?, items_extracted = ?, error_message = ?, updated_at = ?
			WHERE id = ?`, next, items, errMsg, nowUTC(), docID)
		if err != nil {
			return fmt.Errorf("failed to finalize document: %w", err)
		}

		// Full refund only when nothing succeeded. Partial consumption is
		// intentional: successfully processed pages stay charged.
		if next == DocStatusFailed {
			refunded, err := refundTx(ctx, tx, tenantID, int64(pageCount))
			if err != nil {
				return err
			}
			if !refunded {
				s.logger.Warn("refund skipped, tenant has no credit row",
					"tenant_id", tenantID, "document_id", docID, "pages", pageCount)
			} else {
				res.Refunded = pageCount
			}
		}

		res.Changed = true
		res.Status = next
		res.SucceededPages = succeeded
		res.TotalPages = pageCount
		res.ItemsExtracted = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// StalledDocuments returns non-terminal documents untouched since the cutoff.
// The sweeper uses this to find documents whose rollup never ran.
func (s *Store) StalledDocuments(ctx context.Context, cutoff time.Time, limit int) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC LIMIT ?`,
		DocStatusQueued, DocStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ResetDocumentForReprocess re-queues every page job of a terminal document
// and clears the document's rollup fields. Export-locked documents must be
// unlocked first.
func (s *Store) ResetDocumentForReprocess(ctx context.Context, docID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exportedAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT exported_at FROM documents WHERE id = ?`, docID).Scan(&exportedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDocumentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load document: %w", err)
		}
		if exportedAt.Valid {
			return ErrDocumentLocked
		}

		now := nowUTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET status = ?, items_extracted = 0, error_code = '',
				error_message = '', review_status = '', review_reasons = '[]', updated_at = ?
			WHERE id = ?`, DocStatusQueued, now, docID); err != nil {
			return fmt.Errorf("failed to reset document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE page_jobs SET status = ?, attempts = 0, error_message = '', updated_at = ?
			WHERE document_id = ?`, JobStatusQueued, now, docID); err != nil {
			return fmt.Errorf("failed to reset page jobs: %w", err)
		}
		return nil
	})
}

// ExportStamp carries the export lock and summary stats written per document
// when a remittance file is generated.
type ExportStamp struct {
	BatchID          string
	TotalPaidCents   int64
	TotalPatientResp int64
	ClaimCount       int64
}

// StampExport locks a document for export and records its summary stats.
// Fails if the document already carries an active export lock.
func (s *Store) StampExport(ctx context.Context, docID string, stamp ExportStamp) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET exported_at = ?, export_batch_id = ?,
			total_paid_cents = ?, total_patient_cents = ?, claim_count = ?, updated_at = ?
		WHERE id = ? AND exported_at IS NULL`,
		nowUTC(), stamp.BatchID, stamp.TotalPaidCents, stamp.TotalPatientResp,
		stamp.ClaimCount, nowUTC(), docID)
	if err != nil {
		return fmt.Errorf("failed to stamp export: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrDocumentLocked
	}
	return nil
}

// UnlockExport clears a document's export lock so it can be re-encoded.
func (s *Store) UnlockExport(ctx context.Context, docID string) error {
	return s.updateDocument(ctx, docID, `
		UPDATE documents SET exported_at = NULL, export_batch_id = '', updated_at = ?
		WHERE id = ?`, nowUTC(), docID)
}

func (s *Store) updateDocument(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc        Document
		exportedAt sql.NullTime
		reasons    string
		paid       sql.NullInt64
		patient    sql.NullInt64
		claims     sql.NullInt64
	)
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.FileName, &doc.Status, &doc.PageCount,
		&doc.ItemsExtracted, &doc.ErrorCode, &doc.ErrorMessage, &exportedAt,
		&doc.ExportBatchID, &doc.FoundRevenue, &doc.ReviewStatus, &reasons,
		&paid, &patient, &claims, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	if exportedAt.Valid {
		doc.ExportedAt = &exportedAt.Time
	}
	if paid.Valid {
		doc.TotalPaidCents = &paid.Int64
	}
	if patient.Valid {
		doc.TotalPatientResp = &patient.Int64
	}
	if claims.Valid {
		doc.ClaimCount = &claims.Int64
	}
	if reasons != "" && reasons != "[]" {
		if err := json.Unmarshal([]byte(reasons), &doc.ReviewReasons); err != nil {
			return nil, fmt.Errorf("failed to decode review reasons: %w", err)
		}
	}
	return &doc, nil
}
