// Package worker processes one page job at a time: fetch the page object,
// run extraction, dedupe and persist line items, advance the job state
// machine and evaluate the document rollup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/extract"
	"github.com/evanhollis/eraflow/internal/objstore"
	"github.com/evanhollis/eraflow/internal/store"
)

// Worker executes page jobs handed over by the dispatcher.
type Worker struct {
	store  *store.Store
	stores *objstore.Registry
	client extract.Client
	logger *slog.Logger
}

// New creates a worker.
func New(st *store.Store, stores *objstore.Registry, client extract.Client, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  st,
		stores: stores,
		client: client,
		logger: logger.With("component", "worker"),
	}
}

// Handler adapts the worker for the dispatch pool.
func (w *Worker) Handler() dispatch.Handler {
	return func(ctx context.Context, task dispatch.Task) {
		w.Run(ctx, task)
	}
}

// Run processes a single task end to end. All outcomes are persisted; the
// sweeper handles anything this leaves non-terminal.
func (w *Worker) Run(ctx context.Context, task dispatch.Task) {
	logger := w.logger.With("job_id", task.JobID, "document_id", task.DocumentID, "page", task.PageNumber)

	job, err := w.store.GetPageJob(ctx, task.JobID)
	if err != nil {
		logger.Error("failed to load page job", "error", err)
		return
	}
	if job.Status.Terminal() {
		// Duplicate delivery (sweeper re-dispatch racing the original).
		logger.Debug("job already terminal", "status", job.Status)
		return
	}

	if err := w.store.MarkDocumentProcessing(ctx, job.DocumentID); err != nil {
		logger.Error("failed to mark document processing", "error", err)
	}

	if err := w.processJob(ctx, job, logger); err != nil {
		w.recordFailure(ctx, job, err, logger)
	}

	rollup, err := w.store.RollupDocument(ctx, job.DocumentID)
	if err != nil {
		logger.Error("rollup failed", "error", err)
		return
	}
	if rollup.Changed {
		logger.Info("document reached terminal status",
			"status", rollup.Status,
			"succeeded_pages", rollup.SucceededPages,
			"total_pages", rollup.TotalPages,
			"items", rollup.ItemsExtracted,
			"refunded", rollup.Refunded)
		if err := ReviewDocument(ctx, w.store, job.DocumentID, rollup); err != nil {
			logger.Error("review evaluation failed", "error", err)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *store.PageJob, logger *slog.Logger) error {
	pages, err := w.stores.Lookup(job.StorageStore)
	if err != nil {
		return err
	}
	pagePDF, err := pages.Get(ctx, job.StorageBucket, job.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to fetch page object: %w", err)
	}

	result, err := w.client.ExtractPage(ctx, extract.Request{
		DocumentID: job.DocumentID,
		PageNumber: job.PageNumber,
		PagePDF:    pagePDF,
	})
	if err != nil {
		return err
	}

	deduped := dedupeItems(result.Items)
	if dropped := len(result.Items) - len(deduped); dropped > 0 {
		logger.Debug("merged duplicate line items", "dropped", dropped)
	}

	rows := toLineItems(job.DocumentID, job.TenantID, job.PageNumber, deduped)
	evaluateItemFlags(rows)

	// Replace-then-succeed: a rerun of this job lands on the same rows, so a
	// crash between the two writes cannot double-count items.
	if err := w.store.ReplacePageItems(ctx, job.DocumentID, job.PageNumber, rows); err != nil {
		return fmt.Errorf("failed to persist line items: %w", err)
	}
	if err := w.store.MarkJobSucceeded(ctx, job.ID, len(rows), result.Raw); err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}

	if foundRevenue(rows) {
		if err := w.store.SetDocumentFoundRevenue(ctx, job.DocumentID, true); err != nil {
			logger.Error("failed to set found-revenue flag", "error", err)
		}
	}

	logger.Info("page extracted", "items", len(rows))
	return nil
}

// recordFailure advances the job state machine for a failed attempt.
// Transient upstream errors stay retryable until the attempt budget runs
// out; everything else fails the page immediately.
func (w *Worker) recordFailure(ctx context.Context, job *store.PageJob, cause error, logger *slog.Logger) {
	if errors.Is(cause, context.Canceled) {
		// Shutdown, not an attempt. The job stays queued for the sweeper.
		logger.Info("job interrupted by shutdown")
		return
	}

	permanent := !extract.IsRetryable(cause)
	status, err := w.store.MarkJobFailure(ctx, job.ID, cause.Error(), permanent)
	if err != nil {
		logger.Error("failed to record job failure", "error", err)
		return
	}
	logger.Warn("page attempt failed",
		"error", cause, "permanent", permanent, "next_status", status)
}

// ReviewDocument derives the document-level review rollup once the document
// is terminal: failed pages, unreconciled totals, or flagged items all push
// it to needs_review. The sweeper calls this too when it closes out a
// stalled document.
func ReviewDocument(ctx context.Context, st *store.Store, docID string, rollup *store.RollupResult) error {
	var reasons []string

	if rollup.SucceededPages < rollup.TotalPages {
		reasons = append(reasons, ReviewPagesFailed)
	}

	if rollup.Status != store.DocStatusFailed {
		recon, err := st.ReconcileDocument(ctx, docID)
		if err != nil {
			return err
		}
		if recon.Status == store.ReconUnbalanced {
			reasons = append(reasons, ReviewTotalsMismatch)
		}

		items, err := st.ListDocumentItems(ctx, docID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Flagged {
				reasons = append(reasons, ReviewFlaggedItems)
				break
			}
		}
	}

	status := store.ReviewStatusClean
	if len(reasons) > 0 {
		status = store.ReviewStatusNeedsReview
	}
	return st.SetDocumentReview(ctx, docID, status, reasons)
}
