// Package split fans a remittance document out into single-page jobs: it
// fetches the source PDF, counts and splits pages, charges the tenant's
// credit balance, uploads each page to object storage, records one job per
// page, and hands the jobs to the worker pool.
package split

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/objstore"
	"github.com/evanhollis/eraflow/internal/store"
)

// Document failure codes written by the orchestrator.
const (
	CodeFetchFailed         = "fetch_failed"
	CodeInvalidPDF          = "invalid_pdf"
	CodeTooManyPages        = "too_many_pages"
	CodeInsufficientCredits = "insufficient_credits"
	CodeSplitFailed         = "split_failed"
	CodeUploadFailed        = "upload_failed"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxPages is the per-document page ceiling. Documents above it are
	// rejected before any credits are charged.
	MaxPages int

	// MaxAttempts is the per-page attempt budget recorded on each job.
	MaxAttempts int

	// BatchSize and BatchDelay pace the dispatch fan-out so a large document
	// does not flood the queue at once.
	BatchSize  int
	BatchDelay time.Duration

	// UploadConcurrency bounds parallel page uploads.
	UploadConcurrency int

	// PageStore and PageBucket name where split pages are written.
	PageStore  string
	PageBucket string
}

func (c *Config) applyDefaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 200
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 4
	}
}

// Request describes one document to process. Exactly one of SourceURL or the
// SourceStore/SourceBucket/SourceKey triple must be set.
type Request struct {
	TenantID string
	FileName string

	SourceURL string

	SourceStore  string
	SourceBucket string
	SourceKey    string
}

// Orchestrator runs the split-and-enqueue flow.
type Orchestrator struct {
	store      *store.Store
	stores     *objstore.Registry
	dispatcher dispatch.Dispatcher
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

// New creates an orchestrator.
func New(st *store.Store, stores *objstore.Registry, d dispatch.Dispatcher, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		stores:     stores,
		dispatcher: d,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.With("component", "split"),
		cfg:        cfg,
	}
}

// Process creates a document record and runs the full fan-out. The returned
// document reflects the outcome: queued on success, failed with an error code
// otherwise. The error return is reserved for store-level failures.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*store.Document, error) {
	doc := &store.Document{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		FileName: req.FileName,
		Status:   store.DocStatusPending,
	}
	if err := o.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	logger := o.logger.With("document_id", doc.ID, "tenant_id", doc.TenantID)

	if code, err := o.run(ctx, doc, req, logger); err != nil {
		logger.Error("document processing failed", "code", code, "error", err)
		if ferr := o.store.FailDocument(ctx, doc.ID, code, err.Error()); ferr != nil {
			return nil, ferr
		}
	}
	return o.store.GetDocument(ctx, doc.ID)
}

// run executes fetch, split, charge, upload, enqueue and dispatch. It returns
// a failure code and error when the document cannot proceed; the caller
// persists the failure. Credits charged before a failure are refunded here.
func (o *Orchestrator) run(ctx context.Context, doc *store.Document, req Request, logger *slog.Logger) (string, error) {
	source, err := o.fetchSource(ctx, req)
	if err != nil {
		return CodeFetchFailed, err
	}

	workDir, err := os.MkdirTemp("", "eraflow-split-*")
	if err != nil {
		return CodeSplitFailed, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(srcPath, source, 0o600); err != nil {
		return CodeSplitFailed, fmt.Errorf("failed to stage source file: %w", err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return CodeSplitFailed, fmt.Errorf("failed to open staged file: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return CodeInvalidPDF, fmt.Errorf("failed to read page count: %w", err)
	}
	if pageCount == 0 {
		return CodeInvalidPDF, fmt.Errorf("document has no pages")
	}
	if pageCount > o.cfg.MaxPages {
		return CodeTooManyPages, fmt.Errorf("document has %d pages, limit is %d", pageCount, o.cfg.MaxPages)
	}

	// One credit per page, charged up front in a single atomic debit.
	ok, err := o.store.ChargeCredits(ctx, doc.TenantID, int64(pageCount))
	if err != nil {
		return CodeInsufficientCredits, err
	}
	if !ok {
		return CodeInsufficientCredits, fmt.Errorf("balance below %d credits", pageCount)
	}
	logger.Info("credits charged", "pages", pageCount)

	jobs, code, err := o.splitAndEnqueue(ctx, doc, srcPath, workDir, pageCount)
	if err != nil {
		// Nothing has been dispatched and the whole charge comes back, so
		// any jobs already recorded must never run. Fail them before the
		// refund: a refunded page the sweeper re-fires would be free work.
		if n, ferr := o.store.FailPendingJobs(ctx, doc.ID, "fan-out aborted: "+err.Error()); ferr != nil {
			logger.Error("failed to close out pending jobs", "error", ferr)
		} else if n > 0 {
			logger.Info("abandoned fan-out jobs failed", "jobs", n)
		}
		if rerr := o.store.RefundCredits(ctx, doc.TenantID, int64(pageCount)); rerr != nil {
			logger.Error("refund after failed fan-out did not apply", "error", rerr)
		}
		return code, err
	}

	if err := o.store.SetDocumentQueued(ctx, doc.ID, pageCount); err != nil {
		return CodeSplitFailed, err
	}

	o.dispatchBatches(ctx, jobs, logger)
	logger.Info("document queued", "pages", pageCount)
	return "", nil
}

// splitAndEnqueue splits the staged PDF, uploads each page and records its
// job row. Uploads are idempotent: a page object that already exists is kept.
// On failure the returned code names the phase that broke: splitting the
// staged file or the per-page upload/enqueue fan-out.
func (o *Orchestrator) splitAndEnqueue(ctx context.Context, doc *store.Document, srcPath, workDir string, pageCount int) ([]dispatch.Task, string, error) {
	pages, err := o.stores.Lookup(o.cfg.PageStore)
	if err != nil {
		return nil, CodeSplitFailed, err
	}

	outDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return nil, CodeSplitFailed, fmt.Errorf("failed to create pages dir: %w", err)
	}
	if err := api.SplitFile(srcPath, outDir, 1, nil); err != nil {
		return nil, CodeSplitFailed, fmt.Errorf("failed to split document: %w", err)
	}

	base := "source"
	tasks := make([]dispatch.Task, pageCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.UploadConcurrency)
	for page := 1; page <= pageCount; page++ {
		g.Go(func() error {
			pagePath := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", base, page))
			data, err := os.ReadFile(pagePath)
			if err != nil {
				return fmt.Errorf("failed to read split page %d: %w", page, err)
			}

			key := objstore.PageKey(doc.ID, page)
			exists, err := pages.Exists(gctx, o.cfg.PageBucket, key)
			if err != nil {
				return fmt.Errorf("failed to probe page %d object: %w", page, err)
			}
			if !exists {
				if err := pages.Put(gctx, o.cfg.PageBucket, key, data); err != nil {
					return fmt.Errorf("failed to upload page %d: %w", page, err)
				}
			}

			job := &store.PageJob{
				ID:            uuid.NewString(),
				DocumentID:    doc.ID,
				TenantID:      doc.TenantID,
				PageNumber:    page,
				MaxAttempts:   o.cfg.MaxAttempts,
				StorageStore:  o.cfg.PageStore,
				StorageBucket: o.cfg.PageBucket,
				StorageKey:    key,
			}
			created, err := o.store.CreatePageJob(gctx, job)
			if err != nil {
				return fmt.Errorf("failed to record page %d job: %w", page, err)
			}
			if !created {
				existing, err := o.store.GetPageJobByPage(gctx, doc.ID, page)
				if err != nil {
					return err
				}
				job.ID = existing.ID
			}

			tasks[page-1] = dispatch.Task{
				JobID:      job.ID,
				DocumentID: doc.ID,
				PageNumber: page,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, CodeUploadFailed, err
	}
	return tasks, "", nil
}

// dispatchBatches submits tasks to the pool in paced batches. A task that is
// not confirmed within the window is left queued; the sweeper re-dispatches
// it later, so no error surfaces here.
func (o *Orchestrator) dispatchBatches(ctx context.Context, tasks []dispatch.Task, logger *slog.Logger) {
	for i, task := range tasks {
		if i > 0 && i%o.cfg.BatchSize == 0 && o.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				logger.Warn("dispatch interrupted", "submitted", i, "total", len(tasks))
				return
			case <-time.After(o.cfg.BatchDelay):
			}
		}
		if err := o.dispatcher.Submit(ctx, task); err != nil {
			logger.Warn("page left for sweeper",
				"job_id", task.JobID, "page", task.PageNumber, "error", err)
		}
	}
}

// Redispatch resubmits every queued page job of a document. Used after a
// reprocess reset.
func (o *Orchestrator) Redispatch(ctx context.Context, docID string) (int, error) {
	jobs, err := o.store.ListPageJobs(ctx, docID)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, job := range jobs {
		if job.Status != store.JobStatusQueued {
			continue
		}
		task := dispatch.Task{JobID: job.ID, DocumentID: job.DocumentID, PageNumber: job.PageNumber}
		if err := o.dispatcher.Submit(ctx, task); err != nil {
			o.logger.Warn("redispatch not confirmed", "job_id", job.ID, "error", err)
			continue
		}
		submitted++
	}
	return submitted, nil
}

func (o *Orchestrator) fetchSource(ctx context.Context, req Request) ([]byte, error) {
	if req.SourceURL != "" {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SourceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid source url: %w", err)
		}
		resp, err := o.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("failed to download source: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("source download returned status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	if req.SourceStore == "" || req.SourceKey == "" {
		return nil, fmt.Errorf("request names neither a source url nor a stored object")
	}
	src, err := o.stores.Lookup(req.SourceStore)
	if err != nil {
		return nil, err
	}
	data, err := src.Get(ctx, req.SourceBucket, req.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read source object: %w", err)
	}
	return data, nil
}
