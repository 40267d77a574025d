package split_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/objstore"
	"github.com/evanhollis/eraflow/internal/split"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/testutil"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	tasks  []dispatch.Task
	reject bool
}

func (f *fakeDispatcher) Submit(ctx context.Context, task dispatch.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return dispatch.ErrNotConfirmed
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeDispatcher) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type harness struct {
	store      *store.Store
	registry   *objstore.Registry
	pages      objstore.Store
	dispatcher *fakeDispatcher
	orch       *split.Orchestrator
}

func newHarness(t *testing.T, cfg split.Config) *harness {
	t.Helper()

	fs, err := objstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("objstore: %v", err)
	}
	registry := objstore.NewRegistry(map[string]objstore.Store{
		"local": fs,
	})

	if cfg.PageStore == "" {
		cfg.PageStore = "local"
	}
	if cfg.PageBucket == "" {
		cfg.PageBucket = "pages"
	}

	st := testutil.NewStore(t)
	d := &fakeDispatcher{}
	return &harness{
		store:      st,
		registry:   registry,
		pages:      fs,
		dispatcher: d,
		orch:       split.New(st, registry, d, cfg, nil),
	}
}

func (h *harness) stageSource(t *testing.T, pages int) split.Request {
	t.Helper()
	ctx := t.Context()
	if err := h.pages.Put(ctx, "inbox", "upload.pdf", testutil.PDF(t, pages)); err != nil {
		t.Fatalf("stage source: %v", err)
	}
	return split.Request{
		TenantID:     "tenant-a",
		FileName:     "upload.pdf",
		SourceStore:  "local",
		SourceBucket: "inbox",
		SourceKey:    "upload.pdf",
	}
}

func TestProcessQueuesAllPages(t *testing.T) {
	h := newHarness(t, split.Config{MaxAttempts: 3})
	ctx := t.Context()

	if err := h.store.GrantCredits(ctx, "tenant-a", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}

	doc, err := h.orch.Process(ctx, h.stageSource(t, 3))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if doc.Status != store.DocStatusQueued {
		t.Fatalf("status = %s (%s: %s)", doc.Status, doc.ErrorCode, doc.ErrorMessage)
	}
	if doc.PageCount != 3 {
		t.Errorf("page count = %d", doc.PageCount)
	}

	jobs, err := h.store.ListPageJobs(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != store.JobStatusQueued {
			t.Errorf("page %d status = %s", job.PageNumber, job.Status)
		}
		exists, err := h.pages.Exists(ctx, "pages", job.StorageKey)
		if err != nil || !exists {
			t.Errorf("page %d object missing (err=%v)", job.PageNumber, err)
		}
	}

	if got := h.dispatcher.submitted(); got != 3 {
		t.Errorf("dispatched = %d", got)
	}
	balance, _ := h.store.CreditBalance(ctx, "tenant-a")
	if balance != 7 {
		t.Errorf("balance = %d, want 7", balance)
	}
}

func TestProcessInsufficientCredits(t *testing.T) {
	h := newHarness(t, split.Config{})
	ctx := t.Context()

	if err := h.store.GrantCredits(ctx, "tenant-a", 2); err != nil {
		t.Fatalf("grant: %v", err)
	}

	doc, err := h.orch.Process(ctx, h.stageSource(t, 3))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.Status != store.DocStatusFailed {
		t.Fatalf("status = %s", doc.Status)
	}
	if doc.ErrorCode != split.CodeInsufficientCredits {
		t.Errorf("code = %s", doc.ErrorCode)
	}

	balance, _ := h.store.CreditBalance(ctx, "tenant-a")
	if balance != 2 {
		t.Errorf("balance = %d, want untouched 2", balance)
	}
	jobs, _ := h.store.ListPageJobs(ctx, doc.ID)
	if len(jobs) != 0 {
		t.Errorf("jobs created for failed document: %d", len(jobs))
	}
}

func TestProcessRejectsGarbageSource(t *testing.T) {
	h := newHarness(t, split.Config{})
	ctx := t.Context()

	if err := h.store.GrantCredits(ctx, "tenant-a", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := h.pages.Put(ctx, "inbox", "bad.bin", []byte("not a pdf at all")); err != nil {
		t.Fatalf("stage: %v", err)
	}

	doc, err := h.orch.Process(ctx, split.Request{
		TenantID:     "tenant-a",
		SourceStore:  "local",
		SourceBucket: "inbox",
		SourceKey:    "bad.bin",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.Status != store.DocStatusFailed || doc.ErrorCode != split.CodeInvalidPDF {
		t.Fatalf("status = %s code = %s", doc.Status, doc.ErrorCode)
	}
	balance, _ := h.store.CreditBalance(ctx, "tenant-a")
	if balance != 10 {
		t.Errorf("balance = %d, want untouched 10", balance)
	}
}

func TestProcessPageCeiling(t *testing.T) {
	h := newHarness(t, split.Config{MaxPages: 2})
	ctx := t.Context()

	if err := h.store.GrantCredits(ctx, "tenant-a", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}

	doc, err := h.orch.Process(ctx, h.stageSource(t, 3))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.ErrorCode != split.CodeTooManyPages {
		t.Fatalf("code = %s", doc.ErrorCode)
	}
	balance, _ := h.store.CreditBalance(ctx, "tenant-a")
	if balance != 10 {
		t.Errorf("ceiling rejection must not charge, balance = %d", balance)
	}
}

func TestProcessMissingSource(t *testing.T) {
	h := newHarness(t, split.Config{})
	ctx := t.Context()

	doc, err := h.orch.Process(ctx, split.Request{
		TenantID:     "tenant-a",
		SourceStore:  "local",
		SourceBucket: "inbox",
		SourceKey:    "nope.pdf",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if doc.ErrorCode != split.CodeFetchFailed {
		t.Fatalf("code = %s", doc.ErrorCode)
	}
}

// faultyPutStore rejects uploads for keys with a given suffix.
type faultyPutStore struct {
	objstore.Store
	failSuffix string
}

func (f *faultyPutStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	if strings.HasSuffix(key, f.failSuffix) {
		return fmt.Errorf("upload rejected")
	}
	return f.Store.Put(ctx, bucket, key, data)
}

func TestAbortedFanOutFailsCreatedJobs(t *testing.T) {
	ctx := t.Context()

	fs, err := objstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("objstore: %v", err)
	}
	faulty := &faultyPutStore{Store: fs, failSuffix: "page-002.pdf"}
	registry := objstore.NewRegistry(map[string]objstore.Store{
		"local": faulty,
	})
	st := testutil.NewStore(t)
	d := &fakeDispatcher{}
	// Serial uploads so page 1's job exists before page 2's upload breaks.
	orch := split.New(st, registry, d, split.Config{
		PageStore:         "local",
		PageBucket:        "pages",
		UploadConcurrency: 1,
	}, nil)

	if err := st.GrantCredits(ctx, "tenant-a", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := fs.Put(ctx, "inbox", "upload.pdf", testutil.PDF(t, 2)); err != nil {
		t.Fatalf("stage source: %v", err)
	}

	doc, err := orch.Process(ctx, split.Request{
		TenantID:     "tenant-a",
		FileName:     "upload.pdf",
		SourceStore:  "local",
		SourceBucket: "inbox",
		SourceKey:    "upload.pdf",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if doc.Status != store.DocStatusFailed {
		t.Fatalf("status = %s", doc.Status)
	}
	if doc.ErrorCode != split.CodeUploadFailed {
		t.Errorf("code = %s, want %s", doc.ErrorCode, split.CodeUploadFailed)
	}

	balance, _ := st.CreditBalance(ctx, "tenant-a")
	if balance != 10 {
		t.Errorf("balance = %d, want full refund to 10", balance)
	}

	// The refund covers every page, so jobs recorded before the abort must be
	// terminal: a queued leftover would let the sweeper run paid extraction
	// for a refunded document.
	jobs, err := st.ListPageJobs(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) == 0 {
		t.Fatal("expected at least the first page's job to exist")
	}
	for _, job := range jobs {
		if job.Status != store.JobStatusFailed {
			t.Errorf("page %d status = %s, want failed", job.PageNumber, job.Status)
		}
	}

	stale, err := st.StaleQueuedJobs(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("stale scan: %v", err)
	}
	for _, job := range stale {
		if job.DocumentID == doc.ID {
			t.Errorf("page %d still visible to the sweeper", job.PageNumber)
		}
	}

	if got := d.submitted(); got != 0 {
		t.Errorf("dispatched = %d, want 0", got)
	}
}

func TestUnconfirmedDispatchLeavesJobsQueued(t *testing.T) {
	h := newHarness(t, split.Config{})
	h.dispatcher.reject = true
	ctx := t.Context()

	if err := h.store.GrantCredits(ctx, "tenant-a", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}

	doc, err := h.orch.Process(ctx, h.stageSource(t, 2))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// Dispatch confirmation failure is not a document failure: the charge
	// stands and the sweeper owns recovery.
	if doc.Status != store.DocStatusQueued {
		t.Fatalf("status = %s", doc.Status)
	}
	balance, _ := h.store.CreditBalance(ctx, "tenant-a")
	if balance != 8 {
		t.Errorf("balance = %d, want 8", balance)
	}

	h.dispatcher.reject = false
	n, err := h.orch.Redispatch(ctx, doc.ID)
	if err != nil {
		t.Fatalf("redispatch: %v", err)
	}
	if n != 2 {
		t.Errorf("redispatched = %d, want 2", n)
	}
}
