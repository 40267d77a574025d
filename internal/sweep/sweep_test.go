package sweep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanhollis/eraflow/internal/dispatch"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/sweep"
	"github.com/evanhollis/eraflow/internal/testutil"
)

// fakeRunner records re-run tasks and optionally finalizes the job, standing
// in for the extraction worker.
type fakeRunner struct {
	mu      sync.Mutex
	store   *store.Store
	tasks   []dispatch.Task
	succeed bool
}

func (f *fakeRunner) Run(ctx context.Context, task dispatch.Task) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.succeed {
		_ = f.store.MarkJobSucceeded(ctx, task.JobID, 0, "{}")
	}
}

func (f *fakeRunner) runs(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, task := range f.tasks {
		if task.JobID == jobID {
			n++
		}
	}
	return n
}

// testConfig uses cutoffs small enough that a short sleep ages every row.
func testConfig() sweep.Config {
	return sweep.Config{
		StaleAfter: time.Millisecond,
		Cooldown:   time.Millisecond,
		BatchSize:  10,
	}
}

func seedDocument(t *testing.T, st *store.Store, pages int) (*store.Document, []*store.PageJob) {
	t.Helper()
	ctx := t.Context()

	doc := &store.Document{ID: uuid.NewString(), TenantID: "tenant-a", Status: store.DocStatusPending}
	if err := st.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := st.GrantCredits(ctx, doc.TenantID, int64(pages)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, err := st.ChargeCredits(ctx, doc.TenantID, int64(pages)); err != nil || !ok {
		t.Fatalf("charge: ok=%v err=%v", ok, err)
	}

	var jobs []*store.PageJob
	for page := 1; page <= pages; page++ {
		job := &store.PageJob{
			ID: uuid.NewString(), DocumentID: doc.ID, TenantID: doc.TenantID,
			PageNumber: page, MaxAttempts: 3,
		}
		if _, err := st.CreatePageJob(ctx, job); err != nil {
			t.Fatalf("create job: %v", err)
		}
		jobs = append(jobs, job)
	}
	if err := st.SetDocumentQueued(ctx, doc.ID, pages); err != nil {
		t.Fatalf("queue document: %v", err)
	}
	return doc, jobs
}

func age() { time.Sleep(30 * time.Millisecond) }

func TestSweepRerunsStaleQueuedJobsOncePerPass(t *testing.T) {
	st := testutil.NewStore(t)
	runner := &fakeRunner{store: st}
	s := sweep.New(st, runner, testConfig(), nil)

	_, jobs := seedDocument(t, st, 2)
	age()

	report, err := s.Sweep(t.Context())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.StaleRerun != 2 {
		t.Fatalf("stale rerun = %d", report.StaleRerun)
	}
	for _, job := range jobs {
		if n := runner.runs(job.ID); n != 1 {
			t.Errorf("job %s rerun %d times in one pass", job.ID, n)
		}
	}
}

func TestSweepFinalizedJobNotRerunAgain(t *testing.T) {
	st := testutil.NewStore(t)
	runner := &fakeRunner{store: st, succeed: true}
	s := sweep.New(st, runner, testConfig(), nil)

	_, jobs := seedDocument(t, st, 1)
	age()

	if _, err := s.Sweep(t.Context()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	age()
	report, err := s.Sweep(t.Context())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.StaleRerun != 0 {
		t.Errorf("succeeded job rerun in second pass, report = %+v", report)
	}
	if n := runner.runs(jobs[0].ID); n != 1 {
		t.Errorf("total runs = %d, want 1", n)
	}
}

func TestSweepRequeuesCooledRetryableJobs(t *testing.T) {
	st := testutil.NewStore(t)
	runner := &fakeRunner{store: st}
	s := sweep.New(st, runner, testConfig(), nil)
	ctx := t.Context()

	_, jobs := seedDocument(t, st, 1)
	status, err := st.MarkJobFailure(ctx, jobs[0].ID, "rate limited", false)
	if err != nil || status != store.JobStatusRetryable {
		t.Fatalf("mark failure: status=%s err=%v", status, err)
	}
	age()

	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.RetryRequeued != 1 {
		t.Fatalf("retry requeued = %d", report.RetryRequeued)
	}

	job, err := st.GetPageJob(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobStatusQueued {
		t.Errorf("status = %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("requeue must keep the attempt count, attempts = %d", job.Attempts)
	}
	if n := runner.runs(jobs[0].ID); n != 1 {
		t.Errorf("runs = %d", n)
	}
}

func TestSweepClosesStalledDocument(t *testing.T) {
	st := testutil.NewStore(t)
	runner := &fakeRunner{store: st}
	s := sweep.New(st, runner, testConfig(), nil)
	ctx := t.Context()

	// Both pages finished but the rollup never ran (crash window).
	doc, jobs := seedDocument(t, st, 2)
	for _, job := range jobs {
		if err := st.MarkJobSucceeded(ctx, job.ID, 0, "{}"); err != nil {
			t.Fatalf("mark succeeded: %v", err)
		}
	}
	age()

	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.DocumentsRolledUp != 1 {
		t.Fatalf("documents rolled up = %d", report.DocumentsRolledUp)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != store.DocStatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.ReviewStatus == "" {
		t.Error("review evaluation should run when sweep closes a document")
	}

	// A second pass finds nothing to do.
	report, err = s.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.DocumentsRolledUp != 0 {
		t.Errorf("second pass rolled up %d", report.DocumentsRolledUp)
	}
}

func TestSweepRefundsAllFailedStalledDocument(t *testing.T) {
	st := testutil.NewStore(t)
	runner := &fakeRunner{store: st}
	s := sweep.New(st, runner, testConfig(), nil)
	ctx := t.Context()

	doc, jobs := seedDocument(t, st, 2)
	for _, job := range jobs {
		for i := 0; i < 3; i++ {
			if _, err := st.MarkJobFailure(ctx, job.ID, "boom", false); err != nil {
				t.Fatalf("mark failure: %v", err)
			}
		}
	}
	age()

	if _, err := s.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, err := st.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got.Status != store.DocStatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	balance, _ := st.CreditBalance(ctx, "tenant-a")
	if balance != 2 {
		t.Errorf("refund via sweep path, balance = %d want 2", balance)
	}

	// Idempotent: another pass must not refund again.
	age()
	if _, err := s.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	balance, _ = st.CreditBalance(ctx, "tenant-a")
	if balance != 2 {
		t.Errorf("double refund, balance = %d", balance)
	}
}
