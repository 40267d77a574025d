package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/testutil"
)

func seedDocument(t *testing.T, s *store.Store, tenant string, pages int) *store.Document {
	t.Helper()
	ctx := context.Background()
	doc := &store.Document{ID: uuid.New().String(), TenantID: tenant, FileName: "remit.pdf"}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	for p := 1; p <= pages; p++ {
		created, err := s.CreatePageJob(ctx, &store.PageJob{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			TenantID:    tenant,
			PageNumber:  p,
			MaxAttempts: 3,
		})
		if err != nil {
			t.Fatalf("create page job: %v", err)
		}
		if !created {
			t.Fatalf("page job %d should be created", p)
		}
	}
	if err := s.SetDocumentQueued(ctx, doc.ID, pages); err != nil {
		t.Fatalf("queue document: %v", err)
	}
	return doc
}

func TestCreatePageJobIsUniquePerPage(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 1)

	created, err := s.CreatePageJob(ctx, &store.PageJob{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		TenantID:   "t1",
		PageNumber: 1,
	})
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if created {
		t.Fatal("duplicate (document,page) must not create a second job")
	}
}

func TestFailureTransitions(t *testing.T) {
	tests := []struct {
		name      string
		permanent bool
		failures  int
		want      store.JobStatus
	}{
		{"transient below budget", false, 1, store.JobStatusRetryable},
		{"transient exhausts budget", false, 3, store.JobStatusFailed},
		{"permanent fails immediately", true, 1, store.JobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewStore(t)
			ctx := context.Background()
			doc := seedDocument(t, s, "t1", 1)
			job, err := s.GetPageJobByPage(ctx, doc.ID, 1)
			if err != nil {
				t.Fatalf("get job: %v", err)
			}

			var status store.JobStatus
			for i := 0; i < tt.failures; i++ {
				status, err = s.MarkJobFailure(ctx, job.ID, "upstream error", tt.permanent)
				if err != nil {
					t.Fatalf("mark failure: %v", err)
				}
			}
			if status != tt.want {
				t.Fatalf("expected status %s, got %s", tt.want, status)
			}

			got, _ := s.GetPageJob(ctx, job.ID)
			if got.Attempts != tt.failures {
				t.Fatalf("expected %d attempts, got %d", tt.failures, got.Attempts)
			}
		})
	}
}

func TestFailureOnTerminalJobIsNoop(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 1)
	job, _ := s.GetPageJobByPage(ctx, doc.ID, 1)

	if err := s.MarkJobSucceeded(ctx, job.ID, 2, `{"items":[]}`); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	status, err := s.MarkJobFailure(ctx, job.ID, "late failure", false)
	if err != nil {
		t.Fatalf("mark failure: %v", err)
	}
	if status != store.JobStatusSucceeded {
		t.Fatalf("terminal job must not transition, got %s", status)
	}
	got, _ := s.GetPageJob(ctx, job.ID)
	if got.Attempts != 0 {
		t.Fatalf("attempts must not move on terminal job, got %d", got.Attempts)
	}
}

func TestRequeueOnlyFromRetryable(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 1)
	job, _ := s.GetPageJobByPage(ctx, doc.ID, 1)

	if ok, _ := s.RequeueJob(ctx, job.ID); ok {
		t.Fatal("queued job must not be requeued")
	}
	if _, err := s.MarkJobFailure(ctx, job.ID, "boom", false); err != nil {
		t.Fatalf("mark failure: %v", err)
	}
	ok, err := s.RequeueJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if !ok {
		t.Fatal("retryable job should requeue")
	}
	got, _ := s.GetPageJob(ctx, job.ID)
	if got.Status != store.JobStatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("requeue must preserve attempts, got %d", got.Attempts)
	}
}

func TestFailPendingJobsClosesNonTerminal(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 3)

	// Page 1 succeeded, page 2 is retryable, page 3 still queued.
	job1, _ := s.GetPageJobByPage(ctx, doc.ID, 1)
	if err := s.MarkJobSucceeded(ctx, job1.ID, 2, `{"items":[]}`); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	job2, _ := s.GetPageJobByPage(ctx, doc.ID, 2)
	if _, err := s.MarkJobFailure(ctx, job2.ID, "boom", false); err != nil {
		t.Fatalf("mark failure: %v", err)
	}

	n, err := s.FailPendingJobs(ctx, doc.ID, "fan-out aborted")
	if err != nil {
		t.Fatalf("fail pending: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs failed, got %d", n)
	}

	got1, _ := s.GetPageJob(ctx, job1.ID)
	if got1.Status != store.JobStatusSucceeded {
		t.Errorf("terminal job must keep its status, got %s", got1.Status)
	}
	for _, page := range []int{2, 3} {
		job, _ := s.GetPageJobByPage(ctx, doc.ID, page)
		if job.Status != store.JobStatusFailed {
			t.Errorf("page %d status = %s, want failed", page, job.Status)
		}
		if job.ErrorMessage != "fan-out aborted" {
			t.Errorf("page %d error = %q", page, job.ErrorMessage)
		}
	}

	// Nothing is left for the sweeper's scans.
	future := time.Now().UTC().Add(time.Hour)
	if jobs, _ := s.StaleQueuedJobs(ctx, future, 10); len(jobs) != 0 {
		t.Errorf("stale scan found %d jobs, want 0", len(jobs))
	}
	if jobs, _ := s.CooledRetryableJobs(ctx, future, 10); len(jobs) != 0 {
		t.Errorf("cooled scan found %d jobs, want 0", len(jobs))
	}
}

func TestStaleJobScans(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 2)

	// Everything was just written, so a cutoff in the past finds nothing.
	past := time.Now().UTC().Add(-time.Hour)
	jobs, err := s.StaleQueuedJobs(ctx, past, 10)
	if err != nil {
		t.Fatalf("stale scan: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no stale jobs, got %d", len(jobs))
	}

	// A future cutoff treats all queued jobs as stale.
	future := time.Now().UTC().Add(time.Hour)
	jobs, err = s.StaleQueuedJobs(ctx, future, 10)
	if err != nil {
		t.Fatalf("stale scan: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 stale jobs, got %d", len(jobs))
	}
	if jobs[0].DocumentID != doc.ID {
		t.Fatalf("unexpected document id %s", jobs[0].DocumentID)
	}

	job, _ := s.GetPageJobByPage(ctx, doc.ID, 1)
	if _, err := s.MarkJobFailure(ctx, job.ID, "boom", false); err != nil {
		t.Fatalf("mark failure: %v", err)
	}
	cooled, err := s.CooledRetryableJobs(ctx, future, 10)
	if err != nil {
		t.Fatalf("cooled scan: %v", err)
	}
	if len(cooled) != 1 || cooled[0].ID != job.ID {
		t.Fatalf("expected the retryable job in cooled scan, got %d", len(cooled))
	}
}
