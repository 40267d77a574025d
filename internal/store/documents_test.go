package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/testutil"
)

// Rollup status is a pure function of (succeeded, total) once all jobs are
// terminal, independent of the order the jobs finished in.
func TestRollupStatusTable(t *testing.T) {
	tests := []struct {
		succeeded int
		total     int
		want      store.DocumentStatus
	}{
		{3, 3, store.DocStatusCompleted},
		{1, 2, store.DocStatusPartialFailure},
		{2, 3, store.DocStatusPartialFailure},
		{0, 1, store.DocStatusFailed},
		{0, 4, store.DocStatusFailed},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.succeeded, tt.total), func(t *testing.T) {
			s := testutil.NewStore(t)
			ctx := context.Background()
			if err := s.GrantCredits(ctx, "t1", 100); err != nil {
				t.Fatalf("grant: %v", err)
			}
			doc := seedDocument(t, s, "t1", tt.total)

			jobs, _ := s.ListPageJobs(ctx, doc.ID)
			for i, job := range jobs {
				if i < tt.succeeded {
					if err := s.MarkJobSucceeded(ctx, job.ID, 2, "{}"); err != nil {
						t.Fatalf("succeed: %v", err)
					}
				} else {
					if _, err := s.MarkJobFailure(ctx, job.ID, "boom", true); err != nil {
						t.Fatalf("fail: %v", err)
					}
				}
			}

			res, err := s.RollupDocument(ctx, doc.ID)
			if err != nil {
				t.Fatalf("rollup: %v", err)
			}
			if !res.Changed {
				t.Fatal("rollup should finalize the document")
			}
			if res.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, res.Status)
			}

			got, _ := s.GetDocument(ctx, doc.ID)
			if got.Status != tt.want {
				t.Fatalf("document status %s, want %s", got.Status, tt.want)
			}
			if wantItems := tt.succeeded * 2; got.ItemsExtracted != wantItems {
				t.Fatalf("items_extracted %d, want %d", got.ItemsExtracted, wantItems)
			}
			if tt.want == store.DocStatusPartialFailure {
				wantMsg := fmt.Sprintf("%d of %d pages processed", tt.succeeded, tt.total)
				if got.ErrorMessage != wantMsg {
					t.Fatalf("error message %q, want %q", got.ErrorMessage, wantMsg)
				}
			}
		})
	}
}

func TestRollupSkipsWhilePagesOutstanding(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 2)

	jobs, _ := s.ListPageJobs(ctx, doc.ID)
	if err := s.MarkJobSucceeded(ctx, jobs[0].ID, 1, "{}"); err != nil {
		t.Fatalf("succeed: %v", err)
	}

	res, err := s.RollupDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if res.Changed {
		t.Fatal("rollup must not act while a page is outstanding")
	}
	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Status.Terminal() {
		t.Fatalf("document should stay non-terminal, got %s", got.Status)
	}
}

// A fully-failed document refunds the whole page-count charge exactly once,
// even when the rollup runs again (sweeper crash-recovery path).
func TestRollupRefundExactlyOnce(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	if err := s.GrantCredits(ctx, "t1", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}
	doc := seedDocument(t, s, "t1", 2)
	if ok, _ := s.ChargeCredits(ctx, "t1", 2); !ok {
		t.Fatal("charge should succeed")
	}

	jobs, _ := s.ListPageJobs(ctx, doc.ID)
	for _, job := range jobs {
		if _, err := s.MarkJobFailure(ctx, job.ID, "boom", true); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	res, err := s.RollupDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if res.Status != store.DocStatusFailed || res.Refunded != 2 {
		t.Fatalf("expected failed with refund 2, got %s refund %d", res.Status, res.Refunded)
	}

	// Idempotent re-run: no second refund.
	res2, err := s.RollupDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second rollup: %v", err)
	}
	if res2.Changed || res2.Refunded != 0 {
		t.Fatal("re-running rollup on a terminal document must be a no-op")
	}

	balance, _ := s.CreditBalance(ctx, "t1")
	if balance != 10 {
		t.Fatalf("expected balance restored to 10, got %d", balance)
	}
}

func TestPartialFailureKeepsCharge(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	if err := s.GrantCredits(ctx, "t1", 10); err != nil {
		t.Fatalf("grant: %v", err)
	}
	doc := seedDocument(t, s, "t1", 2)
	if ok, _ := s.ChargeCredits(ctx, "t1", 2); !ok {
		t.Fatal("charge should succeed")
	}

	jobs, _ := s.ListPageJobs(ctx, doc.ID)
	if err := s.MarkJobSucceeded(ctx, jobs[0].ID, 1, "{}"); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if _, err := s.MarkJobFailure(ctx, jobs[1].ID, "boom", true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	res, err := s.RollupDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if res.Status != store.DocStatusPartialFailure {
		t.Fatalf("expected partial_failure, got %s", res.Status)
	}
	balance, _ := s.CreditBalance(ctx, "t1")
	if balance != 8 {
		t.Fatalf("partial failure must not refund, balance %d", balance)
	}
}

func TestExportLockLifecycle(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	doc := seedDocument(t, s, "t1", 1)

	stamp := store.ExportStamp{BatchID: "batch-1", TotalPaidCents: 1500, ClaimCount: 1}
	if err := s.StampExport(ctx, doc.ID, stamp); err != nil {
		t.Fatalf("stamp: %v", err)
	}

	// Second stamp without unlock must fail.
	if err := s.StampExport(ctx, doc.ID, stamp); !errors.Is(err, store.ErrDocumentLocked) {
		t.Fatalf("expected ErrDocumentLocked, got %v", err)
	}

	// Reprocess is also blocked while locked.
	if err := s.ResetDocumentForReprocess(ctx, doc.ID); !errors.Is(err, store.ErrDocumentLocked) {
		t.Fatalf("expected ErrDocumentLocked on reset, got %v", err)
	}

	if err := s.UnlockExport(ctx, doc.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.StampExport(ctx, doc.ID, stamp); err != nil {
		t.Fatalf("stamp after unlock: %v", err)
	}

	got, _ := s.GetDocument(ctx, doc.ID)
	if got.ExportedAt == nil || got.ExportBatchID != "batch-1" {
		t.Fatal("export stamp not persisted")
	}
	if got.TotalPaidCents == nil || *got.TotalPaidCents != 1500 {
		t.Fatal("export stats not persisted")
	}
}
