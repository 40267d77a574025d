package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/evanhollis/eraflow/internal/testutil"
)

func TestChargeInsufficientBalance(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	if err := s.GrantCredits(ctx, "t1", 3); err != nil {
		t.Fatalf("grant: %v", err)
	}

	ok, err := s.ChargeCredits(ctx, "t1", 5)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if ok {
		t.Fatal("charge of 5 against balance 3 should fail")
	}

	balance, err := s.CreditBalance(ctx, "t1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 3 {
		t.Fatalf("failed charge must not mutate balance, got %d", balance)
	}
}

func TestChargeUnknownTenant(t *testing.T) {
	s := testutil.NewStore(t)

	ok, err := s.ChargeCredits(context.Background(), "nobody", 1)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if ok {
		t.Fatal("charge against missing tenant row should fail")
	}
}

// Concurrent charges of amount A against balance B succeed exactly
// floor(B/A) times regardless of interleaving.
func TestChargeAtomicityUnderConcurrency(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	const (
		balance  = 10
		amount   = 3
		attempts = 40
	)
	if err := s.GrantCredits(ctx, "t1", balance); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ChargeCredits(ctx, "t1", amount)
			if err != nil {
				t.Errorf("charge: %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if want := balance / amount; succeeded != want {
		t.Fatalf("expected exactly %d successful charges, got %d", want, succeeded)
	}
	got, err := s.CreditBalance(ctx, "t1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := int64(balance % amount); got != want {
		t.Fatalf("expected remaining balance %d, got %d", want, got)
	}
}

func TestRefundMissingTenantIsNoop(t *testing.T) {
	s := testutil.NewStore(t)

	// Must log and swallow, never fail the caller.
	if err := s.RefundCredits(context.Background(), "ghost", 2); err != nil {
		t.Fatalf("refund to missing tenant should not error: %v", err)
	}
}

func TestRefundAddsBack(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()

	if err := s.GrantCredits(ctx, "t1", 5); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := s.ChargeCredits(ctx, "t1", 4); !ok {
		t.Fatal("charge should succeed")
	}
	if err := s.RefundCredits(ctx, "t1", 4); err != nil {
		t.Fatalf("refund: %v", err)
	}

	balance, _ := s.CreditBalance(ctx, "t1")
	if balance != 5 {
		t.Fatalf("expected balance 5 after refund, got %d", balance)
	}
}
