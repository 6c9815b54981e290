package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/ledger"
)

// checkShare asserts available/frozen and the derived total of one holding.
func checkShare(t *testing.T, l *ledger.ShareLedger, accountID, productID string, available, frozen float64) {
	t.Helper()
	sh, err := l.Get(accountID, productID)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if !sh.Available.Equal(d(available)) {
		t.Errorf("available = %s, want %s", sh.Available, d(available))
	}
	if !sh.Frozen.Equal(d(frozen)) {
		t.Errorf("frozen = %s, want %s", sh.Frozen, d(frozen))
	}
	if !sh.Total.Equal(sh.Available.Add(sh.Frozen)) {
		t.Errorf("total %s != available %s + frozen %s", sh.Total, sh.Available, sh.Frozen)
	}
}

func TestIncrease_CreatesHoldingLazily(t *testing.T) {
	l := ledger.NewShareLedger()

	if _, err := l.Get("acc1", "p1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first increase, got %v", err)
	}
	if err := l.Increase("acc1", "p1", d(8100.4455)); err != nil {
		t.Fatalf("increase: %v", err)
	}

	sh, err := l.Get("acc1", "p1")
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if sh.ShareID == "" {
		t.Error("expected generated share id")
	}
	checkShare(t, l, "acc1", "p1", 8100.4455, 0)
}

func TestIncrease_Accumulates(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(100)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := l.Increase("acc1", "p1", d(50.5)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	checkShare(t, l, "acc1", "p1", 150.5, 0)
}

func TestFreezeShare_Insufficient(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(100)); err != nil {
		t.Fatalf("increase: %v", err)
	}

	err := l.FreezeShare("acc1", "p1", d(100.0001))
	if !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	checkShare(t, l, "acc1", "p1", 100, 0)
}

func TestFreezeShare_UnknownHolding(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.FreezeShare("acc1", "p1", d(1)); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemCycle_FreezeDecrease(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := l.FreezeShare("acc1", "p1", d(400)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	checkShare(t, l, "acc1", "p1", 600, 400)

	if err := l.DecreaseFrozen("acc1", "p1", d(400)); err != nil {
		t.Fatalf("decrease frozen: %v", err)
	}
	checkShare(t, l, "acc1", "p1", 600, 0)
}

func TestReleaseShare_UndoesFreeze(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(1000)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := l.FreezeShare("acc1", "p1", d(250)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := l.ReleaseShare("acc1", "p1", d(250)); err != nil {
		t.Fatalf("release: %v", err)
	}
	checkShare(t, l, "acc1", "p1", 1000, 0)
}

func TestDecreaseFrozen_ExceedsFrozen(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(100)); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := l.DecreaseFrozen("acc1", "p1", d(1)); !errors.Is(err, ledger.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestListByAccount_SortedByProduct(t *testing.T) {
	l := ledger.NewShareLedger()
	for _, p := range []string{"p3", "p1", "p2"} {
		if err := l.Increase("acc1", p, d(10)); err != nil {
			t.Fatalf("increase %s: %v", p, err)
		}
	}
	if err := l.Increase("acc2", "p9", d(10)); err != nil {
		t.Fatalf("increase: %v", err)
	}

	shares := l.ListByAccount("acc1")
	if len(shares) != 3 {
		t.Fatalf("len = %d, want 3", len(shares))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if shares[i].ProductID != want {
			t.Errorf("shares[%d].ProductID = %s, want %s", i, shares[i].ProductID, want)
		}
	}
}

// Concurrent redemption freezes must never over-sell the position: with 100
// shares and ten goroutines each freezing 30, exactly three win.
func TestFreezeShare_ConcurrentNoOversell(t *testing.T) {
	l := ledger.NewShareLedger()
	if err := l.Increase("acc1", "p1", d(100)); err != nil {
		t.Fatalf("increase: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.FreezeShare("acc1", "p1", d(30))
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ledger.ErrInsufficientShares) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", succeeded)
	}
	checkShare(t, l, "acc1", "p1", 10, 90)
}

// Concurrent lazy creation on the same key must yield one holding.
func TestIncrease_ConcurrentCreate(t *testing.T) {
	l := ledger.NewShareLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Increase("acc1", "p1", decimal.NewFromInt(1)); err != nil {
				t.Errorf("increase: %v", err)
			}
		}()
	}
	wg.Wait()

	checkShare(t, l, "acc1", "p1", 50, 0)
	if got := len(l.ListByAccount("acc1")); got != 1 {
		t.Errorf("holdings = %d, want 1", got)
	}
}
