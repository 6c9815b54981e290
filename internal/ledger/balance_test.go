package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/ledger"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// seedBalance creates a user balance and credits it to the given amount.
func seedBalance(t *testing.T, l *ledger.BalanceLedger, userID string, available float64) {
	t.Helper()
	if err := l.Create(userID); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	if available > 0 {
		if err := l.CreditAvailable(userID, d(available)); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
}

// checkBalance asserts available/frozen and the derived total.
func checkBalance(t *testing.T, l *ledger.BalanceLedger, userID string, available, frozen float64) {
	t.Helper()
	bal, err := l.Get(userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Available.Equal(d(available)) {
		t.Errorf("available = %s, want %s", bal.Available, d(available))
	}
	if !bal.Frozen.Equal(d(frozen)) {
		t.Errorf("frozen = %s, want %s", bal.Frozen, d(frozen))
	}
	if !bal.Total.Equal(bal.Available.Add(bal.Frozen)) {
		t.Errorf("total %s != available %s + frozen %s", bal.Total, bal.Available, bal.Frozen)
	}
}

func TestBalanceCreate_StartsAtZero(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 0)
	checkBalance(t, l, "u1", 0, 0)
}

func TestBalanceCreate_Duplicate(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 0)
	if err := l.Create("u1"); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestBalanceGet_Unknown(t *testing.T) {
	l := ledger.NewBalanceLedger()
	if _, err := l.Get("nobody"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFreeze_MovesAvailableToFrozen(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 100000)

	if err := l.Freeze("u1", d(10000)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	checkBalance(t, l, "u1", 90000, 10000)
}

func TestFreeze_Insufficient(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 100)

	err := l.Freeze("u1", d(100.01))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// Rejection leaves the record untouched.
	checkBalance(t, l, "u1", 100, 0)
}

func TestFreeze_NonPositive(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 100)

	for _, amt := range []decimal.Decimal{decimal.Zero, d(-5)} {
		if err := l.Freeze("u1", amt); !errors.Is(err, ledger.ErrNonPositive) {
			t.Errorf("freeze %s: expected ErrNonPositive, got %v", amt, err)
		}
	}
}

func TestRelease_UndoesFreeze(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 500)

	if err := l.Freeze("u1", d(200)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := l.Release("u1", d(200)); err != nil {
		t.Fatalf("release: %v", err)
	}
	checkBalance(t, l, "u1", 500, 0)
}

func TestRelease_ExceedsFrozen(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 500)

	if err := l.Freeze("u1", d(100)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := l.Release("u1", d(100.01)); !errors.Is(err, ledger.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	checkBalance(t, l, "u1", 400, 100)
}

func TestDebitFrozen_CompletesSettlement(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 1000)

	if err := l.Freeze("u1", d(300)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := l.DebitFrozen("u1", d(300)); err != nil {
		t.Fatalf("debit frozen: %v", err)
	}
	checkBalance(t, l, "u1", 700, 0)
}

func TestDebitFrozen_ExceedsFrozen(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 1000)

	if err := l.DebitFrozen("u1", d(1)); !errors.Is(err, ledger.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestCreditAvailable_AddsProceeds(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 0)

	if err := l.CreditAvailable("u1", d(123.45)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	checkBalance(t, l, "u1", 123.45, 0)
}

// Concurrent freezes on one user must never over-commit the available cash:
// with 100 available and ten goroutines each freezing 50, exactly two win.
func TestFreeze_ConcurrentNoDoubleSpend(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "u1", 100)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Freeze("u1", d(50))
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}
	checkBalance(t, l, "u1", 0, 100)
}

// Mutations on different users proceed independently and exactly once each.
func TestConcurrent_MixedUsers(t *testing.T) {
	l := ledger.NewBalanceLedger()
	seedBalance(t, l, "a", 1000)
	seedBalance(t, l, "b", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := l.Freeze("a", d(10)); err != nil {
				t.Errorf("freeze a: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := l.CreditAvailable("b", d(10)); err != nil {
				t.Errorf("credit b: %v", err)
			}
		}()
	}
	wg.Wait()

	checkBalance(t, l, "a", 0, 1000)
	checkBalance(t, l, "b", 2000, 0)
}
