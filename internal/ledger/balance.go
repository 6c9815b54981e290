// Package ledger implements the balance and share ledgers: keyed records of
// available/frozen cash and fund shares, mutated only through atomic
// operations that preserve total == available + frozen.
//
// Each record carries its own lock, so mutations on different users (or
// different account/product holdings) proceed without blocking each other,
// while freeze/commit/release on one key form a total order. No caller can
// observe a transient state where the invariant is broken.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
)

// BalanceLedger owns every user's cash position. It is the sole write path
// to Balance records; no other component mutates them directly.
type BalanceLedger struct {
	mu       sync.RWMutex // guards the records map, not the records
	balances map[string]*balanceRecord
}

type balanceRecord struct {
	mu  sync.Mutex
	bal model.Balance
}

// NewBalanceLedger creates an empty balance ledger.
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{balances: make(map[string]*balanceRecord)}
}

// Create registers a zero balance for a user. Called once at onboarding by
// user management; settlement assumes the record exists afterwards.
func (l *BalanceLedger) Create(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[userID]; ok {
		return fmt.Errorf("%w: balance for user %s", ErrAlreadyExists, userID)
	}
	l.balances[userID] = &balanceRecord{bal: model.Balance{
		UserID:    userID,
		Available: decimal.Zero,
		Frozen:    decimal.Zero,
		Total:     decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}}
	return nil
}

// Get returns a copy of the user's balance.
func (l *BalanceLedger) Get(userID string) (model.Balance, error) {
	rec, err := l.record(userID)
	if err != nil {
		return model.Balance{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.bal, nil
}

// Freeze moves amount from available to frozen. This is the sole point where
// cash leaves "available": the user's spendable balance drops immediately,
// which is what prevents double-spend by concurrent requests.
func (l *BalanceLedger) Freeze(userID string, amount decimal.Decimal) error {
	return l.mutate(userID, amount, func(b *model.Balance, amt decimal.Decimal) error {
		if b.Available.LessThan(amt) {
			return fmt.Errorf("%w: available %s, requested %s",
				ErrInsufficientFunds, b.Available, amt)
		}
		b.Available = b.Available.Sub(amt)
		b.Frozen = b.Frozen.Add(amt)
		return nil
	})
}

// Release moves amount from frozen back to available, undoing a freeze whose
// settlement failed.
func (l *BalanceLedger) Release(userID string, amount decimal.Decimal) error {
	return l.mutate(userID, amount, func(b *model.Balance, amt decimal.Decimal) error {
		if b.Frozen.LessThan(amt) {
			return fmt.Errorf("%w: release %s exceeds frozen %s for user %s",
				ErrInvariant, amt, b.Frozen, b.UserID)
		}
		b.Frozen = b.Frozen.Sub(amt)
		b.Available = b.Available.Add(amt)
		return nil
	})
}

// DebitFrozen removes amount from frozen after a subscribe confirms: the
// cash has become shares. A shortfall here is logic-fatal, not a user error.
func (l *BalanceLedger) DebitFrozen(userID string, amount decimal.Decimal) error {
	return l.mutate(userID, amount, func(b *model.Balance, amt decimal.Decimal) error {
		if b.Frozen.LessThan(amt) {
			return fmt.Errorf("%w: debit %s exceeds frozen %s for user %s",
				ErrInvariant, amt, b.Frozen, b.UserID)
		}
		b.Frozen = b.Frozen.Sub(amt)
		return nil
	})
}

// CreditAvailable adds proceeds directly to available, used after a redeem
// confirms or a capital-in settles.
func (l *BalanceLedger) CreditAvailable(userID string, amount decimal.Decimal) error {
	return l.mutate(userID, amount, func(b *model.Balance, amt decimal.Decimal) error {
		b.Available = b.Available.Add(amt)
		return nil
	})
}

// mutate runs fn under the record's lock and recomputes the derived total in
// the same critical section. On error the record is left untouched.
func (l *BalanceLedger) mutate(userID string, amount decimal.Decimal, fn func(*model.Balance, decimal.Decimal) error) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrNonPositive, amount)
	}
	rec, err := l.record(userID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := fn(&rec.bal, amount); err != nil {
		return err
	}
	rec.bal.Total = rec.bal.Available.Add(rec.bal.Frozen)
	rec.bal.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *BalanceLedger) record(userID string) (*balanceRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.balances[userID]
	if !ok {
		return nil, fmt.Errorf("%w: balance for user %s", ErrNotFound, userID)
	}
	return rec, nil
}
