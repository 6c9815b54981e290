package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
)

// shareKey identifies one (fund account, product) holding.
type shareKey struct {
	accountID string
	productID string
}

// ShareLedger owns every (fund account, product) share position. Same
// atomicity and invariant contract as BalanceLedger.
type ShareLedger struct {
	mu       sync.RWMutex
	holdings map[shareKey]*shareRecord
}

type shareRecord struct {
	mu sync.Mutex
	sh model.Share
}

// NewShareLedger creates an empty share ledger.
func NewShareLedger() *ShareLedger {
	return &ShareLedger{holdings: make(map[shareKey]*shareRecord)}
}

// Get returns a copy of one holding.
func (l *ShareLedger) Get(accountID, productID string) (model.Share, error) {
	rec, err := l.record(accountID, productID)
	if err != nil {
		return model.Share{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.sh, nil
}

// ListByAccount returns copies of every holding of one fund account, sorted
// by product for deterministic iteration.
func (l *ShareLedger) ListByAccount(accountID string) []model.Share {
	l.mu.RLock()
	recs := make([]*shareRecord, 0, 4)
	for key, rec := range l.holdings {
		if key.accountID == accountID {
			recs = append(recs, rec)
		}
	}
	l.mu.RUnlock()

	shares := make([]model.Share, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		shares = append(shares, rec.sh)
		rec.mu.Unlock()
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].ProductID < shares[j].ProductID })
	return shares
}

// FreezeShare moves share from available to frozen, failing with
// ErrInsufficientShares when the available position is short.
func (l *ShareLedger) FreezeShare(accountID, productID string, share decimal.Decimal) error {
	return l.mutate(accountID, productID, share, func(s *model.Share, amt decimal.Decimal) error {
		if s.Available.LessThan(amt) {
			return fmt.Errorf("%w: available %s, requested %s",
				ErrInsufficientShares, s.Available, amt)
		}
		s.Available = s.Available.Sub(amt)
		s.Frozen = s.Frozen.Add(amt)
		return nil
	})
}

// ReleaseShare moves share from frozen back to available after a failed
// redemption.
func (l *ShareLedger) ReleaseShare(accountID, productID string, share decimal.Decimal) error {
	return l.mutate(accountID, productID, share, func(s *model.Share, amt decimal.Decimal) error {
		if s.Frozen.LessThan(amt) {
			return fmt.Errorf("%w: release %s exceeds frozen %s for holding %s/%s",
				ErrInvariant, amt, s.Frozen, s.FundAccountID, s.ProductID)
		}
		s.Frozen = s.Frozen.Sub(amt)
		s.Available = s.Available.Add(amt)
		return nil
	})
}

// DecreaseFrozen removes confirmed-redeemed shares from the position:
// frozen -= share, total -= share. A shortfall is logic-fatal.
func (l *ShareLedger) DecreaseFrozen(accountID, productID string, share decimal.Decimal) error {
	return l.mutate(accountID, productID, share, func(s *model.Share, amt decimal.Decimal) error {
		if s.Frozen.LessThan(amt) {
			return fmt.Errorf("%w: decrease %s exceeds frozen %s for holding %s/%s",
				ErrInvariant, amt, s.Frozen, s.FundAccountID, s.ProductID)
		}
		s.Frozen = s.Frozen.Sub(amt)
		return nil
	})
}

// Increase adds confirmed-subscribed shares to available, creating the
// holding lazily on the first successful subscribe confirmation.
func (l *ShareLedger) Increase(accountID, productID string, share decimal.Decimal) error {
	if share.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrNonPositive, share)
	}

	rec := l.recordOrCreate(accountID, productID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.sh.Available = rec.sh.Available.Add(share)
	rec.sh.Total = rec.sh.Available.Add(rec.sh.Frozen)
	rec.sh.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *ShareLedger) mutate(accountID, productID string, share decimal.Decimal, fn func(*model.Share, decimal.Decimal) error) error {
	if share.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrNonPositive, share)
	}
	rec, err := l.record(accountID, productID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := fn(&rec.sh, share); err != nil {
		return err
	}
	rec.sh.Total = rec.sh.Available.Add(rec.sh.Frozen)
	rec.sh.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *ShareLedger) record(accountID, productID string) (*shareRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.holdings[shareKey{accountID, productID}]
	if !ok {
		return nil, fmt.Errorf("%w: holding %s/%s", ErrNotFound, accountID, productID)
	}
	return rec, nil
}

func (l *ShareLedger) recordOrCreate(accountID, productID string) *shareRecord {
	key := shareKey{accountID, productID}

	l.mu.RLock()
	rec, ok := l.holdings[key]
	l.mu.RUnlock()
	if ok {
		return rec
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok = l.holdings[key]; ok {
		return rec
	}
	rec = &shareRecord{sh: model.Share{
		ShareID:       model.NewID("SHARE_"),
		FundAccountID: accountID,
		ProductID:     productID,
		Total:         decimal.Zero,
		Available:     decimal.Zero,
		Frozen:        decimal.Zero,
		UpdatedAt:     time.Now().UTC(),
	}}
	l.holdings[key] = rec
	return rec
}
