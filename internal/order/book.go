// Package order implements the entrust state machine and its confirmation
// ledger. An entrust progresses PENDING → PROCESSING → SUCCESS | FAILED;
// terminal states are immutable, and every terminal entrust is paired with
// exactly one confirmation. Confirming an already-confirmed entrust is a
// no-op returning the original confirmation record.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/store"
)

var (
	// ErrTerminal is returned when a transition is attempted on an entrust
	// that already reached SUCCESS or FAILED.
	ErrTerminal = errors.New("order: entrust already terminal")

	// ErrBadTransition is returned for any other illegal status move, e.g.
	// pricing an entrust that is not PENDING.
	ErrBadTransition = errors.New("order: illegal status transition")
)

// Book drives entrust transitions over a Store. Transitions are serialized
// under one mutex; the critical sections are short and touch no ledger
// state, so this does not limit cross-account settlement concurrency.
type Book struct {
	store store.Store
	mu    sync.Mutex
}

// NewBook creates a new order book over the given store.
func NewBook(st store.Store) *Book {
	return &Book{store: st}
}

// Begin persists a new entrust in PENDING. An id is assigned when empty.
func (b *Book) Begin(ctx context.Context, e *model.Entrust) error {
	if e.EntrustID == "" {
		e.EntrustID = model.NewID("ENT_")
	}
	e.Status = model.StatusPending
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return b.store.CreateEntrust(ctx, e)
}

// Price moves a PENDING entrust to PROCESSING, recording the NAV and the
// computed amount/share/fee. The priced NAV is fixed from this point on:
// pricing again, in any state, is rejected.
func (b *Book) Price(ctx context.Context, entrustID string, nav, amount, share, fee decimal.Decimal) (*model.Entrust, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.store.GetEntrust(ctx, entrustID)
	if err != nil {
		return nil, err
	}
	if e.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, entrustID, e.Status)
	}
	if e.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: price %s in status %s", ErrBadTransition, entrustID, e.Status)
	}

	e.Status = model.StatusProcessing
	e.Nav = nav
	e.Amount = amount
	e.Share = share
	e.Fee = fee
	e.ProcessedAt = time.Now().UTC()

	if err := b.store.UpdateEntrust(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Succeed moves a PROCESSING entrust to SUCCESS and writes its confirmation
// from the priced fields. Idempotent: when a confirmation already exists the
// existing record is returned, the entrust status is driven terminal if a
// crash left it PROCESSING, and ledgers are untouched.
func (b *Book) Succeed(ctx context.Context, entrustID string) (*model.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.store.GetEntrust(ctx, entrustID)
	if err != nil {
		return nil, err
	}

	if conf, err := b.store.GetConfirmationByEntrust(ctx, entrustID); err == nil {
		return conf, b.settleStatus(ctx, e, conf)
	}

	if e.Status == model.StatusFailed {
		return nil, fmt.Errorf("%w: %s is FAILED", ErrTerminal, entrustID)
	}
	if e.Status != model.StatusProcessing {
		return nil, fmt.Errorf("%w: confirm %s in status %s", ErrBadTransition, entrustID, e.Status)
	}

	// The confirmation records the cash the ledger actually moved: a
	// redeem credits proceeds net of fee, so net it here too.
	amount := e.Amount
	if e.Kind == model.KindRedeem {
		amount = e.Amount.Sub(e.Fee)
	}
	conf := &model.Confirmation{
		ConfirmID:   model.NewID("CFM_"),
		EntrustID:   e.EntrustID,
		Kind:        e.Kind,
		Result:      model.ResultSuccess,
		Amount:      amount,
		Share:       e.Share,
		Nav:         e.Nav,
		Fee:         e.Fee,
		ConfirmedAt: time.Now().UTC(),
	}
	if err := b.store.CreateConfirmation(ctx, conf); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with another confirmer; defer to the winner.
			return b.store.GetConfirmationByEntrust(ctx, entrustID)
		}
		return nil, err
	}

	e.Status = model.StatusSuccess
	e.CompletedAt = conf.ConfirmedAt
	if err := b.store.UpdateEntrust(ctx, e); err != nil {
		return nil, err
	}
	return conf, nil
}

// Fail moves a PENDING or PROCESSING entrust to FAILED, recording the cause
// and writing a FAILED confirmation. Idempotent like Succeed; failing an
// entrust that already succeeded is rejected.
func (b *Book) Fail(ctx context.Context, entrustID string, cause error) (*model.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.store.GetEntrust(ctx, entrustID)
	if err != nil {
		return nil, err
	}

	if conf, err := b.store.GetConfirmationByEntrust(ctx, entrustID); err == nil {
		if conf.Result == model.ResultSuccess {
			return nil, fmt.Errorf("%w: %s already confirmed SUCCESS", ErrTerminal, entrustID)
		}
		return conf, b.settleStatus(ctx, e, conf)
	}

	if e.Status == model.StatusSuccess {
		return nil, fmt.Errorf("%w: %s is SUCCESS", ErrTerminal, entrustID)
	}

	remark := ""
	if cause != nil {
		remark = cause.Error()
	}
	conf := &model.Confirmation{
		ConfirmID:   model.NewID("CFM_"),
		EntrustID:   e.EntrustID,
		Kind:        e.Kind,
		Result:      model.ResultFailed,
		Amount:      e.Amount,
		Share:       e.Share,
		Nav:         e.Nav,
		Fee:         e.Fee,
		Remark:      remark,
		ConfirmedAt: time.Now().UTC(),
	}
	if err := b.store.CreateConfirmation(ctx, conf); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return b.store.GetConfirmationByEntrust(ctx, entrustID)
		}
		return nil, err
	}

	e.Status = model.StatusFailed
	e.ErrorMsg = remark
	e.CompletedAt = conf.ConfirmedAt
	if err := b.store.UpdateEntrust(ctx, e); err != nil {
		return nil, err
	}
	return conf, nil
}

// Get returns the entrust by id.
func (b *Book) Get(ctx context.Context, entrustID string) (*model.Entrust, error) {
	return b.store.GetEntrust(ctx, entrustID)
}

// ConfirmationFor returns the confirmation paired with an entrust.
func (b *Book) ConfirmationFor(ctx context.Context, entrustID string) (*model.Confirmation, error) {
	return b.store.GetConfirmationByEntrust(ctx, entrustID)
}

// settleStatus drives an entrust terminal to match its existing confirmation
// when a crash interleaved confirmation write and status update.
func (b *Book) settleStatus(ctx context.Context, e *model.Entrust, conf *model.Confirmation) error {
	if e.Terminal() {
		return nil
	}
	if conf.Result == model.ResultSuccess {
		e.Status = model.StatusSuccess
	} else {
		e.Status = model.StatusFailed
		e.ErrorMsg = conf.Remark
	}
	e.CompletedAt = conf.ConfirmedAt
	return b.store.UpdateEntrust(ctx, e)
}
