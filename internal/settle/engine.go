// Package settle orchestrates the balance ledger, share ledger, NAV feed,
// and entrust state machine to execute subscribe, redeem, and capital-change
// requests as atomic, idempotent freeze → confirm workflows.
//
// The protocol: validation happens before any ledger mutation; the freeze is
// the single point where funds (or shares) stop being spendable; the commit
// phase is re-executable, because the confirmation record is written only
// after every ledger mutation, so "confirmation exists" means "ledgers fully
// applied". Once a freeze has succeeded the workflow runs to SUCCESS or to
// FAILED plus release — a caller-side timeout never strands frozen money.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/asset"
	"github.com/fundx/fund-engine/internal/ledger"
	"github.com/fundx/fund-engine/internal/metrics"
	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/money"
	"github.com/fundx/fund-engine/internal/order"
	"github.com/fundx/fund-engine/internal/store"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any mutation.
	ErrInvalidAmount = errors.New("settle: amount must be positive")

	// ErrInvalidShare rejects non-positive share requests.
	ErrInvalidShare = errors.New("settle: share must be positive")

	// ErrAccountNotFound is returned for an unknown fund account.
	ErrAccountNotFound = errors.New("settle: fund account not found")

	// ErrAccountInactive is returned when the fund account is frozen or closed.
	ErrAccountInactive = errors.New("settle: fund account not active")

	// ErrProductNotFound is returned for an unknown fund product.
	ErrProductNotFound = errors.New("settle: fund product not found")

	// ErrProductInactive is returned when the product is closed for trading.
	ErrProductInactive = errors.New("settle: fund product not active")

	// ErrNavUnavailable is returned when a product has no published NAV.
	ErrNavUnavailable = errors.New("settle: no published NAV for product")

	// ErrBalanceNotFound means the user has no balance record; impossible
	// after onboarding, treated as a logic error.
	ErrBalanceNotFound = errors.New("settle: user balance not found")

	// errStalePending marks pending entrusts abandoned before pricing.
	errStalePending = errors.New("settle: entrust abandoned before pricing")
)

// Notifier receives confirmations as they are written. Optional; used to
// push settlement outcomes to WebSocket subscribers.
type Notifier interface {
	NotifyConfirmation(c model.Confirmation)
}

// Result is the success payload of a settlement operation.
type Result struct {
	EntrustID     string          `json:"entrust_id"`
	Kind          string          `json:"kind"`
	FundAccountID string          `json:"fund_account_id,omitempty"`
	ProductID     string          `json:"product_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Share         decimal.Decimal `json:"share"`
	Nav           decimal.Decimal `json:"nav"`
	Fee           decimal.Decimal `json:"fee"`
}

// Engine executes settlement workflows. It exclusively owns the write path
// to Balance and Share records (through the ledgers' atomic operations) and
// to entrusts/confirmations (through the order book).
type Engine struct {
	balances *ledger.BalanceLedger
	shares   *ledger.ShareLedger
	store    store.Store
	book     *order.Book
	assets   *asset.Aggregator
	feeRate  decimal.Decimal
	notifier Notifier
}

// NewEngine creates a settlement engine. The fee rate defaults to zero.
func NewEngine(balances *ledger.BalanceLedger, shares *ledger.ShareLedger, st store.Store, book *order.Book, assets *asset.Aggregator) *Engine {
	return &Engine{
		balances: balances,
		shares:   shares,
		store:    st,
		book:     book,
		assets:   assets,
		feeRate:  decimal.Zero,
	}
}

// SetFeeRate sets the flat settlement fee rate (e.g. 0.015 for 1.5%),
// applied at pricing and recorded on the entrust. Rates outside [0, 1)
// are ignored and reset to zero.
func (e *Engine) SetFeeRate(rate decimal.Decimal) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		rate = decimal.Zero
	}
	e.feeRate = rate
}

// SetNotifier registers a confirmation notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Subscribe buys into a fund: freeze cash, price shares at the latest NAV,
// then commit (debit frozen cash, credit shares, confirm).
func (e *Engine) Subscribe(ctx context.Context, fundAccountID, productID string, amount decimal.Decimal) (*Result, error) {
	timer := metrics.SettlementTimer(model.KindSubscribe)
	defer timer.ObserveDuration()

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	account, nav, err := e.resolveTarget(ctx, fundAccountID, productID)
	if err != nil {
		return nil, err
	}

	entrust := &model.Entrust{
		Kind:          model.KindSubscribe,
		UserID:        account.UserID,
		FundAccountID: fundAccountID,
		ProductID:     productID,
		Amount:        amount,
	}
	if err := e.book.Begin(ctx, entrust); err != nil {
		return nil, err
	}

	// The freeze is the sole point where cash leaves "available"; a
	// concurrent request on the same user cannot spend it twice.
	if err := e.balances.Freeze(account.UserID, amount); err != nil {
		e.reject(ctx, entrust.EntrustID, model.KindSubscribe, err)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBalanceNotFound, account.UserID)
		}
		return nil, err
	}

	fee := money.Round(amount.Mul(e.feeRate))
	share, err := money.ShareFor(amount.Sub(fee), nav.NetValue)
	if err != nil {
		return nil, e.abortFrozenCash(ctx, entrust.EntrustID, account.UserID, amount, err)
	}
	// An amount so small it rounds to zero shares would debit cash for
	// nothing; release the freeze and fail the entrust instead.
	if !share.IsPositive() {
		return nil, e.abortFrozenCash(ctx, entrust.EntrustID, account.UserID, amount,
			fmt.Errorf("%w: %s buys zero shares at nav %s", ErrInvalidAmount, amount, nav.NetValue))
	}
	if _, err := e.book.Price(ctx, entrust.EntrustID, nav.NetValue, amount, share, fee); err != nil {
		return nil, e.abortFrozenCash(ctx, entrust.EntrustID, account.UserID, amount, err)
	}

	conf, err := e.commitSubscribe(ctx, entrust.EntrustID, account.UserID, fundAccountID, productID, amount, share)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, conf, account.UserID)

	return &Result{
		EntrustID:     entrust.EntrustID,
		Kind:          model.KindSubscribe,
		FundAccountID: fundAccountID,
		ProductID:     productID,
		Amount:        amount,
		Share:         share,
		Nav:           nav.NetValue,
		Fee:           fee,
	}, nil
}

// Redeem sells fund shares: freeze shares, price proceeds at the latest NAV,
// then commit (decrease frozen shares, credit cash, confirm).
func (e *Engine) Redeem(ctx context.Context, fundAccountID, productID string, share decimal.Decimal) (*Result, error) {
	timer := metrics.SettlementTimer(model.KindRedeem)
	defer timer.ObserveDuration()

	if share.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShare, share)
	}
	account, nav, err := e.resolveTarget(ctx, fundAccountID, productID)
	if err != nil {
		return nil, err
	}

	entrust := &model.Entrust{
		Kind:          model.KindRedeem,
		UserID:        account.UserID,
		FundAccountID: fundAccountID,
		ProductID:     productID,
		Share:         share,
	}
	if err := e.book.Begin(ctx, entrust); err != nil {
		return nil, err
	}

	if err := e.shares.FreezeShare(fundAccountID, productID, share); err != nil {
		e.reject(ctx, entrust.EntrustID, model.KindRedeem, err)
		if errors.Is(err, ledger.ErrNotFound) {
			// No holding at all reads as an insufficient position.
			return nil, fmt.Errorf("%w: no holding for %s/%s",
				ledger.ErrInsufficientShares, fundAccountID, productID)
		}
		return nil, err
	}

	amount := money.AmountFor(share, nav.NetValue)
	fee := money.Round(amount.Mul(e.feeRate))
	proceeds := amount.Sub(fee)
	// A position so small it yields zero net proceeds would burn shares
	// for nothing; release the freeze and fail the entrust instead.
	if !proceeds.IsPositive() {
		return nil, e.abortFrozenShares(ctx, entrust.EntrustID, fundAccountID, productID, share,
			fmt.Errorf("%w: %s yields zero proceeds at nav %s", ErrInvalidShare, share, nav.NetValue))
	}
	if _, err := e.book.Price(ctx, entrust.EntrustID, nav.NetValue, amount, share, fee); err != nil {
		return nil, e.abortFrozenShares(ctx, entrust.EntrustID, fundAccountID, productID, share, err)
	}

	conf, err := e.commitRedeem(ctx, entrust.EntrustID, account.UserID, fundAccountID, productID, share, proceeds)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, conf, account.UserID)

	return &Result{
		EntrustID:     entrust.EntrustID,
		Kind:          model.KindRedeem,
		FundAccountID: fundAccountID,
		ProductID:     productID,
		Amount:        proceeds,
		Share:         share,
		Nav:           nav.NetValue,
		Fee:           fee,
	}, nil
}

// Deposit credits external cash to a user's available balance (CAPITAL_IN).
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*Result, error) {
	timer := metrics.SettlementTimer(model.KindCapitalIn)
	defer timer.ObserveDuration()

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if _, err := e.balances.Get(userID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBalanceNotFound, userID)
	}

	entrust := &model.Entrust{Kind: model.KindCapitalIn, UserID: userID, Amount: amount}
	if err := e.book.Begin(ctx, entrust); err != nil {
		return nil, err
	}
	if _, err := e.book.Price(ctx, entrust.EntrustID, decimal.Zero, amount, decimal.Zero, decimal.Zero); err != nil {
		e.book.Fail(ctx, entrust.EntrustID, err)
		return nil, err
	}

	if err := e.balances.CreditAvailable(userID, amount); err != nil {
		e.book.Fail(ctx, entrust.EntrustID, err)
		return nil, err
	}
	conf, err := e.book.Succeed(ctx, entrust.EntrustID)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, conf, userID)

	return &Result{EntrustID: entrust.EntrustID, Kind: model.KindCapitalIn, Amount: amount}, nil
}

// Withdraw moves cash out of a user's balance (CAPITAL_OUT) under the same
// two-phase protocol as a subscribe: freeze, then debit on confirmation.
func (e *Engine) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*Result, error) {
	timer := metrics.SettlementTimer(model.KindCapitalOut)
	defer timer.ObserveDuration()

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	entrust := &model.Entrust{Kind: model.KindCapitalOut, UserID: userID, Amount: amount}
	if err := e.book.Begin(ctx, entrust); err != nil {
		return nil, err
	}

	if err := e.balances.Freeze(userID, amount); err != nil {
		e.reject(ctx, entrust.EntrustID, model.KindCapitalOut, err)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBalanceNotFound, userID)
		}
		return nil, err
	}
	if _, err := e.book.Price(ctx, entrust.EntrustID, decimal.Zero, amount, decimal.Zero, decimal.Zero); err != nil {
		return nil, e.abortFrozenCash(ctx, entrust.EntrustID, userID, amount, err)
	}

	if err := e.balances.DebitFrozen(userID, amount); err != nil {
		e.book.Fail(ctx, entrust.EntrustID, err)
		return nil, err
	}
	conf, err := e.book.Succeed(ctx, entrust.EntrustID)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, conf, userID)

	return &Result{EntrustID: entrust.EntrustID, Kind: model.KindCapitalOut, Amount: amount}, nil
}

// ResolveStale drives every transient entrust older than staleAfter to a
// terminal state: commits already past their confirmation are finished,
// unconfirmed commits are re-attempted, and entrusts whose commit
// preconditions no longer hold are released and failed. Returns the number
// of entrusts resolved.
func (e *Engine) ResolveStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	resolved := 0

	// Pending entrusts never reached pricing; nothing is frozen under a
	// completed call path, so they fail outright.
	pending, err := e.store.ListEntrustsByStatus(ctx, model.StatusPending, cutoff)
	if err != nil {
		return resolved, err
	}
	for i := range pending {
		if _, err := e.book.Fail(ctx, pending[i].EntrustID, errStalePending); err != nil {
			slog.Error("stale pending entrust not resolved", "entrust_id", pending[i].EntrustID, "err", err)
			continue
		}
		metrics.StaleResolved.WithLabelValues("failed").Inc()
		resolved++
	}

	processing, err := e.store.ListEntrustsByStatus(ctx, model.StatusProcessing, cutoff)
	if err != nil {
		return resolved, err
	}
	for i := range processing {
		if err := e.resolveProcessing(ctx, &processing[i]); err != nil {
			slog.Error("stale processing entrust not resolved", "entrust_id", processing[i].EntrustID, "err", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// resolveProcessing completes or rolls back one PROCESSING entrust.
func (e *Engine) resolveProcessing(ctx context.Context, ent *model.Entrust) error {
	// Confirmation written means every ledger mutation was applied; the
	// idempotent Succeed path just settles the status.
	if _, err := e.book.ConfirmationFor(ctx, ent.EntrustID); err == nil {
		if _, err := e.book.Succeed(ctx, ent.EntrustID); err != nil {
			return err
		}
		metrics.StaleResolved.WithLabelValues("completed").Inc()
		return nil
	}

	var conf *model.Confirmation
	var err error
	switch ent.Kind {
	case model.KindSubscribe:
		conf, err = e.commitSubscribe(ctx, ent.EntrustID, ent.UserID, ent.FundAccountID, ent.ProductID, ent.Amount, ent.Share)
	case model.KindRedeem:
		conf, err = e.commitRedeem(ctx, ent.EntrustID, ent.UserID, ent.FundAccountID, ent.ProductID, ent.Share, ent.Amount.Sub(ent.Fee))
	case model.KindCapitalIn:
		if err = e.balances.CreditAvailable(ent.UserID, ent.Amount); err == nil {
			conf, err = e.book.Succeed(ctx, ent.EntrustID)
		}
	case model.KindCapitalOut:
		if err = e.balances.DebitFrozen(ent.UserID, ent.Amount); err != nil {
			if relErr := e.balances.Release(ent.UserID, ent.Amount); relErr != nil {
				slog.Error("release during sweep failed", "entrust_id", ent.EntrustID, "err", relErr)
			}
			_, failErr := e.book.Fail(ctx, ent.EntrustID, err)
			if failErr != nil {
				return failErr
			}
			metrics.StaleResolved.WithLabelValues("failed").Inc()
			return nil
		}
		conf, err = e.book.Succeed(ctx, ent.EntrustID)
	default:
		_, err = e.book.Fail(ctx, ent.EntrustID, fmt.Errorf("settle: unknown entrust kind %s", ent.Kind))
		if err != nil {
			return err
		}
		metrics.StaleResolved.WithLabelValues("failed").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	metrics.StaleResolved.WithLabelValues("completed").Inc()
	e.finish(ctx, conf, ent.UserID)
	return nil
}

// Entrust returns one entrust by id.
func (e *Engine) Entrust(ctx context.Context, entrustID string) (*model.Entrust, error) {
	return e.book.Get(ctx, entrustID)
}

// UserEntrusts lists a user's entrusts, oldest first.
func (e *Engine) UserEntrusts(ctx context.Context, userID string) ([]model.Entrust, error) {
	return e.store.ListEntrustsByUser(ctx, userID)
}

// --- Commit phases (re-executable) ---

// commitSubscribe applies the subscribe ledger mutations and confirms. The
// confirmation is written last, so its existence proves the whole commit
// was applied; re-execution after that point is a no-op through Succeed.
func (e *Engine) commitSubscribe(ctx context.Context, entrustID, userID, accountID, productID string, amount, share decimal.Decimal) (*model.Confirmation, error) {
	if err := e.balances.DebitFrozen(userID, amount); err != nil {
		// Frozen shortfall: a logic-fatal state. Abort without repair.
		return nil, e.failInvariant(ctx, entrustID, err)
	}
	if err := e.shares.Increase(accountID, productID, share); err != nil {
		return nil, e.failInvariant(ctx, entrustID, err)
	}
	return e.book.Succeed(ctx, entrustID)
}

// commitRedeem applies the redeem ledger mutations and confirms.
func (e *Engine) commitRedeem(ctx context.Context, entrustID, userID, accountID, productID string, share, proceeds decimal.Decimal) (*model.Confirmation, error) {
	if err := e.shares.DecreaseFrozen(accountID, productID, share); err != nil {
		return nil, e.failInvariant(ctx, entrustID, err)
	}
	if err := e.balances.CreditAvailable(userID, proceeds); err != nil {
		return nil, e.failInvariant(ctx, entrustID, err)
	}
	return e.book.Succeed(ctx, entrustID)
}

// --- Shared plumbing ---

// resolveTarget validates account, product, and NAV before any mutation.
func (e *Engine) resolveTarget(ctx context.Context, fundAccountID, productID string) (*model.FundAccount, *model.NAVRecord, error) {
	account, err := e.store.GetFundAccount(ctx, fundAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAccountNotFound, fundAccountID)
		}
		return nil, nil, err
	}
	if account.Status != model.StatusActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrAccountInactive, fundAccountID, account.Status)
	}

	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, nil, err
	}
	if product.Status != model.StatusActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrProductInactive, productID, product.Status)
	}

	nav, err := e.store.LatestNAV(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNavUnavailable, productID)
		}
		return nil, nil, err
	}
	return account, nav, nil
}

// reject records a pre-commit business rejection on the entrust.
func (e *Engine) reject(ctx context.Context, entrustID, kind string, cause error) {
	metrics.SettlementRejections.WithLabelValues(kind).Inc()
	if _, err := e.book.Fail(ctx, entrustID, cause); err != nil {
		slog.Error("entrust rejection not recorded", "entrust_id", entrustID, "err", err)
	}
}

// abortFrozenCash releases a cash freeze and fails the entrust. Money is
// never left silently frozen.
func (e *Engine) abortFrozenCash(ctx context.Context, entrustID, userID string, amount decimal.Decimal, cause error) error {
	if err := e.balances.Release(userID, amount); err != nil {
		slog.Error("cash release after failed settlement", "entrust_id", entrustID, "user_id", userID, "err", err)
	}
	if _, err := e.book.Fail(ctx, entrustID, cause); err != nil {
		slog.Error("entrust failure not recorded", "entrust_id", entrustID, "err", err)
	}
	return cause
}

// abortFrozenShares releases a share freeze and fails the entrust.
func (e *Engine) abortFrozenShares(ctx context.Context, entrustID, accountID, productID string, share decimal.Decimal, cause error) error {
	if err := e.shares.ReleaseShare(accountID, productID, share); err != nil {
		slog.Error("share release after failed settlement", "entrust_id", entrustID, "account_id", accountID, "err", err)
	}
	if _, err := e.book.Fail(ctx, entrustID, cause); err != nil {
		slog.Error("entrust failure not recorded", "entrust_id", entrustID, "err", err)
	}
	return cause
}

// failInvariant marks an entrust FAILED with diagnostic detail after a
// logic-fatal ledger state was detected. No automatic repair is attempted.
func (e *Engine) failInvariant(ctx context.Context, entrustID string, cause error) error {
	metrics.InvariantFailures.Inc()
	slog.Error("ledger invariant violation during commit", "entrust_id", entrustID, "err", cause)
	if _, err := e.book.Fail(ctx, entrustID, cause); err != nil {
		slog.Error("invariant failure not recorded", "entrust_id", entrustID, "err", err)
	}
	return cause
}

// finish emits metrics/log/notification and recomputes the user's assets so
// the next asset read reflects this confirmation.
func (e *Engine) finish(ctx context.Context, conf *model.Confirmation, userID string) {
	metrics.SettlementsTotal.WithLabelValues(conf.Kind, conf.Result).Inc()
	slog.Info("entrust confirmed",
		"entrust_id", conf.EntrustID,
		"kind", conf.Kind,
		"result", conf.Result,
		"amount", conf.Amount.String(),
		"share", conf.Share.String(),
		"nav", conf.Nav.String(),
	)
	if e.notifier != nil {
		e.notifier.NotifyConfirmation(*conf)
	}
	if _, err := e.assets.Compute(ctx, userID); err != nil {
		slog.Error("asset recomputation failed", "user_id", userID, "err", err)
	}
}
