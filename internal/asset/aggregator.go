// Package asset recomputes per-user wealth snapshots: cash from the balance
// ledger plus every held fund position valued at its latest published NAV.
// The aggregator is read-only over balances, shares, and the NAV feed; its
// only write path is the historized AssetSnapshot record.
package asset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/ledger"
	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/money"
	"github.com/fundx/fund-engine/internal/store"
)

var (
	// ErrBalanceNotFound means the user has no balance record. Impossible
	// after onboarding; treated as a logic error, not a user error.
	ErrBalanceNotFound = errors.New("asset: user balance not found")

	// ErrNavUnavailable means a held product has no published NAV. A hard
	// failure: stale valuations are never hidden as zero value.
	ErrNavUnavailable = errors.New("asset: no published NAV for held product")
)

// Aggregator computes asset snapshots on demand.
type Aggregator struct {
	balances *ledger.BalanceLedger
	shares   *ledger.ShareLedger
	store    store.Store
}

// NewAggregator creates an aggregator over the ledgers and the store.
func NewAggregator(balances *ledger.BalanceLedger, shares *ledger.ShareLedger, st store.Store) *Aggregator {
	return &Aggregator{balances: balances, shares: shares, store: st}
}

// Compute recomputes the user's asset snapshot: total cash plus
// Σ total_share × latest NAV across every holding with a positive position,
// aggregated per product across the user's fund accounts. The snapshot is
// appended to history before being returned.
func (a *Aggregator) Compute(ctx context.Context, userID string) (*model.AssetSnapshot, error) {
	bal, err := a.balances.Get(userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBalanceNotFound, userID)
		}
		return nil, err
	}

	accounts, err := a.store.ListUserFundAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Sum shares per product; one NAV lookup values all accounts' holdings.
	totals := make(map[string]decimal.Decimal)
	var productOrder []string
	for _, account := range accounts {
		for _, sh := range a.shares.ListByAccount(account.FundAccountID) {
			if !sh.Total.IsPositive() {
				continue
			}
			if _, seen := totals[sh.ProductID]; !seen {
				productOrder = append(productOrder, sh.ProductID)
			}
			totals[sh.ProductID] = totals[sh.ProductID].Add(sh.Total)
		}
	}

	totalFund := decimal.Zero
	holdings := make([]model.FundHolding, 0, len(productOrder))
	for _, productID := range productOrder {
		nav, err := a.store.LatestNAV(ctx, productID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNavUnavailable, productID)
			}
			return nil, err
		}
		value := money.AmountFor(totals[productID], nav.NetValue)
		totalFund = totalFund.Add(value)
		holdings = append(holdings, model.FundHolding{
			ProductID: productID,
			Share:     totals[productID],
			Nav:       nav.NetValue,
			Value:     value,
		})
	}

	now := time.Now().UTC()
	snap := &model.AssetSnapshot{
		AssetID:        model.NewID("ASSET_"),
		UserID:         userID,
		TotalCash:      bal.Total,
		TotalFundValue: totalFund,
		TotalAsset:     bal.Total.Add(totalFund),
		Holdings:       holdings,
		CalcDate:       now.Truncate(24 * time.Hour),
		CreatedAt:      now,
	}
	if err := a.store.AppendAssetSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
