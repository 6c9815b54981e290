// Package store defines the persistence interface for the fund engine's
// reference data and order records. Implementations include PostgreSQL
// (source of truth), Redis (read-through cache), and in-memory (for testing
// and single-process deployments).
//
// Balance and Share positions are deliberately NOT behind this interface:
// they live in the ledger package, whose atomic keyed operations are the only
// write path to them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundx/fund-engine/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the given key.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint would be
	// violated, e.g. a second NAV record for the same (product, date).
	ErrDuplicate = errors.New("store: already exists")
)

// Store is the persistence interface for users, accounts, the product/NAV
// catalog, entrusts, confirmations, and asset snapshot history.
type Store interface {
	// --- Users and fund accounts ---

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, userID string) (*model.User, error)

	CreateFundAccount(ctx context.Context, a *model.FundAccount) error
	GetFundAccount(ctx context.Context, accountID string) (*model.FundAccount, error)
	ListUserFundAccounts(ctx context.Context, userID string) ([]model.FundAccount, error)

	// --- Product / NAV catalog (read-only price feed for settlement) ---

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	// AppendNAV records one published NAV; one record per (product, date).
	AppendNAV(ctx context.Context, nav *model.NAVRecord) error

	// LatestNAV returns the record with the max nav_date for the product.
	LatestNAV(ctx context.Context, productID string) (*model.NAVRecord, error)

	// --- Entrusts and confirmations ---

	CreateEntrust(ctx context.Context, e *model.Entrust) error
	GetEntrust(ctx context.Context, entrustID string) (*model.Entrust, error)
	UpdateEntrust(ctx context.Context, e *model.Entrust) error
	ListEntrustsByUser(ctx context.Context, userID string) ([]model.Entrust, error)

	// ListEntrustsByStatus returns entrusts in the given status created
	// before the cutoff, oldest first. Used by the recovery sweep.
	ListEntrustsByStatus(ctx context.Context, status string, before time.Time) ([]model.Entrust, error)

	// CreateConfirmation appends a confirmation; at most one per entrust.
	CreateConfirmation(ctx context.Context, c *model.Confirmation) error
	GetConfirmationByEntrust(ctx context.Context, entrustID string) (*model.Confirmation, error)

	// --- Asset snapshot history ---

	AppendAssetSnapshot(ctx context.Context, s *model.AssetSnapshot) error
	LatestAssetSnapshot(ctx context.Context, userID string) (*model.AssetSnapshot, error)
}
