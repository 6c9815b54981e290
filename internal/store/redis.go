package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundx/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: product lookups, latest NAV, and latest
// asset snapshot. Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	data, err := s.rdb.Get(ctx, productKey(productID)).Bytes()
	if err == nil {
		var p model.Product
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, productKey(productID), p)
	return p, nil
}

func (s *CachedStore) LatestNAV(ctx context.Context, productID string) (*model.NAVRecord, error) {
	data, err := s.rdb.Get(ctx, navKey(productID)).Bytes()
	if err == nil {
		var nav model.NAVRecord
		if json.Unmarshal(data, &nav) == nil {
			return &nav, nil
		}
	}

	nav, err := s.primary.LatestNAV(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, navKey(productID), nav)
	return nav, nil
}

func (s *CachedStore) LatestAssetSnapshot(ctx context.Context, userID string) (*model.AssetSnapshot, error) {
	data, err := s.rdb.Get(ctx, assetKey(userID)).Bytes()
	if err == nil {
		var snap model.AssetSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestAssetSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, assetKey(userID), snap)
	return snap, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendNAV(ctx context.Context, nav *model.NAVRecord) error {
	if err := s.primary.AppendNAV(ctx, nav); err != nil {
		return err
	}
	// Invalidate; the next read re-resolves "latest" from the primary.
	s.rdb.Del(ctx, navKey(nav.ProductID))
	return nil
}

func (s *CachedStore) AppendAssetSnapshot(ctx context.Context, snap *model.AssetSnapshot) error {
	if err := s.primary.AppendAssetSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheJSON(ctx, assetKey(snap.UserID), snap)
	return nil
}

func (s *CachedStore) CreateProduct(ctx context.Context, p *model.Product) error {
	if err := s.primary.CreateProduct(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, productKey(p.ProductID), p)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.primary.GetUser(ctx, userID)
}

func (s *CachedStore) CreateFundAccount(ctx context.Context, a *model.FundAccount) error {
	return s.primary.CreateFundAccount(ctx, a)
}

func (s *CachedStore) GetFundAccount(ctx context.Context, accountID string) (*model.FundAccount, error) {
	return s.primary.GetFundAccount(ctx, accountID)
}

func (s *CachedStore) ListUserFundAccounts(ctx context.Context, userID string) ([]model.FundAccount, error) {
	return s.primary.ListUserFundAccounts(ctx, userID)
}

func (s *CachedStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.primary.ListProducts(ctx)
}

func (s *CachedStore) CreateEntrust(ctx context.Context, e *model.Entrust) error {
	return s.primary.CreateEntrust(ctx, e)
}

func (s *CachedStore) GetEntrust(ctx context.Context, entrustID string) (*model.Entrust, error) {
	return s.primary.GetEntrust(ctx, entrustID)
}

func (s *CachedStore) UpdateEntrust(ctx context.Context, e *model.Entrust) error {
	return s.primary.UpdateEntrust(ctx, e)
}

func (s *CachedStore) ListEntrustsByUser(ctx context.Context, userID string) ([]model.Entrust, error) {
	return s.primary.ListEntrustsByUser(ctx, userID)
}

func (s *CachedStore) ListEntrustsByStatus(ctx context.Context, status string, before time.Time) ([]model.Entrust, error) {
	return s.primary.ListEntrustsByStatus(ctx, status, before)
}

func (s *CachedStore) CreateConfirmation(ctx context.Context, c *model.Confirmation) error {
	return s.primary.CreateConfirmation(ctx, c)
}

func (s *CachedStore) GetConfirmationByEntrust(ctx context.Context, entrustID string) (*model.Confirmation, error) {
	return s.primary.GetConfirmationByEntrust(ctx, entrustID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func productKey(id string) string { return fmt.Sprintf("product:%s", id) }
func navKey(id string) string     { return fmt.Sprintf("nav:%s", id) }
func assetKey(uid string) string  { return fmt.Sprintf("assets:%s", uid) }
