package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fundx/fund-engine/internal/model"
)

// snapshotHistoryCap bounds per-user asset snapshot history kept in memory.
// History is append-only; the oldest rows are dropped past the cap.
const snapshotHistoryCap = 365

// MemoryStore implements Store with in-memory maps. Used for testing and
// single-process deployments (no persistence across restarts).
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	accounts      map[string]*model.FundAccount
	products      map[string]*model.Product
	navs          map[string][]model.NAVRecord // productID → append-only records
	entrusts      map[string]*model.Entrust
	confirmations map[string]*model.Confirmation // entrustID → confirmation
	snapshots     map[string][]model.AssetSnapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*model.User),
		accounts:      make(map[string]*model.FundAccount),
		products:      make(map[string]*model.Product),
		navs:          make(map[string][]model.NAVRecord),
		entrusts:      make(map[string]*model.Entrust),
		confirmations: make(map[string]*model.Confirmation),
		snapshots:     make(map[string][]model.AssetSnapshot),
	}
}

// --- Users and fund accounts ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.UserID]; ok {
		return fmt.Errorf("%w: user %s", ErrDuplicate, u.UserID)
	}
	cp := *u
	s.users[u.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateFundAccount(_ context.Context, a *model.FundAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.FundAccountID]; ok {
		return fmt.Errorf("%w: fund account %s", ErrDuplicate, a.FundAccountID)
	}
	cp := *a
	s.accounts[a.FundAccountID] = &cp
	return nil
}

func (s *MemoryStore) GetFundAccount(_ context.Context, accountID string) (*model.FundAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: fund account %s", ErrNotFound, accountID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListUserFundAccounts(_ context.Context, userID string) ([]model.FundAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []model.FundAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].FundAccountID < accounts[j].FundAccountID
	})
	return accounts, nil
}

// --- Product / NAV catalog ---

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ProductID]; ok {
		return fmt.Errorf("%w: product %s", ErrDuplicate, p.ProductID)
	}
	for _, existing := range s.products {
		if existing.Code == p.Code {
			return fmt.Errorf("%w: product code %s", ErrDuplicate, p.Code)
		}
	}
	cp := *p
	s.products[p.ProductID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Code < products[j].Code })
	return products, nil
}

func (s *MemoryStore) AppendNAV(_ context.Context, nav *model.NAVRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := nav.NavDate.Truncate(24 * time.Hour)
	for _, existing := range s.navs[nav.ProductID] {
		if existing.NavDate.Truncate(24 * time.Hour).Equal(day) {
			return fmt.Errorf("%w: NAV for product %s on %s",
				ErrDuplicate, nav.ProductID, day.Format("2006-01-02"))
		}
	}
	s.navs[nav.ProductID] = append(s.navs[nav.ProductID], *nav)
	return nil
}

func (s *MemoryStore) LatestNAV(_ context.Context, productID string) (*model.NAVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.navs[productID]
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: NAV for product %s", ErrNotFound, productID)
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.NavDate.After(latest.NavDate) {
			latest = r
		}
	}
	return &latest, nil
}

// --- Entrusts and confirmations ---

func (s *MemoryStore) CreateEntrust(_ context.Context, e *model.Entrust) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entrusts[e.EntrustID]; ok {
		return fmt.Errorf("%w: entrust %s", ErrDuplicate, e.EntrustID)
	}
	cp := *e
	s.entrusts[e.EntrustID] = &cp
	return nil
}

func (s *MemoryStore) GetEntrust(_ context.Context, entrustID string) (*model.Entrust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entrusts[entrustID]
	if !ok {
		return nil, fmt.Errorf("%w: entrust %s", ErrNotFound, entrustID)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) UpdateEntrust(_ context.Context, e *model.Entrust) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entrusts[e.EntrustID]; !ok {
		return fmt.Errorf("%w: entrust %s", ErrNotFound, e.EntrustID)
	}
	cp := *e
	s.entrusts[e.EntrustID] = &cp
	return nil
}

func (s *MemoryStore) ListEntrustsByUser(_ context.Context, userID string) ([]model.Entrust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entrusts []model.Entrust
	for _, e := range s.entrusts {
		if e.UserID == userID {
			entrusts = append(entrusts, *e)
		}
	}
	sort.Slice(entrusts, func(i, j int) bool {
		return entrusts[i].CreatedAt.Before(entrusts[j].CreatedAt)
	})
	return entrusts, nil
}

func (s *MemoryStore) ListEntrustsByStatus(_ context.Context, status string, before time.Time) ([]model.Entrust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entrusts []model.Entrust
	for _, e := range s.entrusts {
		if e.Status == status && e.CreatedAt.Before(before) {
			entrusts = append(entrusts, *e)
		}
	}
	sort.Slice(entrusts, func(i, j int) bool {
		return entrusts[i].CreatedAt.Before(entrusts[j].CreatedAt)
	})
	return entrusts, nil
}

func (s *MemoryStore) CreateConfirmation(_ context.Context, c *model.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.confirmations[c.EntrustID]; ok {
		return fmt.Errorf("%w: confirmation for entrust %s", ErrDuplicate, c.EntrustID)
	}
	cp := *c
	s.confirmations[c.EntrustID] = &cp
	return nil
}

func (s *MemoryStore) GetConfirmationByEntrust(_ context.Context, entrustID string) (*model.Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.confirmations[entrustID]
	if !ok {
		return nil, fmt.Errorf("%w: confirmation for entrust %s", ErrNotFound, entrustID)
	}
	cp := *c
	return &cp, nil
}

// --- Asset snapshot history ---

func (s *MemoryStore) AppendAssetSnapshot(_ context.Context, snap *model.AssetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.snapshots[snap.UserID], *snap)
	if len(history) > snapshotHistoryCap {
		history = history[len(history)-snapshotHistoryCap:]
	}
	s.snapshots[snap.UserID] = history
	return nil
}

func (s *MemoryStore) LatestAssetSnapshot(_ context.Context, userID string) (*model.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[userID]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: asset snapshot for user %s", ErrNotFound, userID)
	}
	cp := history[len(history)-1]
	return &cp, nil
}
