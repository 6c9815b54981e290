package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreateUser_Duplicate(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	u := &model.User{UserID: "USER_1", Name: "Alice", Status: model.StatusActive}
	if err := ms.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.CreateUser(ctx, u); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUser_CopiesOut(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateUser(ctx, &model.User{UserID: "USER_1", Name: "Alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := ms.GetUser(ctx, "USER_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Name = "Mallory"

	again, err := ms.GetUser(ctx, "USER_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Name != "Alice" {
		t.Errorf("stored record mutated through returned copy: name = %q", again.Name)
	}
}

func TestCreateProduct_DuplicateCode(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateProduct(ctx, &model.Product{ProductID: "PROD_1", Code: "000001"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := ms.CreateProduct(ctx, &model.Product{ProductID: "PROD_2", Code: "000001"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused code, got %v", err)
	}
}

func TestListProducts_SortedByCode(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, code := range []string{"000300", "000100", "000200"} {
		p := &model.Product{ProductID: "PROD_" + code, Code: code}
		if err := ms.CreateProduct(ctx, p); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	products, err := ms.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, want := range []string{"000100", "000200", "000300"} {
		if products[i].Code != want {
			t.Errorf("products[%d].Code = %s, want %s", i, products[i].Code, want)
		}
	}
}

func TestAppendNAV_OnePerDay(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	nav := &model.NAVRecord{NavID: "NAV_1", ProductID: "PROD_1", NetValue: decimal.NewFromFloat(1.2345), NavDate: day("2026-08-28")}
	if err := ms.AppendNAV(ctx, nav); err != nil {
		t.Fatalf("append: %v", err)
	}
	dup := &model.NAVRecord{NavID: "NAV_2", ProductID: "PROD_1", NetValue: decimal.NewFromFloat(1.3), NavDate: day("2026-08-28")}
	if err := ms.AppendNAV(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same day, got %v", err)
	}
}

func TestLatestNAV_MaxDateWins(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	// Out-of-order publication; latest is by nav date, not insert order.
	records := []*model.NAVRecord{
		{NavID: "NAV_1", ProductID: "PROD_1", NetValue: decimal.NewFromFloat(1.10), NavDate: day("2026-08-27")},
		{NavID: "NAV_2", ProductID: "PROD_1", NetValue: decimal.NewFromFloat(1.30), NavDate: day("2026-08-29")},
		{NavID: "NAV_3", ProductID: "PROD_1", NetValue: decimal.NewFromFloat(1.20), NavDate: day("2026-08-28")},
	}
	for _, r := range records {
		if err := ms.AppendNAV(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.NavID, err)
		}
	}
	latest, err := ms.LatestNAV(ctx, "PROD_1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.NavID != "NAV_2" {
		t.Errorf("latest = %s, want NAV_2", latest.NavID)
	}
}

func TestLatestNAV_Empty(t *testing.T) {
	ms := store.NewMemoryStore()
	if _, err := ms.LatestNAV(context.Background(), "PROD_X"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEntrustsByStatus_CutoffAndOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	entrusts := []*model.Entrust{
		{EntrustID: "ENT_old2", UserID: "u1", Status: model.StatusProcessing, CreatedAt: now.Add(-20 * time.Minute)},
		{EntrustID: "ENT_old1", UserID: "u1", Status: model.StatusProcessing, CreatedAt: now.Add(-30 * time.Minute)},
		{EntrustID: "ENT_fresh", UserID: "u1", Status: model.StatusProcessing, CreatedAt: now.Add(-1 * time.Minute)},
		{EntrustID: "ENT_done", UserID: "u1", Status: model.StatusSuccess, CreatedAt: now.Add(-40 * time.Minute)},
	}
	for _, e := range entrusts {
		if err := ms.CreateEntrust(ctx, e); err != nil {
			t.Fatalf("create %s: %v", e.EntrustID, err)
		}
	}

	stale, err := ms.ListEntrustsByStatus(ctx, model.StatusProcessing, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("len = %d, want 2", len(stale))
	}
	if stale[0].EntrustID != "ENT_old1" || stale[1].EntrustID != "ENT_old2" {
		t.Errorf("order = %s, %s; want ENT_old1, ENT_old2", stale[0].EntrustID, stale[1].EntrustID)
	}
}

func TestCreateConfirmation_OnePerEntrust(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	c := &model.Confirmation{ConfirmID: "CFM_1", EntrustID: "ENT_1", Result: model.ResultSuccess}
	if err := ms.CreateConfirmation(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &model.Confirmation{ConfirmID: "CFM_2", EntrustID: "ENT_1", Result: model.ResultSuccess}
	if err := ms.CreateConfirmation(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := ms.GetConfirmationByEntrust(ctx, "ENT_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConfirmID != "CFM_1" {
		t.Errorf("confirm id = %s, want CFM_1", got.ConfirmID)
	}
}

func TestAssetSnapshots_LatestIsLastAppended(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		snap := &model.AssetSnapshot{
			AssetID:    model.NewID("ASSET_"),
			UserID:     "u1",
			TotalAsset: decimal.NewFromInt(int64(i * 1000)),
		}
		if err := ms.AppendAssetSnapshot(ctx, snap); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, err := ms.LatestAssetSnapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.TotalAsset.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("total asset = %s, want 3000", latest.TotalAsset)
	}
}
