package order_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/order"
	"github.com/fundx/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newBook(t *testing.T) (*order.Book, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return order.NewBook(ms), ms
}

// beginSubscribe opens a PENDING subscribe entrust.
func beginSubscribe(t *testing.T, b *order.Book) *model.Entrust {
	t.Helper()
	e := &model.Entrust{
		Kind:          model.KindSubscribe,
		UserID:        "u1",
		FundAccountID: "acc1",
		ProductID:     "p1",
		Amount:        d(10000),
	}
	if err := b.Begin(context.Background(), e); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return e
}

func TestBegin_AssignsIDAndPending(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)

	if !strings.HasPrefix(e.EntrustID, "ENT_") {
		t.Errorf("entrust id = %q, want ENT_ prefix", e.EntrustID)
	}
	if e.Status != model.StatusPending {
		t.Errorf("status = %s, want PENDING", e.Status)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestPrice_PendingToProcessing(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)

	priced, err := b.Price(context.Background(), e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if priced.Status != model.StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", priced.Status)
	}
	if !priced.Nav.Equal(d(1.2345)) {
		t.Errorf("nav = %s, want 1.2345", priced.Nav)
	}
	if priced.ProcessedAt.IsZero() {
		t.Error("expected processed_at to be set")
	}
}

func TestPrice_Twice(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	if _, err := b.Price(ctx, e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero); err != nil {
		t.Fatalf("price: %v", err)
	}
	// The priced NAV is fixed; re-pricing is an illegal transition.
	if _, err := b.Price(ctx, e.EntrustID, d(1.5), d(10000), d(6666.6667), decimal.Zero); !errors.Is(err, order.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}

	got, err := b.Get(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Nav.Equal(d(1.2345)) {
		t.Errorf("nav changed to %s after rejected re-price", got.Nav)
	}
}

func TestSucceed_WritesConfirmation(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	if _, err := b.Price(ctx, e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero); err != nil {
		t.Fatalf("price: %v", err)
	}
	conf, err := b.Succeed(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}

	if !strings.HasPrefix(conf.ConfirmID, "CFM_") {
		t.Errorf("confirm id = %q, want CFM_ prefix", conf.ConfirmID)
	}
	if conf.Result != model.ResultSuccess {
		t.Errorf("result = %s, want SUCCESS", conf.Result)
	}
	if !conf.Share.Equal(d(8100.4455)) {
		t.Errorf("share = %s, want 8100.4455", conf.Share)
	}

	got, err := b.Get(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Error("expected completed_at to be set")
	}
}

func TestSucceed_RedeemConfirmsNetOfFee(t *testing.T) {
	b, _ := newBook(t)
	e := &model.Entrust{
		Kind:          model.KindRedeem,
		UserID:        "u1",
		FundAccountID: "acc1",
		ProductID:     "p1",
		Share:         d(300),
	}
	ctx := context.Background()
	if err := b.Begin(ctx, e); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Gross 375 with a 3.75 fee; the ledger credits 371.25, and the
	// confirmation must say the same.
	if _, err := b.Price(ctx, e.EntrustID, d(1.25), d(375), d(300), d(3.75)); err != nil {
		t.Fatalf("price: %v", err)
	}
	conf, err := b.Succeed(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if !conf.Amount.Equal(d(371.25)) {
		t.Errorf("amount = %s, want 371.25", conf.Amount)
	}
	if !conf.Fee.Equal(d(3.75)) {
		t.Errorf("fee = %s, want 3.75", conf.Fee)
	}
}

func TestSucceed_Idempotent(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	if _, err := b.Price(ctx, e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero); err != nil {
		t.Fatalf("price: %v", err)
	}
	first, err := b.Succeed(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	second, err := b.Succeed(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("second succeed: %v", err)
	}
	if second.ConfirmID != first.ConfirmID {
		t.Errorf("re-confirm created new confirmation %s, want %s", second.ConfirmID, first.ConfirmID)
	}
}

func TestSucceed_FromPending(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)

	if _, err := b.Succeed(context.Background(), e.EntrustID); !errors.Is(err, order.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestFail_FromPending(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	conf, err := b.Fail(ctx, e.EntrustID, errors.New("insufficient funds"))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if conf.Result != model.ResultFailed {
		t.Errorf("result = %s, want FAILED", conf.Result)
	}
	if conf.Remark != "insufficient funds" {
		t.Errorf("remark = %q", conf.Remark)
	}

	got, err := b.Get(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMsg == "" {
		t.Error("expected error_msg to be recorded")
	}
}

func TestFail_AfterSuccess(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	if _, err := b.Price(ctx, e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero); err != nil {
		t.Fatalf("price: %v", err)
	}
	if _, err := b.Succeed(ctx, e.EntrustID); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if _, err := b.Fail(ctx, e.EntrustID, errors.New("late failure")); !errors.Is(err, order.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestFail_Idempotent(t *testing.T) {
	b, _ := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	first, err := b.Fail(ctx, e.EntrustID, errors.New("rejected"))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	second, err := b.Fail(ctx, e.EntrustID, errors.New("rejected again"))
	if err != nil {
		t.Fatalf("second fail: %v", err)
	}
	if second.ConfirmID != first.ConfirmID {
		t.Errorf("re-fail created new confirmation %s, want %s", second.ConfirmID, first.ConfirmID)
	}
}

// A crash between confirmation write and status update leaves a PROCESSING
// entrust with an existing confirmation; re-confirming settles the status.
func TestSucceed_SettlesStatusAfterPartialWrite(t *testing.T) {
	b, ms := newBook(t)
	e := beginSubscribe(t, b)
	ctx := context.Background()

	if _, err := b.Price(ctx, e.EntrustID, d(1.2345), d(10000), d(8100.4455), decimal.Zero); err != nil {
		t.Fatalf("price: %v", err)
	}
	conf := &model.Confirmation{
		ConfirmID: model.NewID("CFM_"),
		EntrustID: e.EntrustID,
		Kind:      e.Kind,
		Result:    model.ResultSuccess,
		Amount:    d(10000),
		Share:     d(8100.4455),
		Nav:       d(1.2345),
	}
	if err := ms.CreateConfirmation(ctx, conf); err != nil {
		t.Fatalf("seed confirmation: %v", err)
	}

	got, err := b.Succeed(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if got.ConfirmID != conf.ConfirmID {
		t.Errorf("confirmation = %s, want the pre-existing %s", got.ConfirmID, conf.ConfirmID)
	}
	ent, err := b.Get(ctx, e.EntrustID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ent.Status != model.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", ent.Status)
	}
}
