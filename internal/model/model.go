// Package model defines the core domain types shared across the fund engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Business kinds carried on an entrust.
const (
	KindSubscribe  = "SUBSCRIBE"
	KindRedeem     = "REDEEM"
	KindCapitalIn  = "CAPITAL_IN"
	KindCapitalOut = "CAPITAL_OUT"
)

// Entrust lifecycle states. PENDING and PROCESSING are transient;
// SUCCESS and FAILED are terminal and immutable once set.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// Confirmation results.
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// User, account, and product statuses.
const (
	StatusActive = "ACTIVE"
	StatusFrozen = "FROZEN"
	StatusClosed = "CLOSED"
)

// Product types.
const (
	ProductEquity   = "EQUITY"
	ProductBond     = "BOND"
	ProductMixed    = "MIXED"
	ProductMonetary = "MONETARY"
)

// User is an individual or institution holding a trading relationship.
type User struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Name       string    `json:"name" db:"name"`
	Type       string    `json:"type" db:"type"` // "PERSONAL" or "INSTITUTION"
	Status     string    `json:"status" db:"status"`
	IdentityNo string    `json:"identity_no,omitempty" db:"identity_no"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Email      string    `json:"email,omitempty" db:"email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FundAccount is a fund trading account owned by one user. A user may hold
// several; shares are booked per (fund account, product).
type FundAccount struct {
	FundAccountID string    `json:"fund_account_id" db:"fund_account_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	AccountNo     string    `json:"account_no" db:"account_no"`
	Status        string    `json:"status" db:"status"`
	OpenDate      time.Time `json:"open_date" db:"open_date"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Product is an open-end fund product. The settlement engine treats the
// catalog as a read-only price feed: products and NAV records are written by
// catalog maintenance, never by settlement.
type Product struct {
	ProductID string    `json:"product_id" db:"product_id"`
	Code      string    `json:"code" db:"code"` // 6-digit fund code
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"`
	RiskLevel string    `json:"risk_level" db:"risk_level"` // R1..R5
	Status    string    `json:"status" db:"status"`
	Company   string    `json:"company,omitempty" db:"company"`
	IssueDate time.Time `json:"issue_date" db:"issue_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NAVRecord is one published net asset value for a product on a date.
// Append-only: one record per (product, date); "latest" = max nav_date.
type NAVRecord struct {
	NavID          string          `json:"nav_id" db:"nav_id"`
	ProductID      string          `json:"product_id" db:"product_id"`
	NetValue       decimal.Decimal `json:"net_value" db:"net_value"`
	AccumulatedNav decimal.Decimal `json:"accumulated_nav" db:"accumulated_nav"`
	NavDate        time.Time       `json:"nav_date" db:"nav_date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Balance is a user's cash position. Invariant: Total == Available + Frozen,
// all three >= 0, recomputed in the same atomic step as every mutation.
type Balance struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Available decimal.Decimal `json:"available" db:"available"`
	Frozen    decimal.Decimal `json:"frozen" db:"frozen"`
	Total     decimal.Decimal `json:"total" db:"total"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Share is a (fund account, product) holding. Same invariant contract as
// Balance. Created lazily on the first successful subscribe confirmation.
type Share struct {
	ShareID       string          `json:"share_id" db:"share_id"`
	FundAccountID string          `json:"fund_account_id" db:"fund_account_id"`
	ProductID     string          `json:"product_id" db:"product_id"`
	Total         decimal.Decimal `json:"total" db:"total"`
	Available     decimal.Decimal `json:"available" db:"available"`
	Frozen        decimal.Decimal `json:"frozen" db:"frozen"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Entrust is one subscribe/redeem/capital-change request progressing
// PENDING → PROCESSING → SUCCESS | FAILED. The NAV used for pricing is
// recorded when pricing occurs and never changes afterward, even if a newer
// NAV snapshot arrives later.
type Entrust struct {
	EntrustID     string          `json:"entrust_id" db:"entrust_id"`
	Kind          string          `json:"kind" db:"kind"`
	Status        string          `json:"status" db:"status"`
	UserID        string          `json:"user_id" db:"user_id"`
	FundAccountID string          `json:"fund_account_id,omitempty" db:"fund_account_id"`
	ProductID     string          `json:"product_id,omitempty" db:"product_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Share         decimal.Decimal `json:"share" db:"share"`
	Nav           decimal.Decimal `json:"nav" db:"nav"` // priced NAV, fixed once set
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	ErrorMsg      string          `json:"error_msg,omitempty" db:"error_msg"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt   time.Time       `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt   time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the entrust has reached an immutable final state.
func (e *Entrust) Terminal() bool {
	return e.Status == StatusSuccess || e.Status == StatusFailed
}

// Confirmation is the settlement outcome of one entrust, written exactly
// once when the entrust reaches a terminal state.
type Confirmation struct {
	ConfirmID   string          `json:"confirm_id" db:"confirm_id"`
	EntrustID   string          `json:"entrust_id" db:"entrust_id"`
	Kind        string          `json:"kind" db:"kind"`
	Result      string          `json:"result" db:"result"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Share       decimal.Decimal `json:"share" db:"share"`
	Nav         decimal.Decimal `json:"nav" db:"nav"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	Remark      string          `json:"remark,omitempty" db:"remark"`
	ConfirmedAt time.Time       `json:"confirmed_at" db:"confirmed_at"`
}

// FundHolding is the per-product breakdown inside an asset snapshot.
type FundHolding struct {
	ProductID string          `json:"product_id"`
	Share     decimal.Decimal `json:"share"`
	Nav       decimal.Decimal `json:"nav"`
	Value     decimal.Decimal `json:"value"`
}

// AssetSnapshot is a point-in-time wealth summary for one user.
// Invariant: TotalAsset == TotalCash + TotalFundValue.
type AssetSnapshot struct {
	AssetID        string          `json:"asset_id" db:"asset_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	TotalAsset     decimal.Decimal `json:"total_asset" db:"total_asset"`
	TotalCash      decimal.Decimal `json:"total_cash" db:"total_cash"`
	TotalFundValue decimal.Decimal `json:"total_fund_value" db:"total_fund_value"`
	Holdings       []FundHolding   `json:"holdings"`
	CalcDate       time.Time       `json:"calc_date" db:"calc_date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// NewID returns a prefixed short identifier, e.g. "ENT_9f86d081884c7d65".
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// NewAccountNo derives a fund account number: F{yyyymmdd}{8 hex, uppercase}.
func NewAccountNo(opened time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return "F" + opened.Format("20060102") + suffix
}

// productCodeRegex matches a 6-digit open-end fund code, e.g. "001234".
var productCodeRegex = regexp.MustCompile(`^[0-9]{6}$`)

// ValidateProductCode checks the fund code format.
func ValidateProductCode(code string) error {
	if !productCodeRegex.MatchString(code) {
		return fmt.Errorf("model: invalid product code %q (expected 6 digits)", code)
	}
	return nil
}
