package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// round-tripped through ::TEXT into shopspring decimals.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFoundOr(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return err
}

// nullableTime maps zero times to NULL on write.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// --- Users and fund accounts ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, name, type, status, identity_no, phone, email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.UserID, u.Name, u.Type, u.Status, u.IdentityNo, u.Phone, u.Email, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, name, type, status, identity_no, phone, email, created_at
		 FROM users WHERE user_id = $1`, userID).
		Scan(&u.UserID, &u.Name, &u.Type, &u.Status, &u.IdentityNo, &u.Phone, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "user", userID)
	}
	return &u, nil
}

func (s *PostgresStore) CreateFundAccount(ctx context.Context, a *model.FundAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_accounts (fund_account_id, user_id, account_no, status, open_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.FundAccountID, a.UserID, a.AccountNo, a.Status, a.OpenDate, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetFundAccount(ctx context.Context, accountID string) (*model.FundAccount, error) {
	var a model.FundAccount
	err := s.pool.QueryRow(ctx,
		`SELECT fund_account_id, user_id, account_no, status, open_date, created_at
		 FROM fund_accounts WHERE fund_account_id = $1`, accountID).
		Scan(&a.FundAccountID, &a.UserID, &a.AccountNo, &a.Status, &a.OpenDate, &a.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "fund account", accountID)
	}
	return &a, nil
}

func (s *PostgresStore) ListUserFundAccounts(ctx context.Context, userID string) ([]model.FundAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fund_account_id, user_id, account_no, status, open_date, created_at
		 FROM fund_accounts WHERE user_id = $1 ORDER BY fund_account_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.FundAccount
	for rows.Next() {
		var a model.FundAccount
		if err := rows.Scan(&a.FundAccountID, &a.UserID, &a.AccountNo, &a.Status, &a.OpenDate, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Product / NAV catalog ---

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (product_id, code, name, type, risk_level, status, company, issue_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ProductID, p.Code, p.Name, p.Type, p.RiskLevel, p.Status, p.Company, p.IssueDate, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, code, name, type, risk_level, status, company, issue_date, created_at
		 FROM products WHERE product_id = $1`, productID).
		Scan(&p.ProductID, &p.Code, &p.Name, &p.Type, &p.RiskLevel, &p.Status, &p.Company, &p.IssueDate, &p.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "product", productID)
	}
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, code, name, type, risk_level, status, company, issue_date, created_at
		 FROM products ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ProductID, &p.Code, &p.Name, &p.Type, &p.RiskLevel, &p.Status, &p.Company, &p.IssueDate, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) AppendNAV(ctx context.Context, nav *model.NAVRecord) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO nav_records (nav_id, product_id, net_value, accumulated_nav, nav_date, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
		 ON CONFLICT (product_id, nav_date) DO NOTHING`,
		nav.NavID, nav.ProductID, nav.NetValue.String(), nav.AccumulatedNav.String(),
		nav.NavDate, nav.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: NAV for product %s on %s",
			ErrDuplicate, nav.ProductID, nav.NavDate.Format("2006-01-02"))
	}
	return nil
}

func (s *PostgresStore) LatestNAV(ctx context.Context, productID string) (*model.NAVRecord, error) {
	var nav model.NAVRecord
	var netValue, accumulated string

	err := s.pool.QueryRow(ctx,
		`SELECT nav_id, product_id, net_value::TEXT, accumulated_nav::TEXT, nav_date, created_at
		 FROM nav_records WHERE product_id = $1
		 ORDER BY nav_date DESC LIMIT 1`, productID).
		Scan(&nav.NavID, &nav.ProductID, &netValue, &accumulated, &nav.NavDate, &nav.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "NAV for product", productID)
	}

	nav.NetValue, _ = decimal.NewFromString(netValue)
	nav.AccumulatedNav, _ = decimal.NewFromString(accumulated)
	return &nav, nil
}

// --- Entrusts and confirmations ---

func (s *PostgresStore) CreateEntrust(ctx context.Context, e *model.Entrust) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entrusts (entrust_id, kind, status, user_id, fund_account_id, product_id,
		                       amount, share, nav, fee, error_msg, created_at, processed_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14)`,
		e.EntrustID, e.Kind, e.Status, e.UserID, e.FundAccountID, e.ProductID,
		e.Amount.String(), e.Share.String(), e.Nav.String(), e.Fee.String(),
		e.ErrorMsg, e.CreatedAt, nullableTime(e.ProcessedAt), nullableTime(e.CompletedAt),
	)
	return err
}

func (s *PostgresStore) GetEntrust(ctx context.Context, entrustID string) (*model.Entrust, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT entrust_id, kind, status, user_id, fund_account_id, product_id,
		        amount::TEXT, share::TEXT, nav::TEXT, fee::TEXT, error_msg,
		        created_at, processed_at, completed_at
		 FROM entrusts WHERE entrust_id = $1`, entrustID)

	e, err := scanEntrust(row)
	if err != nil {
		return nil, notFoundOr(err, "entrust", entrustID)
	}
	return e, nil
}

func (s *PostgresStore) UpdateEntrust(ctx context.Context, e *model.Entrust) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE entrusts
		 SET status = $2, amount = $3::NUMERIC, share = $4::NUMERIC, nav = $5::NUMERIC,
		     fee = $6::NUMERIC, error_msg = $7, processed_at = $8, completed_at = $9
		 WHERE entrust_id = $1`,
		e.EntrustID, e.Status, e.Amount.String(), e.Share.String(), e.Nav.String(),
		e.Fee.String(), e.ErrorMsg, nullableTime(e.ProcessedAt), nullableTime(e.CompletedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entrust %s", ErrNotFound, e.EntrustID)
	}
	return nil
}

func (s *PostgresStore) ListEntrustsByUser(ctx context.Context, userID string) ([]model.Entrust, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entrust_id, kind, status, user_id, fund_account_id, product_id,
		        amount::TEXT, share::TEXT, nav::TEXT, fee::TEXT, error_msg,
		        created_at, processed_at, completed_at
		 FROM entrusts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntrusts(rows)
}

func (s *PostgresStore) ListEntrustsByStatus(ctx context.Context, status string, before time.Time) ([]model.Entrust, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entrust_id, kind, status, user_id, fund_account_id, product_id,
		        amount::TEXT, share::TEXT, nav::TEXT, fee::TEXT, error_msg,
		        created_at, processed_at, completed_at
		 FROM entrusts WHERE status = $1 AND created_at < $2 ORDER BY created_at`, status, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntrusts(rows)
}

func (s *PostgresStore) CreateConfirmation(ctx context.Context, c *model.Confirmation) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO confirmations (confirm_id, entrust_id, kind, result, amount, share, nav, fee, remark, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 ON CONFLICT (entrust_id) DO NOTHING`,
		c.ConfirmID, c.EntrustID, c.Kind, c.Result,
		c.Amount.String(), c.Share.String(), c.Nav.String(), c.Fee.String(),
		c.Remark, c.ConfirmedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: confirmation for entrust %s", ErrDuplicate, c.EntrustID)
	}
	return nil
}

func (s *PostgresStore) GetConfirmationByEntrust(ctx context.Context, entrustID string) (*model.Confirmation, error) {
	var c model.Confirmation
	var amount, share, nav, fee string

	err := s.pool.QueryRow(ctx,
		`SELECT confirm_id, entrust_id, kind, result, amount::TEXT, share::TEXT, nav::TEXT, fee::TEXT, remark, confirmed_at
		 FROM confirmations WHERE entrust_id = $1`, entrustID).
		Scan(&c.ConfirmID, &c.EntrustID, &c.Kind, &c.Result, &amount, &share, &nav, &fee, &c.Remark, &c.ConfirmedAt)
	if err != nil {
		return nil, notFoundOr(err, "confirmation for entrust", entrustID)
	}

	c.Amount, _ = decimal.NewFromString(amount)
	c.Share, _ = decimal.NewFromString(share)
	c.Nav, _ = decimal.NewFromString(nav)
	c.Fee, _ = decimal.NewFromString(fee)
	return &c, nil
}

// --- Asset snapshot history ---

func (s *PostgresStore) AppendAssetSnapshot(ctx context.Context, snap *model.AssetSnapshot) error {
	holdings, err := json.Marshal(snap.Holdings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO asset_snapshots (asset_id, user_id, total_asset, total_cash, total_fund_value, holdings, calc_date, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		snap.AssetID, snap.UserID,
		snap.TotalAsset.String(), snap.TotalCash.String(), snap.TotalFundValue.String(),
		holdings, snap.CalcDate, snap.CreatedAt,
	)
	return err
}

func (s *PostgresStore) LatestAssetSnapshot(ctx context.Context, userID string) (*model.AssetSnapshot, error) {
	var snap model.AssetSnapshot
	var totalAsset, totalCash, totalFund string
	var holdings []byte

	err := s.pool.QueryRow(ctx,
		`SELECT asset_id, user_id, total_asset::TEXT, total_cash::TEXT, total_fund_value::TEXT, holdings, calc_date, created_at
		 FROM asset_snapshots WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT 1`, userID).
		Scan(&snap.AssetID, &snap.UserID, &totalAsset, &totalCash, &totalFund, &holdings, &snap.CalcDate, &snap.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "asset snapshot for user", userID)
	}

	snap.TotalAsset, _ = decimal.NewFromString(totalAsset)
	snap.TotalCash, _ = decimal.NewFromString(totalCash)
	snap.TotalFundValue, _ = decimal.NewFromString(totalFund)
	if err := json.Unmarshal(holdings, &snap.Holdings); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Row scanning helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanEntrust(row pgxRow) (*model.Entrust, error) {
	var e model.Entrust
	var amount, share, nav, fee string
	var processedAt, completedAt *time.Time

	if err := row.Scan(&e.EntrustID, &e.Kind, &e.Status, &e.UserID, &e.FundAccountID, &e.ProductID,
		&amount, &share, &nav, &fee, &e.ErrorMsg,
		&e.CreatedAt, &processedAt, &completedAt); err != nil {
		return nil, err
	}

	e.Amount, _ = decimal.NewFromString(amount)
	e.Share, _ = decimal.NewFromString(share)
	e.Nav, _ = decimal.NewFromString(nav)
	e.Fee, _ = decimal.NewFromString(fee)
	e.ProcessedAt = timeOrZero(processedAt)
	e.CompletedAt = timeOrZero(completedAt)
	return &e, nil
}

func scanEntrusts(rows pgx.Rows) ([]model.Entrust, error) {
	var entrusts []model.Entrust
	for rows.Next() {
		e, err := scanEntrust(rows)
		if err != nil {
			return nil, err
		}
		entrusts = append(entrusts, *e)
	}
	return entrusts, rows.Err()
}
