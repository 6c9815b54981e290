// Package api provides the HTTP handlers for account onboarding, the
// product/NAV catalog, settlement operations, and asset queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/asset"
	"github.com/fundx/fund-engine/internal/ledger"
	"github.com/fundx/fund-engine/internal/model"
	"github.com/fundx/fund-engine/internal/order"
	"github.com/fundx/fund-engine/internal/settle"
	"github.com/fundx/fund-engine/internal/store"
)

// Service wires the settlement engine, ledgers, and store behind HTTP.
type Service struct {
	store    store.Store
	balances *ledger.BalanceLedger
	shares   *ledger.ShareLedger
	engine   *settle.Engine
	assets   *asset.Aggregator
}

// NewService creates a new API service.
func NewService(st store.Store, balances *ledger.BalanceLedger, shares *ledger.ShareLedger, engine *settle.Engine, assets *asset.Aggregator) *Service {
	return &Service{
		store:    st,
		balances: balances,
		shares:   shares,
		engine:   engine,
		assets:   assets,
	}
}

// Routes mounts all API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/users", s.CreateUser)
	r.Get("/users/{userID}", s.GetUser)
	r.Get("/users/{userID}/balance", s.GetBalance)
	r.Post("/users/{userID}/accounts", s.OpenAccount)
	r.Get("/users/{userID}/accounts", s.ListAccounts)
	r.Get("/users/{userID}/assets", s.GetAssets)
	r.Get("/users/{userID}/entrusts", s.ListUserEntrusts)

	r.Get("/accounts/{accountID}/shares", s.ListShares)

	r.Post("/products", s.CreateProduct)
	r.Get("/products", s.ListProducts)
	r.Get("/products/{productID}", s.GetProduct)
	r.Post("/products/{productID}/nav", s.PublishNAV)
	r.Get("/products/{productID}/nav/latest", s.GetLatestNAV)

	r.Post("/subscribe", s.Subscribe)
	r.Post("/redeem", s.Redeem)
	r.Post("/deposit", s.Deposit)
	r.Post("/withdraw", s.Withdraw)

	r.Get("/entrusts/{entrustID}", s.GetEntrust)
}

// --- Request types ---

// CreateUserRequest is the JSON body for user registration.
type CreateUserRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"` // "PERSONAL" or "INSTITUTION"
	IdentityNo string `json:"identity_no"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
}

// CreateProductRequest is the JSON body for catalog maintenance.
type CreateProductRequest struct {
	Code      string `json:"code"` // 6-digit fund code
	Name      string `json:"name"`
	Type      string `json:"type"`
	RiskLevel string `json:"risk_level"`
	Company   string `json:"company"`
}

// PublishNAVRequest is the JSON body for NAV publication.
type PublishNAVRequest struct {
	NetValue       decimal.Decimal `json:"net_value"`
	AccumulatedNav decimal.Decimal `json:"accumulated_nav"`
	NavDate        string          `json:"nav_date"` // YYYY-MM-DD; empty = today
}

// TradeRequest is the JSON body for POST /subscribe and POST /redeem.
type TradeRequest struct {
	FundAccountID string          `json:"fund_account_id"`
	ProductID     string          `json:"product_id"`
	Amount        decimal.Decimal `json:"amount"` // subscribe
	Share         decimal.Decimal `json:"share"`  // redeem
}

// CapitalRequest is the JSON body for POST /deposit and POST /withdraw.
type CapitalRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// --- Onboarding handlers ---

// CreateUser handles POST /api/v1/users. Registration also opens the user's
// cash balance at zero, so every registered user can receive a deposit.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	userType := req.Type
	if userType == "" {
		userType = "PERSONAL"
	}

	user := &model.User{
		UserID:     model.NewID("USER_"),
		Name:       req.Name,
		Type:       userType,
		Status:     model.StatusActive,
		IdentityNo: req.IdentityNo,
		Phone:      req.Phone,
		Email:      req.Email,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.balances.Create(user.UserID); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("user registered", "user_id", user.UserID, "type", user.Type)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.balances.Get(chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// OpenAccount handles POST /api/v1/users/{userID}/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if user.Status != model.StatusActive {
		writeError(w, "user is not active", http.StatusConflict)
		return
	}

	now := time.Now().UTC()
	account := &model.FundAccount{
		FundAccountID: model.NewID("ACC_"),
		UserID:        userID,
		AccountNo:     model.NewAccountNo(now),
		Status:        model.StatusActive,
		OpenDate:      now.Truncate(24 * time.Hour),
		CreatedAt:     now,
	}
	if err := s.store.CreateFundAccount(r.Context(), account); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("fund account opened", "fund_account_id", account.FundAccountID, "user_id", userID, "account_no", account.AccountNo)
	writeJSON(w, http.StatusCreated, account)
}

// ListAccounts handles GET /api/v1/users/{userID}/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListUserFundAccounts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// ListShares handles GET /api/v1/accounts/{accountID}/shares
func (s *Service) ListShares(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shares.ListByAccount(chi.URLParam(r, "accountID")))
}

// --- Catalog handlers ---

// CreateProduct handles POST /api/v1/products
func (s *Service) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := model.ValidateProductCode(req.Code); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	productType := req.Type
	if productType == "" {
		productType = model.ProductMixed
	}

	now := time.Now().UTC()
	product := &model.Product{
		ProductID: model.NewID("PROD_"),
		Code:      req.Code,
		Name:      req.Name,
		Type:      productType,
		RiskLevel: req.RiskLevel,
		Status:    model.StatusActive,
		Company:   req.Company,
		IssueDate: now.Truncate(24 * time.Hour),
		CreatedAt: now,
	}
	if err := s.store.CreateProduct(r.Context(), product); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("product created", "product_id", product.ProductID, "code", product.Code)
	writeJSON(w, http.StatusCreated, product)
}

// ListProducts handles GET /api/v1/products
func (s *Service) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /api/v1/products/{productID}
func (s *Service) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.store.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// PublishNAV handles POST /api/v1/products/{productID}/nav
func (s *Service) PublishNAV(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	var req PublishNAVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NetValue.LessThanOrEqual(decimal.Zero) {
		writeError(w, "net_value must be positive", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetProduct(r.Context(), productID); err != nil {
		writeServiceError(w, err)
		return
	}

	navDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.NavDate != "" {
		parsed, err := time.Parse("2006-01-02", req.NavDate)
		if err != nil {
			writeError(w, "nav_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		navDate = parsed.UTC()
	}
	accumulated := req.AccumulatedNav
	if accumulated.IsZero() {
		accumulated = req.NetValue
	}

	nav := &model.NAVRecord{
		NavID:          model.NewID("NAV_"),
		ProductID:      productID,
		NetValue:       req.NetValue,
		AccumulatedNav: accumulated,
		NavDate:        navDate,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.AppendNAV(r.Context(), nav); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("nav published", "product_id", productID, "net_value", nav.NetValue.String(), "nav_date", navDate.Format("2006-01-02"))
	writeJSON(w, http.StatusCreated, nav)
}

// GetLatestNAV handles GET /api/v1/products/{productID}/nav/latest
func (s *Service) GetLatestNAV(w http.ResponseWriter, r *http.Request) {
	nav, err := s.store.LatestNAV(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

// --- Settlement handlers ---

// Subscribe handles POST /api/v1/subscribe
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Subscribe(r.Context(), req.FundAccountID, req.ProductID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Redeem handles POST /api/v1/redeem
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Redeem(r.Context(), req.FundAccountID, req.ProductID, req.Share)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Deposit handles POST /api/v1/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req CapitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Deposit(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Withdraw handles POST /api/v1/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req CapitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Withdraw(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// --- Query handlers ---

// GetAssets handles GET /api/v1/users/{userID}/assets
func (s *Service) GetAssets(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.assets.Compute(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetEntrust handles GET /api/v1/entrusts/{entrustID}. The response embeds
// the confirmation when the entrust is terminal.
func (s *Service) GetEntrust(w http.ResponseWriter, r *http.Request) {
	entrustID := chi.URLParam(r, "entrustID")
	entrust, err := s.engine.Entrust(r.Context(), entrustID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := struct {
		Entrust      *model.Entrust      `json:"entrust"`
		Confirmation *model.Confirmation `json:"confirmation,omitempty"`
	}{Entrust: entrust}
	if entrust.Terminal() {
		if conf, err := s.store.GetConfirmationByEntrust(r.Context(), entrustID); err == nil {
			resp.Confirmation = conf
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUserEntrusts handles GET /api/v1/users/{userID}/entrusts
func (s *Service) ListUserEntrusts(w http.ResponseWriter, r *http.Request) {
	entrusts, err := s.engine.UserEntrusts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entrusts)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses: validation 400,
// missing resources 404, business-rule rejections 409, invariant faults 500.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, settle.ErrInvalidAmount),
		errors.Is(err, settle.ErrInvalidShare),
		errors.Is(err, ledger.ErrNonPositive):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, settle.ErrAccountNotFound),
		errors.Is(err, settle.ErrProductNotFound),
		errors.Is(err, settle.ErrBalanceNotFound),
		errors.Is(err, asset.ErrBalanceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, settle.ErrAccountInactive),
		errors.Is(err, settle.ErrProductInactive),
		errors.Is(err, settle.ErrNavUnavailable),
		errors.Is(err, asset.ErrNavUnavailable),
		errors.Is(err, order.ErrTerminal),
		errors.Is(err, order.ErrBadTransition):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvariant):
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, err.Error(), status)
}
