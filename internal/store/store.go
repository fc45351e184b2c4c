package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tillbook/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid request")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
)

// ValidationError names the offending field. It matches ErrInvalid under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func Invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity string, id string) error {
	return fmt.Errorf("%s %q %w", entity, id, ErrNotFound)
}

type SaleFilter struct {
	ShopID    string
	CashierID string
	From      time.Time
	To        time.Time
	// IncludeRefundedInWindow also returns sales created earlier whose refund
	// falls inside [From, To).
	IncludeRefundedInWindow bool
	Limit                   int
}

type Repository interface {
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	GetProductsByIDs(ctx context.Context, shopID string, ids []string) (map[string]domain.Product, error)
	ListStockMovements(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockMovement, error)

	FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, shopID string, id string) (*domain.Sale, error)
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ConfirmSale(ctx context.Context, shopID string, saleID string, at time.Time) (*domain.Sale, error)
	RefundSale(ctx context.Context, refund domain.SaleRefund) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)

	GetWallet(ctx context.Context, shopID string) (domain.CurrencyWallet, error)
	ApplyWalletTransaction(ctx context.Context, entry domain.CurrencyTransaction) (*domain.CurrencyTransaction, error)
	ListCurrencyTransactions(ctx context.Context, shopID string, limit int) ([]domain.CurrencyTransaction, error)

	AppendExchangeRate(ctx context.Context, rate domain.ExchangeRate) error
	LatestExchangeRates(ctx context.Context, shopID string) ([]domain.ExchangeRate, error)

	GetDrawer(ctx context.Context, shopID string, cashierID string, date string) (*domain.CashFloat, error)
	CreateDrawer(ctx context.Context, drawer domain.CashFloat) (*domain.CashFloat, error)
	SaveDrawer(ctx context.Context, drawer domain.CashFloat) error
	// LockDrawer holds the drawer of (shop, cashier, date) across processes
	// until the returned release func is called.
	LockDrawer(ctx context.Context, shopID string, cashierID string, date string) (func(), error)

	CreateStaffLunch(ctx context.Context, lunch domain.StaffLunch, expense *domain.Expense) (*domain.StaffLunch, error)
	ListStaffLunches(ctx context.Context, shopID string, cashierID string, from time.Time, to time.Time) ([]domain.StaffLunch, error)
	ListExpenses(ctx context.Context, shopID string, from time.Time, to time.Time) ([]domain.Expense, error)

	SaveCashierCount(ctx context.Context, count domain.CashierCount) (*domain.CashierCount, error)
	GetCashierCount(ctx context.Context, shopID string, cashierID string, date string) (*domain.CashierCount, error)
	ListCashierCounts(ctx context.Context, shopID string, cashierID string, fromDate string, toDate string) ([]domain.CashierCount, error)
	ListCashierCountArchives(ctx context.Context, countID string) ([]domain.CashierCountArchive, error)
	SavePerformanceSummary(ctx context.Context, summary domain.CashierPerformanceSummary) error
	GetPerformanceSummary(ctx context.Context, shopID string, cashierID string, month string) (*domain.CashierPerformanceSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
