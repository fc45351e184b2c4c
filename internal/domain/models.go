package domain

import (
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

type Shop struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Timezone     string   `json:"timezone"`
	BaseCurrency Currency `json:"base_currency"`
}

// Location resolves the shop timezone, falling back to UTC.
func (s Shop) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Shop) Base() Currency {
	if s.BaseCurrency == "" {
		return CurrencyUSD
	}
	return s.BaseCurrency
}

type Product struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type CashierCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type CashierUser struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	ShopID      string    `json:"shop_id"`
	Role        string    `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username    string
	DisplayName string
	ShopID      string
	Password    string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PaymentLegRequest struct {
	PaymentMethod  string           `json:"payment_method"`
	Currency       string           `json:"currency"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountReceived *decimal.Decimal `json:"amount_received,omitempty"`
}

type SaleRequest struct {
	CashierID         string              `json:"cashier_id"`
	IdempotencyKey    string              `json:"idempotency_key,omitempty"`
	Items             []SaleItemRequest   `json:"items"`
	PaymentMethod     string              `json:"payment_method,omitempty"`
	Currency          string              `json:"currency,omitempty"`
	AmountReceived    *decimal.Decimal    `json:"amount_received,omitempty"`
	Payments          []PaymentLegRequest `json:"payments,omitempty"`
	ChangeCurrency    string              `json:"change_currency,omitempty"`
	AwaitConfirmation bool                `json:"await_confirmation,omitempty"`
	CustomerName      string              `json:"customer_name,omitempty"`
	CustomerPhone     string              `json:"customer_phone,omitempty"`
}

type Sale struct {
	ID              string          `json:"id"`
	ShopID          string          `json:"shop_id"`
	CashierID       string          `json:"cashier_id"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        Currency        `json:"currency"`
	PaymentCurrency string          `json:"payment_currency"`
	PaymentMethod   string          `json:"payment_method"`
	Status          string          `json:"status"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
	ChangeDue       decimal.Decimal `json:"change_due"`
	ChangeCurrency  Currency        `json:"change_currency,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	RefundCurrency  Currency        `json:"refund_currency,omitempty"`
	RefundType      string          `json:"refund_type,omitempty"`
	RefundReason    string          `json:"refund_reason,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []SaleItem      `json:"items"`
	Payments        []SalePayment   `json:"payments"`
}

// IsSplit reports whether the sale was settled with more than one leg.
func (s Sale) IsSplit() bool {
	return len(s.Payments) > 1
}

type SaleItem struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	LineTotal        decimal.Decimal `json:"line_total"`
	RefundedQuantity int             `json:"refunded_quantity"`
}

type SalePayment struct {
	ID                  string              `json:"id"`
	SaleID              string              `json:"sale_id"`
	Method              PaymentMethod       `json:"payment_method"`
	Currency            Currency            `json:"currency"`
	Amount              decimal.Decimal     `json:"amount"`
	ExchangeRateToUSD   decimal.NullDecimal `json:"exchange_rate_to_usd"`
	AmountUSDEquivalent decimal.Decimal     `json:"amount_usd_equivalent"`
	AmountReceived      decimal.NullDecimal `json:"amount_received"`
	ChangeGiven         decimal.Decimal     `json:"change_given"`
}

const (
	SaleStatusPending        = "pending"
	SaleStatusPendingPayment = "pending_payment"
	SaleStatusCompleted      = "completed"
	SaleStatusRefunded       = "refunded"
)

const (
	PaymentMethodSplit   = "split"
	PaymentCurrencySplit = "SPLIT"
)

type SaleActionRequest struct {
	Action      string            `json:"action"`
	RefundItems []SaleItemRequest `json:"refund_items,omitempty"`
	RefundType  string            `json:"refund_type,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Password    string            `json:"password"`
	CashierID   string            `json:"cashier_id,omitempty"`
}

const (
	SaleActionConfirm = "confirm"
	SaleActionRefund  = "refund"

	RefundTypeFull    = "full"
	RefundTypePartial = "partial"
)

// SaleRefund is the store-level instruction for refunding a completed sale.
type SaleRefund struct {
	ShopID     string
	SaleID     string
	Items      map[string]int
	Amount     decimal.Decimal
	Currency   Currency
	RefundType string
	Reason     string
	RecordedBy string
	RefundedAt time.Time
}

type StockMovement struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shop_id"`
	ProductID   string          `json:"product_id"`
	PreviousQty int             `json:"previous_qty"`
	NewQty      int             `json:"new_qty"`
	Delta       int             `json:"delta"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Reason      string          `json:"reason"`
	ReferenceID string          `json:"reference_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	StockReasonSale             = "sale"
	StockReasonRefund           = "refund"
	StockReasonStaffConsumption = "staff_consumption"
)

type CurrencyWallet struct {
	ShopID    string                       `json:"shop_id"`
	Balances  map[Currency]decimal.Decimal `json:"balances"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

type CurrencyTransaction struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shop_id"`
	Currency     Currency        `json:"currency"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference"`
	SaleID       string          `json:"sale_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

const (
	LedgerTypeSale   = "sale"
	LedgerTypeChange = "change"
	LedgerTypeRefund = "refund"
)

type WalletResponse struct {
	Wallet       CurrencyWallet        `json:"wallet"`
	Transactions []CurrencyTransaction `json:"transactions"`
}

type ExchangeRate struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shop_id"`
	Currency    Currency        `json:"currency"`
	UnitsPerUSD decimal.Decimal `json:"units_per_usd"`
	SetBy       string          `json:"set_by"`
	EffectiveAt time.Time       `json:"effective_at"`
}

type ExchangeRateRequest struct {
	Currency    string          `json:"currency"`
	UnitsPerUSD decimal.Decimal `json:"units_per_usd"`
}

const (
	DrawerStatusActive   = "ACTIVE"
	DrawerStatusInactive = "INACTIVE"
	DrawerStatusSettled  = "SETTLED"
)

// CashFloat is the per (shop, cashier, business date) drawer. It is a
// materialised view over the day's sales and staff consumption and is
// rewritten whole on every recompute.
type CashFloat struct {
	ID                string                       `json:"id"`
	ShopID            string                       `json:"shop_id"`
	CashierID         string                       `json:"cashier_id"`
	BusinessDate      string                       `json:"business_date"`
	Status            string                       `json:"status"`
	Float             map[Currency]decimal.Decimal `json:"float"`
	Current           map[Currency]DrawerBalance   `json:"current"`
	Session           map[Currency]DrawerBalance   `json:"session_sales"`
	ExpectedCashAtEOD map[Currency]decimal.Decimal `json:"expected_cash_at_eod"`
	StaffConsumption  map[Currency]decimal.Decimal `json:"staff_consumption"`
	SaleCount         int                          `json:"sale_count"`
	LastRecomputedAt  *time.Time                   `json:"last_recomputed_at,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

// NewCashFloat returns an empty ACTIVE drawer with every currency present.
func NewCashFloat(id string, shopID string, cashierID string, date string, at time.Time) CashFloat {
	drawer := CashFloat{
		ID:                id,
		ShopID:            shopID,
		CashierID:         cashierID,
		BusinessDate:      date,
		Status:            DrawerStatusActive,
		Float:             make(map[Currency]decimal.Decimal, len(Currencies)),
		Current:           make(map[Currency]DrawerBalance, len(Currencies)),
		Session:           make(map[Currency]DrawerBalance, len(Currencies)),
		ExpectedCashAtEOD: make(map[Currency]decimal.Decimal, len(Currencies)),
		StaffConsumption:  make(map[Currency]decimal.Decimal, len(Currencies)),
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	for _, c := range Currencies {
		drawer.Float[c] = decimal.Zero
		drawer.Current[c] = DrawerBalance{}
		drawer.Session[c] = DrawerBalance{}
		drawer.ExpectedCashAtEOD[c] = decimal.Zero
		drawer.StaffConsumption[c] = decimal.Zero
	}
	return drawer
}

type SetFloatRequest struct {
	CashierID string                     `json:"cashier_id"`
	Date      string                     `json:"date,omitempty"`
	Float     map[string]decimal.Decimal `json:"float"`
}

type DrawerSnapshot struct {
	Drawer          CashFloat                    `json:"drawer"`
	PrimaryCurrency Currency                     `json:"primary_currency"`
	Variance        map[Currency]decimal.Decimal `json:"variance,omitempty"`
	CountStatus     string                       `json:"count_status,omitempty"`
}

type StaffLunch struct {
	ID         string          `json:"id"`
	ShopID     string          `json:"shop_id"`
	Mode       string          `json:"mode"`
	ProductID  string          `json:"product_id,omitempty"`
	Quantity   int             `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
	Currency   Currency        `json:"currency"`
	StaffName  string          `json:"staff_name"`
	Reason     string          `json:"reason,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	StaffLunchModeProduct = "product"
	StaffLunchModeCash    = "cash"
)

type Expense struct {
	ID          string          `json:"id"`
	ShopID      string          `json:"shop_id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    Currency        `json:"currency"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
	RecordedBy  string          `json:"recorded_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

const ExpenseCategoryStaffLunch = "staff_lunch"

type StaffCashDeductionRequest struct {
	StaffName   string          `json:"staff_name"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CashierName string          `json:"cashier_name,omitempty"`
}

type StaffProductLunchRequest struct {
	StaffName   string `json:"staff_name"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
	CashierName string `json:"cashier_name,omitempty"`
}

type StaffLunchResponse struct {
	Lunch         StaffLunch       `json:"staff_lunch"`
	DrawerBalance *decimal.Decimal `json:"drawer_balance,omitempty"`
	Drawer        *CashFloat       `json:"drawer,omitempty"`
}

const (
	CountStatusBalanced = "BALANCED"
	CountStatusShortage = "SHORTAGE"
	CountStatusOver     = "OVER"
)

type CurrencyCountRequest struct {
	Denominations map[string]int  `json:"denominations"`
	Card          decimal.Decimal `json:"card"`
	Ecocash       decimal.Decimal `json:"ecocash"`
	Transfer      decimal.Decimal `json:"transfer"`
}

type CashierCountRequest struct {
	CashierID  string                          `json:"cashier_id"`
	Date       string                          `json:"date,omitempty"`
	Currencies map[string]CurrencyCountRequest `json:"currencies"`
	Notes      string                          `json:"notes,omitempty"`
}

type MethodVariance struct {
	Counted  decimal.Decimal `json:"counted"`
	Expected decimal.Decimal `json:"expected"`
	Variance decimal.Decimal `json:"variance"`
}

type CurrencyCount struct {
	Denominations map[string]int                   `json:"denominations"`
	CashTotal     decimal.Decimal                  `json:"cash_total"`
	ExpectedCash  decimal.Decimal                  `json:"expected_cash"`
	Variance      decimal.Decimal                  `json:"variance"`
	Status        string                           `json:"status"`
	NonCash       map[PaymentMethod]MethodVariance `json:"non_cash"`
}

type CashierCount struct {
	ID             string                     `json:"id"`
	ShopID         string                     `json:"shop_id"`
	CashierID      string                     `json:"cashier_id"`
	BusinessDate   string                     `json:"business_date"`
	Currencies     map[Currency]CurrencyCount `json:"currencies"`
	OverallStatus  string                     `json:"overall_status"`
	VarianceUSD    decimal.Decimal            `json:"variance_usd"`
	ShortageUSD    decimal.Decimal            `json:"shortage_usd"`
	OverUSD        decimal.Decimal            `json:"over_usd"`
	ExpectedSource string                     `json:"expected_source"`
	Notes          string                     `json:"notes,omitempty"`
	CountedBy      string                     `json:"counted_by"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

const (
	ExpectedFromDrawer = "drawer"
	ExpectedFromFloat  = "float"
	ExpectedFromNone   = "none"
)

type CashierCountArchive struct {
	ID         string       `json:"id"`
	CountID    string       `json:"count_id"`
	Snapshot   CashierCount `json:"snapshot"`
	ArchivedAt time.Time    `json:"archived_at"`
}

type CashierPerformanceSummary struct {
	ShopID           string          `json:"shop_id"`
	CashierID        string          `json:"cashier_id"`
	Month            string          `json:"month"`
	TotalCounts      int             `json:"total_counts"`
	BalancedCounts   int             `json:"balanced_counts"`
	ShortageCounts   int             `json:"shortage_counts"`
	OverCounts       int             `json:"over_counts"`
	TotalShortageUSD decimal.Decimal `json:"total_shortage_usd"`
	TotalOverUSD     decimal.Decimal `json:"total_over_usd"`
	BalanceRate      decimal.Decimal `json:"balance_rate"`
	ReliabilityScore decimal.Decimal `json:"reliability_score"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type CashierCountResponse struct {
	Count            CashierCount              `json:"count"`
	Performance      CashierPerformanceSummary `json:"performance"`
	PerformanceError string                    `json:"performance_error,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
