package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	shops            map[string]domain.Shop
	usersByUsername  map[string]domain.UserAccount
	products         map[string]domain.Product
	stockMovements   []domain.StockMovement
	salesByID        map[string]*domain.Sale
	salesByIdem      map[string]string
	wallets          map[string]domain.CurrencyWallet
	ledger           []domain.CurrencyTransaction
	ledgerReferences map[string]struct{}
	exchangeRates    []domain.ExchangeRate
	drawers          map[string]domain.CashFloat
	staffLunches     []domain.StaffLunch
	expenses         []domain.Expense
	counts           map[string]domain.CashierCount
	countArchives    []domain.CashierCountArchive
	performance      map[string]domain.CashierPerformanceSummary
	auditLogs        []domain.AuditLog
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. The backend uses PostgreSQL when DATABASE_URL is set.
func seedUsers(shopID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Shop Manager", adminPwd, domain.RoleAdmin},
		{"cashier", "Till One", cashierPwd, domain.RoleCashier},
		{"cashier2", "Till Two", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			DisplayName: u.name,
			ShopID:      shopID,
			Password:    string(hash),
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SeedShopID is the shop NewSeeded creates.
const SeedShopID = "main-shop"

func New() *Store {
	return &Store{
		shops:            make(map[string]domain.Shop),
		usersByUsername:  make(map[string]domain.UserAccount),
		products:         make(map[string]domain.Product),
		stockMovements:   make([]domain.StockMovement, 0, 128),
		salesByID:        make(map[string]*domain.Sale),
		salesByIdem:      make(map[string]string),
		wallets:          make(map[string]domain.CurrencyWallet),
		ledger:           make([]domain.CurrencyTransaction, 0, 128),
		ledgerReferences: make(map[string]struct{}),
		drawers:          make(map[string]domain.CashFloat),
		counts:           make(map[string]domain.CashierCount),
		performance:      make(map[string]domain.CashierPerformanceSummary),
		auditLogs:        make([]domain.AuditLog, 0, 128),
	}
}

func NewSeeded() *Store {
	s := New()
	s.shops[SeedShopID] = domain.Shop{
		ID:           SeedShopID,
		Name:         "Main Street Grocer",
		Timezone:     "Africa/Harare",
		BaseCurrency: domain.CurrencyUSD,
	}
	s.usersByUsername = seedUsers(SeedShopID)

	for _, p := range []struct {
		id     string
		name   string
		price  string
		cost   string
		active bool
	}{
		{"prod-bread", "White Bread 700g", "1.80", "1.20", true},
		{"prod-sweets", "Mint Sweets", "0.50", "0.25", true},
		{"prod-sugar", "Sugar 2kg", "3.00", "2.10", true},
		{"prod-maize", "Maize Meal 10kg", "8.50", "6.40", true},
		{"prod-oil", "Cooking Oil 2L", "10.00", "7.50", true},
		{"prod-soap", "Bath Soap (discontinued)", "1.20", "0.80", false},
		{"prod-sample", "Promo Sample", "0", "0", true},
	} {
		s.products[p.id] = domain.Product{
			ID:        p.id,
			ShopID:    SeedShopID,
			Name:      p.name,
			Price:     decimal.RequireFromString(p.price),
			CostPrice: decimal.RequireFromString(p.cost),
			Stock:     40,
			Active:    p.active,
		}
	}

	seededAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.exchangeRates = append(s.exchangeRates,
		domain.ExchangeRate{ID: "rate-seed-zig", ShopID: SeedShopID, Currency: domain.CurrencyZIG, UnitsPerUSD: domain.SeedRates[domain.CurrencyZIG], SetBy: "seed", EffectiveAt: seededAt},
		domain.ExchangeRate{ID: "rate-seed-rand", ShopID: SeedShopID, Currency: domain.CurrencyRAND, UnitsPerUSD: domain.SeedRates[domain.CurrencyRAND], SetBy: "seed", EffectiveAt: seededAt},
	)
	return s
}

// PutShop and PutProduct register fixtures.
func (s *Store) PutShop(shop domain.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops[shop.ID] = shop
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shops[shopID]
	if !ok {
		return nil, store.NotFound("shop", shopID)
	}
	return &shop, nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.NotFound("user", username)
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.NotFound("user", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetProductsByIDs(_ context.Context, shopID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok && product.ShopID == shopID {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListStockMovements(_ context.Context, shopID string, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 16)
	for i := len(s.stockMovements) - 1; i >= 0; i-- {
		movement := s.stockMovements[i]
		if movement.ShopID != shopID {
			continue
		}
		if productID != "" && movement.ProductID != productID {
			continue
		}
		result = append(result, movement)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, shopID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[idemKey(shopID, key)]
	if !ok {
		return nil, store.NotFound("sale", key)
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) FindSaleByID(_ context.Context, shopID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok || sale.ShopID != shopID {
		return nil, store.NotFound("sale", id)
	}
	return cloneSale(sale), nil
}

// CommitSale stores the sale with its payments and items and decrements stock
// with one movement per item. Stock may go negative.
func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 || len(sale.Payments) == 0 {
		return nil, store.Invalid("sale", "sale requires items and payments")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	if sale.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[idemKey(sale.ShopID, sale.IdempotencyKey)]; exists {
			return nil, store.ErrConflict
		}
	}
	for _, item := range sale.Items {
		product, ok := s.products[item.ProductID]
		if !ok || product.ShopID != sale.ShopID {
			return nil, store.NotFound("product", item.ProductID)
		}
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = sale.ID
		s.moveStock(sale.ShopID, item.ProductID, -item.Quantity, domain.StockReasonSale, sale.ID, sale.CreatedAt)
	}
	for i := range sale.Payments {
		if sale.Payments[i].ID == "" {
			sale.Payments[i].ID = xid.New("pay")
		}
		sale.Payments[i].SaleID = sale.ID
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	if sale.IdempotencyKey != "" {
		s.salesByIdem[idemKey(sale.ShopID, sale.IdempotencyKey)] = sale.ID
	}
	return cloneSale(stored), nil
}

func (s *Store) ConfirmSale(_ context.Context, shopID string, saleID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.ShopID != shopID {
		return nil, store.NotFound("sale", saleID)
	}
	if sale.Status != domain.SaleStatusPending && sale.Status != domain.SaleStatusPendingPayment {
		return nil, store.Invalid("status", "sale in status %s cannot be confirmed", sale.Status)
	}
	confirmedAt := at.UTC()
	sale.Status = domain.SaleStatusCompleted
	sale.ConfirmedAt = &confirmedAt
	return cloneSale(sale), nil
}

func (s *Store) RefundSale(_ context.Context, refund domain.SaleRefund) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[refund.SaleID]
	if !ok || sale.ShopID != refund.ShopID {
		return nil, store.NotFound("sale", refund.SaleID)
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.Invalid("status", "sale in status %s cannot be refunded", sale.Status)
	}
	for i := range sale.Items {
		item := &sale.Items[i]
		qty := refund.Items[item.ProductID]
		if qty < 1 {
			continue
		}
		if qty > item.Quantity-item.RefundedQuantity {
			return nil, store.Invalid("refund_items", "refund quantity exceeds sold quantity for %s", item.ProductID)
		}
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		qty := refund.Items[item.ProductID]
		if qty < 1 {
			continue
		}
		item.RefundedQuantity += qty
		s.moveStock(sale.ShopID, item.ProductID, qty, domain.StockReasonRefund, sale.ID, refund.RefundedAt)
	}

	refundedAt := refund.RefundedAt.UTC()
	sale.Status = domain.SaleStatusRefunded
	sale.RefundAmount = refund.Amount
	sale.RefundCurrency = refund.Currency
	sale.RefundType = refund.RefundType
	sale.RefundReason = refund.Reason
	sale.RefundedAt = &refundedAt
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.ShopID != filter.ShopID {
			continue
		}
		if filter.CashierID != "" && sale.CashierID != filter.CashierID {
			continue
		}
		if !inWindow(sale.CreatedAt, filter.From, filter.To) {
			if !filter.IncludeRefundedInWindow || sale.RefundedAt == nil || !inWindow(*sale.RefundedAt, filter.From, filter.To) {
				continue
			}
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetWallet(_ context.Context, shopID string) (domain.CurrencyWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneWallet(s.walletLocked(shopID)), nil
}

// ApplyWalletTransaction moves the wallet balance and appends the entry with its
// balance_after snapshot. A repeated reference returns ErrConflict.
func (s *Store) ApplyWalletTransaction(_ context.Context, entry domain.CurrencyTransaction) (*domain.CurrencyTransaction, error) {
	if entry.Reference == "" {
		return nil, store.Invalid("reference", "ledger reference is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	refKey := entry.ShopID + "|" + entry.Reference
	if _, exists := s.ledgerReferences[refKey]; exists {
		return nil, store.ErrConflict
	}
	if entry.ID == "" {
		entry.ID = xid.New("ctx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	wallet := s.walletLocked(entry.ShopID)
	balance := wallet.Balances[entry.Currency].Add(entry.Amount)
	wallet.Balances[entry.Currency] = balance
	wallet.UpdatedAt = entry.CreatedAt
	s.wallets[entry.ShopID] = wallet

	entry.BalanceAfter = balance
	s.ledger = append(s.ledger, entry)
	s.ledgerReferences[refKey] = struct{}{}
	return &entry, nil
}

func (s *Store) ListCurrencyTransactions(_ context.Context, shopID string, limit int) ([]domain.CurrencyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CurrencyTransaction, 0, 16)
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].ShopID != shopID {
			continue
		}
		result = append(result, s.ledger[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) AppendExchangeRate(_ context.Context, rate domain.ExchangeRate) error {
	if !rate.UnitsPerUSD.IsPositive() {
		return store.Invalid("units_per_usd", "rate must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.ID == "" {
		rate.ID = xid.New("rate")
	}
	s.exchangeRates = append(s.exchangeRates, rate)
	return nil
}

func (s *Store) LatestExchangeRates(_ context.Context, shopID string) ([]domain.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[domain.Currency]domain.ExchangeRate)
	for _, rate := range s.exchangeRates {
		if rate.ShopID != shopID {
			continue
		}
		current, ok := latest[rate.Currency]
		if !ok || !rate.EffectiveAt.Before(current.EffectiveAt) {
			latest[rate.Currency] = rate
		}
	}
	result := make([]domain.ExchangeRate, 0, len(latest))
	for _, c := range domain.Currencies {
		if rate, ok := latest[c]; ok {
			result = append(result, rate)
		}
	}
	return result, nil
}

func (s *Store) GetDrawer(_ context.Context, shopID string, cashierID string, date string) (*domain.CashFloat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drawer, ok := s.drawers[drawerKey(shopID, cashierID, date)]
	if !ok {
		return nil, store.NotFound("drawer", cashierID+"@"+date)
	}
	dup := cloneDrawer(drawer)
	return &dup, nil
}

func (s *Store) CreateDrawer(_ context.Context, drawer domain.CashFloat) (*domain.CashFloat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := drawerKey(drawer.ShopID, drawer.CashierID, drawer.BusinessDate)
	if _, exists := s.drawers[key]; exists {
		return nil, store.ErrConflict
	}
	if drawer.ID == "" {
		drawer.ID = xid.New("drawer")
	}
	s.drawers[key] = cloneDrawer(drawer)
	dup := cloneDrawer(drawer)
	return &dup, nil
}

// LockDrawer is a no-op: a memory store lives in a single process and the
// service serialises drawer work itself.
func (s *Store) LockDrawer(_ context.Context, _ string, _ string, _ string) (func(), error) {
	return func() {}, nil
}

// SaveDrawer rewrites the drawer row. A snapshot older than the stored one is
// dropped so a slow recompute cannot overwrite a newer one.
func (s *Store) SaveDrawer(_ context.Context, drawer domain.CashFloat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := drawerKey(drawer.ShopID, drawer.CashierID, drawer.BusinessDate)
	if existing, ok := s.drawers[key]; ok {
		if existing.LastRecomputedAt != nil && drawer.LastRecomputedAt != nil && drawer.LastRecomputedAt.Before(*existing.LastRecomputedAt) {
			return nil
		}
		drawer.ID = existing.ID
		drawer.CreatedAt = existing.CreatedAt
	}
	if drawer.ID == "" {
		drawer.ID = xid.New("drawer")
	}
	s.drawers[key] = cloneDrawer(drawer)
	return nil
}

func (s *Store) CreateStaffLunch(_ context.Context, lunch domain.StaffLunch, expense *domain.Expense) (*domain.StaffLunch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lunch.ID == "" {
		lunch.ID = xid.New("lunch")
	}
	if lunch.Mode == domain.StaffLunchModeProduct {
		product, ok := s.products[lunch.ProductID]
		if !ok || product.ShopID != lunch.ShopID {
			return nil, store.NotFound("product", lunch.ProductID)
		}
		s.moveStock(lunch.ShopID, lunch.ProductID, -lunch.Quantity, domain.StockReasonStaffConsumption, lunch.ID, lunch.CreatedAt)
	}
	s.staffLunches = append(s.staffLunches, lunch)
	if expense != nil {
		if expense.ID == "" {
			expense.ID = xid.New("exp")
		}
		expense.ReferenceID = lunch.ID
		s.expenses = append(s.expenses, *expense)
	}
	return &lunch, nil
}

func (s *Store) ListStaffLunches(_ context.Context, shopID string, cashierID string, from time.Time, to time.Time) ([]domain.StaffLunch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StaffLunch, 0, 8)
	for _, lunch := range s.staffLunches {
		if lunch.ShopID != shopID || !inWindow(lunch.CreatedAt, from, to) {
			continue
		}
		if cashierID != "" && lunch.RecordedBy != cashierID {
			continue
		}
		result = append(result, lunch)
	}
	slices.SortStableFunc(result, func(a, b domain.StaffLunch) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) ListExpenses(_ context.Context, shopID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, 8)
	for _, expense := range s.expenses {
		if expense.ShopID == shopID && inWindow(expense.CreatedAt, from, to) {
			result = append(result, expense)
		}
	}
	return result, nil
}

// SaveCashierCount upserts the day's count, appends an immutable archive copy
// and settles the drawer when one exists.
func (s *Store) SaveCashierCount(_ context.Context, count domain.CashierCount) (*domain.CashierCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := drawerKey(count.ShopID, count.CashierID, count.BusinessDate)
	if existing, ok := s.counts[key]; ok {
		count.ID = existing.ID
		count.CreatedAt = existing.CreatedAt
	}
	if count.ID == "" {
		count.ID = xid.New("count")
	}
	s.counts[key] = count
	s.countArchives = append(s.countArchives, domain.CashierCountArchive{
		ID:         xid.New("countarc"),
		CountID:    count.ID,
		Snapshot:   count,
		ArchivedAt: count.UpdatedAt,
	})

	if drawer, ok := s.drawers[key]; ok {
		drawer.Status = domain.DrawerStatusSettled
		drawer.UpdatedAt = count.UpdatedAt
		s.drawers[key] = drawer
	}
	return &count, nil
}

func (s *Store) GetCashierCount(_ context.Context, shopID string, cashierID string, date string) (*domain.CashierCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.counts[drawerKey(shopID, cashierID, date)]
	if !ok {
		return nil, store.NotFound("cashier count", cashierID+"@"+date)
	}
	return &count, nil
}

func (s *Store) ListCashierCounts(_ context.Context, shopID string, cashierID string, fromDate string, toDate string) ([]domain.CashierCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashierCount, 0, 31)
	for _, count := range s.counts {
		if count.ShopID != shopID || count.CashierID != cashierID {
			continue
		}
		if count.BusinessDate < fromDate || count.BusinessDate >= toDate {
			continue
		}
		result = append(result, count)
	}
	slices.SortFunc(result, func(a, b domain.CashierCount) int {
		return strings.Compare(a.BusinessDate, b.BusinessDate)
	})
	return result, nil
}

func (s *Store) ListCashierCountArchives(_ context.Context, countID string) ([]domain.CashierCountArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashierCountArchive, 0, 2)
	for _, archive := range s.countArchives {
		if archive.CountID == countID {
			result = append(result, archive)
		}
	}
	return result, nil
}

func (s *Store) SavePerformanceSummary(_ context.Context, summary domain.CashierPerformanceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.performance[drawerKey(summary.ShopID, summary.CashierID, summary.Month)] = summary
	return nil
}

func (s *Store) GetPerformanceSummary(_ context.Context, shopID string, cashierID string, month string) (*domain.CashierPerformanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.performance[drawerKey(shopID, cashierID, month)]
	if !ok {
		return nil, store.NotFound("performance summary", cashierID+"@"+month)
	}
	return &summary, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.ShopID != shopID || !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// moveStock applies delta to the product and records the movement. Callers hold s.mu.
func (s *Store) moveStock(shopID string, productID string, delta int, reason string, reference string, at time.Time) {
	product := s.products[productID]
	previous := product.Stock
	product.Stock += delta
	s.products[productID] = product

	s.stockMovements = append(s.stockMovements, domain.StockMovement{
		ID:          xid.New("stk"),
		ShopID:      shopID,
		ProductID:   productID,
		PreviousQty: previous,
		NewQty:      product.Stock,
		Delta:       delta,
		CostPrice:   product.CostPrice,
		Reason:      reason,
		ReferenceID: reference,
		CreatedAt:   at,
	})
}

func (s *Store) walletLocked(shopID string) domain.CurrencyWallet {
	wallet, ok := s.wallets[shopID]
	if !ok {
		wallet = domain.CurrencyWallet{ShopID: shopID, Balances: make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))}
		for _, c := range domain.Currencies {
			wallet.Balances[c] = decimal.Zero
		}
	}
	return wallet
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func idemKey(shopID string, key string) string {
	return shopID + "|" + key
}

func drawerKey(shopID string, cashierID string, date string) string {
	return shopID + "|" + cashierID + "|" + date
}

func cloneSale(src *domain.Sale) *domain.Sale {
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.Payments = slices.Clone(src.Payments)
	if src.RefundedAt != nil {
		at := *src.RefundedAt
		dup.RefundedAt = &at
	}
	if src.ConfirmedAt != nil {
		at := *src.ConfirmedAt
		dup.ConfirmedAt = &at
	}
	return &dup
}

func cloneWallet(src domain.CurrencyWallet) domain.CurrencyWallet {
	dup := src
	dup.Balances = cloneMap(src.Balances)
	return dup
}

func cloneDrawer(src domain.CashFloat) domain.CashFloat {
	dup := src
	dup.Float = cloneMap(src.Float)
	dup.Current = cloneMap(src.Current)
	dup.Session = cloneMap(src.Session)
	dup.ExpectedCashAtEOD = cloneMap(src.ExpectedCashAtEOD)
	dup.StaffConsumption = cloneMap(src.StaffConsumption)
	if src.LastRecomputedAt != nil {
		at := *src.LastRecomputedAt
		dup.LastRecomputedAt = &at
	}
	return dup
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return nil
	}
	dup := make(map[K]V, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}
