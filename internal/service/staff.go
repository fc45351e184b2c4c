package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// DeductStaffCash takes money out of the cashier's drawer for a staff meal.
// The amount may not exceed the float plus cash taken so far today in that
// currency. The shop wallet is not touched.
func (s *Service) DeductStaffCash(ctx context.Context, shopID string, req domain.StaffCashDeductionRequest) (domain.StaffLunchResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, req.CashierName))
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}

	staffName := strings.TrimSpace(req.StaffName)
	if staffName == "" {
		return domain.StaffLunchResponse{}, store.Invalid("staff_name", "staff_name is required")
	}
	amount := domain.Money(req.Amount)
	if !amount.IsPositive() {
		return domain.StaffLunchResponse{}, store.Invalid("amount", "amount must be positive")
	}
	currency, ok := domain.ParseCurrency(defaultString(req.Currency, string(domain.CurrencyUSD)))
	if !ok {
		return domain.StaffLunchResponse{}, store.Invalid("currency", "unsupported currency %q", req.Currency)
	}

	now := s.now().UTC()
	from, to, date := domain.BusinessDay(now, shop.Location())
	unlock, err := s.lockDrawer(ctx, shop.ID, user.Username, date)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	defer unlock()

	drawer, err := s.ensureDrawerLocked(ctx, shop, user.Username, date)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{ShopID: shop.ID, CashierID: user.Username, From: from, To: to})
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	available := domain.Money(drawer.Float[currency].Add(grossCashSales(sales, currency, from, now)))
	if amount.GreaterThan(available) {
		return domain.StaffLunchResponse{}, fmt.Errorf("%w: requested %s %s but drawer holds %s", store.ErrInsufficientFunds, amount.StringFixed(2), currency, available.StringFixed(2))
	}

	lunch := domain.StaffLunch{
		ID:         xid.New("lunch"),
		ShopID:     shop.ID,
		Mode:       domain.StaffLunchModeCash,
		Value:      amount,
		Currency:   currency,
		StaffName:  staffName,
		Reason:     strings.TrimSpace(req.Reason),
		RecordedBy: user.Username,
		CreatedAt:  now,
	}
	expense := &domain.Expense{
		ID:          xid.New("exp"),
		ShopID:      shop.ID,
		Category:    domain.ExpenseCategoryStaffLunch,
		Amount:      amount,
		Currency:    currency,
		Description: "Staff lunch: " + staffName,
		RecordedBy:  user.Username,
		CreatedAt:   now,
	}
	created, err := s.repo.CreateStaffLunch(ctx, lunch, expense)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	s.logAudit(ctx, shop.ID, "staff_lunch_cash", "staff_lunch", created.ID,
		fmt.Sprintf("staff=%s,amount=%s %s", staffName, amount.StringFixed(2), currency))

	response := domain.StaffLunchResponse{Lunch: *created}
	result, err := s.recomputeLocked(ctx, shop, user.Username, from, to)
	if err != nil {
		s.logger.Warn("drawer recompute after staff deduction failed",
			zap.String("shop_id", shop.ID),
			zap.String("cashier_id", user.Username),
			zap.String("lunch_id", created.ID),
			zap.Error(err),
		)
		return response, nil
	}
	cash := result.Drawer.Current[currency].Cash
	response.DrawerBalance = &cash
	response.Drawer = &result.Drawer
	return response, nil
}

// RecordProductLunch books stock a staff member ate. It is valued at cost
// (sale price when no cost is on file) and leaves the drawer alone.
func (s *Service) RecordProductLunch(ctx context.Context, shopID string, req domain.StaffProductLunchRequest) (domain.StaffLunchResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, req.CashierName))
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}

	staffName := strings.TrimSpace(req.StaffName)
	if staffName == "" {
		return domain.StaffLunchResponse{}, store.Invalid("staff_name", "staff_name is required")
	}
	if req.Quantity < 1 {
		return domain.StaffLunchResponse{}, store.Invalid("quantity", "quantity must be at least 1")
	}
	productID := strings.TrimSpace(req.ProductID)
	products, err := s.repo.GetProductsByIDs(ctx, shop.ID, []string{productID})
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	product, ok := products[productID]
	if !ok {
		return domain.StaffLunchResponse{}, store.NotFound("product", productID)
	}

	unit := product.CostPrice
	if unit.IsZero() {
		unit = product.Price
	}
	lunch := domain.StaffLunch{
		ID:         xid.New("lunch"),
		ShopID:     shop.ID,
		Mode:       domain.StaffLunchModeProduct,
		ProductID:  product.ID,
		Quantity:   req.Quantity,
		Value:      domain.Money(unit.Mul(decimal.NewFromInt(int64(req.Quantity)))),
		Currency:   shop.Base(),
		StaffName:  staffName,
		Reason:     strings.TrimSpace(req.Reason),
		RecordedBy: user.Username,
		CreatedAt:  s.now().UTC(),
	}
	created, err := s.repo.CreateStaffLunch(ctx, lunch, nil)
	if err != nil {
		return domain.StaffLunchResponse{}, err
	}
	s.logAudit(ctx, shop.ID, "staff_lunch_product", "staff_lunch", created.ID,
		fmt.Sprintf("staff=%s,product=%s,qty=%d,value=%s", staffName, product.ID, req.Quantity, created.Value.StringFixed(2)))
	return domain.StaffLunchResponse{Lunch: *created}, nil
}
