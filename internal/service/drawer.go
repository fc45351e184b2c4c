package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type RecomputeResult struct {
	Drawer  domain.CashFloat   `json:"drawer"`
	Skipped []SkippedDeduction `json:"skipped_deductions,omitempty"`
}

// RecomputeDrawer re-derives the cashier's drawer for date (today when empty)
// from that day's sales and staff consumption. Calling it twice yields the
// same figures.
func (s *Service) RecomputeDrawer(ctx context.Context, shopID string, cashierID string, date string) (RecomputeResult, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return RecomputeResult{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, cashierID))
	if err != nil {
		return RecomputeResult{}, err
	}
	from, to, err := s.dayWindow(shop, date)
	if err != nil {
		return RecomputeResult{}, err
	}

	unlock, err := s.lockDrawer(ctx, shop.ID, user.Username, from.Format(domain.DateLayout))
	if err != nil {
		return RecomputeResult{}, err
	}
	defer unlock()
	return s.recomputeLocked(ctx, shop, user.Username, from, to)
}

// recomputeAt recomputes the drawer of the business day containing at.
func (s *Service) recomputeAt(ctx context.Context, shop *domain.Shop, cashierID string, at time.Time) (RecomputeResult, error) {
	from, to, date := domain.BusinessDay(at, shop.Location())
	unlock, err := s.lockDrawer(ctx, shop.ID, cashierID, date)
	if err != nil {
		return RecomputeResult{}, err
	}
	defer unlock()
	return s.recomputeLocked(ctx, shop, cashierID, from, to)
}

// recomputeLocked expects the caller to hold the drawer lock for the day.
func (s *Service) recomputeLocked(ctx context.Context, shop *domain.Shop, cashierID string, from time.Time, to time.Time) (RecomputeResult, error) {
	drawer, err := s.ensureDrawerLocked(ctx, shop, cashierID, from.Format(domain.DateLayout))
	if err != nil {
		return RecomputeResult{}, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		ShopID:                  shop.ID,
		CashierID:               cashierID,
		From:                    from,
		To:                      to,
		IncludeRefundedInWindow: true,
	})
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("load sales: %w", err)
	}
	lunches, err := s.repo.ListStaffLunches(ctx, shop.ID, cashierID, from, to)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("load staff lunches: %w", err)
	}

	updated, skipped := aggregateDrawer(*drawer, sales, lunches, from, to, s.now())
	if err := s.repo.SaveDrawer(ctx, updated); err != nil {
		return RecomputeResult{}, fmt.Errorf("save drawer: %w", err)
	}
	for _, skip := range skipped {
		s.logger.Warn("staff deduction exceeds drawer cash, not applied",
			zap.String("shop_id", shop.ID),
			zap.String("cashier_id", cashierID),
			zap.String("lunch_id", skip.LunchID),
			zap.String("currency", string(skip.Currency)),
			zap.String("amount", skip.Amount.String()),
			zap.String("available", skip.Available.String()),
		)
	}
	return RecomputeResult{Drawer: updated, Skipped: skipped}, nil
}

// EnsureDrawer returns today's drawer for the cashier, opening an empty one
// on first use.
func (s *Service) EnsureDrawer(ctx context.Context, shopID string, cashierID string) (*domain.CashFloat, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	user, err := s.cashier(ctx, shop.ID, cashierID)
	if err != nil {
		return nil, err
	}
	date, err := s.businessDate(shop, "")
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockDrawer(ctx, shop.ID, user.Username, date)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.ensureDrawerLocked(ctx, shop, user.Username, date)
}

func (s *Service) ensureDrawerLocked(ctx context.Context, shop *domain.Shop, cashierID string, date string) (*domain.CashFloat, error) {
	drawer, err := s.repo.GetDrawer(ctx, shop.ID, cashierID, date)
	if err == nil {
		return drawer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.repo.CreateDrawer(ctx, domain.NewCashFloat(xid.New("drawer"), shop.ID, cashierID, date, s.now().UTC()))
	if errors.Is(err, store.ErrConflict) {
		return s.repo.GetDrawer(ctx, shop.ID, cashierID, date)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetFloat records the opening float per currency and recomputes the drawer.
// Currencies missing from the request keep their float.
func (s *Service) SetFloat(ctx context.Context, shopID string, req domain.SetFloatRequest) (RecomputeResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return RecomputeResult{}, err
	}
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return RecomputeResult{}, err
	}
	user, err := s.cashier(ctx, shop.ID, req.CashierID)
	if err != nil {
		return RecomputeResult{}, err
	}
	from, to, err := s.dayWindow(shop, req.Date)
	if err != nil {
		return RecomputeResult{}, err
	}
	if len(req.Float) == 0 {
		return RecomputeResult{}, store.Invalid("float", "at least one currency is required")
	}

	floats := make(map[domain.Currency]decimal.Decimal, len(req.Float))
	for raw, amount := range req.Float {
		c, ok := domain.ParseCurrency(raw)
		if !ok {
			return RecomputeResult{}, store.Invalid("float", "unsupported currency %q", raw)
		}
		if amount.IsNegative() {
			return RecomputeResult{}, store.Invalid("float", "float for %s cannot be negative", c)
		}
		floats[c] = domain.Money(amount)
	}

	date := from.Format(domain.DateLayout)
	unlock, err := s.lockDrawer(ctx, shop.ID, user.Username, date)
	if err != nil {
		return RecomputeResult{}, err
	}
	defer unlock()

	drawer, err := s.ensureDrawerLocked(ctx, shop, user.Username, date)
	if err != nil {
		return RecomputeResult{}, err
	}
	if drawer.Status == domain.DrawerStatusSettled {
		return RecomputeResult{}, store.Invalid("status", "drawer for %s is already settled", date)
	}
	for c, amount := range floats {
		drawer.Float[c] = amount
	}
	drawer.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveDrawer(ctx, *drawer); err != nil {
		return RecomputeResult{}, err
	}

	result, err := s.recomputeLocked(ctx, shop, user.Username, from, to)
	if err != nil {
		return RecomputeResult{}, err
	}

	parts := make([]string, 0, len(domain.Currencies))
	for _, c := range domain.Currencies {
		parts = append(parts, fmt.Sprintf("%s=%s", c, result.Drawer.Float[c].StringFixed(2)))
	}
	s.logAudit(ctx, shop.ID, "cash_float_set", "cash_float", result.Drawer.ID, strings.Join(parts, ","))
	return result, nil
}

// DrawerSnapshot reads the drawer with its headline currency and, once the
// day has been counted, the count variance. A cashier with no drawer yet gets
// an empty INACTIVE view.
func (s *Service) DrawerSnapshot(ctx context.Context, shopID string, cashierID string, date string) (domain.DrawerSnapshot, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, cashierID))
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}
	day, err := s.businessDate(shop, date)
	if err != nil {
		return domain.DrawerSnapshot{}, err
	}

	drawer, err := s.repo.GetDrawer(ctx, shop.ID, user.Username, day)
	if errors.Is(err, store.ErrNotFound) {
		empty := domain.NewCashFloat("", shop.ID, user.Username, day, s.now().UTC())
		empty.Status = domain.DrawerStatusInactive
		drawer = &empty
	} else if err != nil {
		return domain.DrawerSnapshot{}, err
	}

	snapshot := domain.DrawerSnapshot{
		Drawer:          *drawer,
		PrimaryCurrency: primaryCurrency(*drawer),
	}
	count, err := s.repo.GetCashierCount(ctx, shop.ID, user.Username, day)
	switch {
	case err == nil:
		snapshot.CountStatus = count.OverallStatus
		snapshot.Variance = make(map[domain.Currency]decimal.Decimal, len(count.Currencies))
		for c, counted := range count.Currencies {
			snapshot.Variance[c] = counted.Variance
		}
	case !errors.Is(err, store.ErrNotFound):
		return domain.DrawerSnapshot{}, err
	}
	return snapshot, nil
}
