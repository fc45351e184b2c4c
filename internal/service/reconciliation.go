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
)

var (
	reliabilityBalanceWeight  = decimal.RequireFromString("0.8")
	reliabilityVarianceWeight = decimal.RequireFromString("0.2")
	variancePenaltyPerUSD     = decimal.NewFromInt(10)
	fullScore                 = decimal.NewFromInt(100)
)

var nonCashMethods = []domain.PaymentMethod{domain.MethodCard, domain.MethodEcocash, domain.MethodTransfer}

type CashierCountDetail struct {
	Count    domain.CashierCount          `json:"count"`
	Archives []domain.CashierCountArchive `json:"archives"`
}

// SubmitCashierCount records the end-of-day count against the drawer's
// expected figures, settles the drawer and refreshes the month's
// performance summary. Resubmitting the same day replaces the count and
// keeps the earlier one in the archive.
func (s *Service) SubmitCashierCount(ctx context.Context, shopID string, req domain.CashierCountRequest) (domain.CashierCountResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.CashierCountResponse{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, req.CashierID))
	if err != nil {
		return domain.CashierCountResponse{}, err
	}
	date, err := s.businessDate(shop, req.Date)
	if err != nil {
		return domain.CashierCountResponse{}, err
	}

	counted := make(map[domain.Currency]domain.CurrencyCountRequest, len(req.Currencies))
	for raw, entry := range req.Currencies {
		c, ok := domain.ParseCurrency(raw)
		if !ok {
			return domain.CashierCountResponse{}, store.Invalid("currencies", "unsupported currency %q", raw)
		}
		counted[c] = entry
	}

	rates, err := s.CurrentRates(ctx, shop.ID)
	if err != nil {
		return domain.CashierCountResponse{}, err
	}

	unlock, err := s.lockDrawer(ctx, shop.ID, user.Username, date)
	if err != nil {
		return domain.CashierCountResponse{}, err
	}
	drawer, err := s.repo.GetDrawer(ctx, shop.ID, user.Username, date)
	if errors.Is(err, store.ErrNotFound) {
		drawer, err = nil, nil
	}
	if err != nil {
		unlock()
		return domain.CashierCountResponse{}, err
	}

	source := domain.ExpectedFromNone
	if drawer != nil {
		source = domain.ExpectedFromFloat
		if drawer.LastRecomputedAt != nil {
			source = domain.ExpectedFromDrawer
		}
	}

	now := s.now().UTC()
	actor, _ := ActorFromContext(ctx)
	count := domain.CashierCount{
		ShopID:         shop.ID,
		CashierID:      user.Username,
		BusinessDate:   date,
		Currencies:     make(map[domain.Currency]domain.CurrencyCount, len(domain.Currencies)),
		ExpectedSource: source,
		Notes:          strings.TrimSpace(req.Notes),
		CountedBy:      defaultString(actor.Username, user.Username),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	varianceUSD, shortageUSD, overUSD := decimal.Zero, decimal.Zero, decimal.Zero
	anyShort, anyOver := false, false
	for _, c := range domain.Currencies {
		result, err := countCurrency(c, counted[c], drawer, source)
		if err != nil {
			unlock()
			return domain.CashierCountResponse{}, err
		}
		count.Currencies[c] = result

		usd, ok := rates.ToUSD(result.Variance, c)
		if !ok && !result.Variance.IsZero() {
			unlock()
			return domain.CashierCountResponse{}, store.Invalid("currencies", "no exchange rate for %s", c)
		}
		varianceUSD = varianceUSD.Add(usd)

		switch result.Status {
		case domain.CountStatusShortage:
			anyShort = true
			shortageUSD = shortageUSD.Add(usd.Abs())
		case domain.CountStatusOver:
			anyOver = true
			overUSD = overUSD.Add(usd)
		}
	}
	count.VarianceUSD = domain.Money(varianceUSD)
	count.ShortageUSD = domain.Money(shortageUSD)
	count.OverUSD = domain.Money(overUSD)
	switch {
	case anyShort:
		count.OverallStatus = domain.CountStatusShortage
	case anyOver:
		count.OverallStatus = domain.CountStatusOver
	default:
		count.OverallStatus = domain.CountStatusBalanced
	}

	saved, err := s.repo.SaveCashierCount(ctx, count)
	unlock()
	if err != nil {
		return domain.CashierCountResponse{}, err
	}
	s.logAudit(ctx, shop.ID, "cashier_count_submitted", "cashier_count", saved.ID,
		fmt.Sprintf("cashier=%s,date=%s,status=%s,variance_usd=%s", saved.CashierID, saved.BusinessDate, saved.OverallStatus, saved.VarianceUSD.StringFixed(2)))

	// The count is already stored; the next submission of the month rebuilds a failed rollup.
	response := domain.CashierCountResponse{Count: *saved}
	summary, err := s.rollupPerformance(ctx, shop.ID, user.Username, date[:len(domain.MonthLayout)])
	if err != nil {
		s.logger.Warn("performance rollup after count failed",
			zap.String("shop_id", shop.ID),
			zap.String("cashier_id", user.Username),
			zap.String("count_id", saved.ID),
			zap.Error(err),
		)
		response.PerformanceError = err.Error()
		return response, nil
	}
	response.Performance = summary
	return response, nil
}

// countCurrency totals one currency's denominations and compares cash and
// non-cash figures with what the drawer expects.
func countCurrency(c domain.Currency, req domain.CurrencyCountRequest, drawer *domain.CashFloat, source string) (domain.CurrencyCount, error) {
	field := "currencies." + string(c)
	result := domain.CurrencyCount{
		Denominations: make(map[string]int, len(req.Denominations)),
		CashTotal:     decimal.Zero,
		NonCash:       make(map[domain.PaymentMethod]domain.MethodVariance, len(nonCashMethods)),
	}
	for raw, qty := range req.Denominations {
		key, value, ok := domain.DenominationKey(c, raw)
		if !ok {
			return domain.CurrencyCount{}, store.Invalid(field, "%q is not a %s denomination", raw, c)
		}
		if qty < 0 {
			return domain.CurrencyCount{}, store.Invalid(field, "count for %s cannot be negative", key)
		}
		result.Denominations[key] += qty
		result.CashTotal = result.CashTotal.Add(value.Mul(decimal.NewFromInt(int64(qty))))
	}
	result.CashTotal = domain.Money(result.CashTotal)

	switch source {
	case domain.ExpectedFromDrawer:
		result.ExpectedCash = domain.Money(drawer.ExpectedCashAtEOD[c])
	case domain.ExpectedFromFloat:
		result.ExpectedCash = domain.Money(drawer.Float[c])
	default:
		result.ExpectedCash = decimal.Zero
	}
	result.Variance = result.CashTotal.Sub(result.ExpectedCash)
	result.Status = varianceStatus(result.Variance)

	nonCash := map[domain.PaymentMethod]decimal.Decimal{
		domain.MethodCard:     req.Card,
		domain.MethodEcocash:  req.Ecocash,
		domain.MethodTransfer: req.Transfer,
	}
	for _, m := range nonCashMethods {
		countedAmount := domain.Money(nonCash[m])
		if countedAmount.IsNegative() {
			return domain.CurrencyCount{}, store.Invalid(field, "%s total cannot be negative", m)
		}
		expected := decimal.Zero
		if drawer != nil {
			expected = drawer.Current[c].Method(m)
		}
		result.NonCash[m] = domain.MethodVariance{
			Counted:  countedAmount,
			Expected: expected,
			Variance: countedAmount.Sub(expected),
		}
	}
	return result, nil
}

func varianceStatus(variance decimal.Decimal) string {
	switch {
	case variance.Abs().LessThan(domain.Cent):
		return domain.CountStatusBalanced
	case variance.IsNegative():
		return domain.CountStatusShortage
	default:
		return domain.CountStatusOver
	}
}

// rollupPerformance rebuilds the month's summary from the stored counts.
func (s *Service) rollupPerformance(ctx context.Context, shopID string, cashierID string, month string) (domain.CashierPerformanceSummary, error) {
	start, err := time.Parse(domain.MonthLayout, month)
	if err != nil {
		return domain.CashierPerformanceSummary{}, store.Invalid("month", "month must be YYYY-MM")
	}
	counts, err := s.repo.ListCashierCounts(ctx, shopID, cashierID,
		start.Format(domain.DateLayout), start.AddDate(0, 1, 0).Format(domain.DateLayout))
	if err != nil {
		return domain.CashierPerformanceSummary{}, err
	}

	summary := summarizeCounts(counts)
	summary.ShopID = shopID
	summary.CashierID = cashierID
	summary.Month = month
	summary.UpdatedAt = s.now().UTC()
	if err := s.repo.SavePerformanceSummary(ctx, summary); err != nil {
		return domain.CashierPerformanceSummary{}, err
	}
	return summary, nil
}

func summarizeCounts(counts []domain.CashierCount) domain.CashierPerformanceSummary {
	summary := domain.CashierPerformanceSummary{
		TotalShortageUSD: decimal.Zero,
		TotalOverUSD:     decimal.Zero,
		BalanceRate:      decimal.Zero,
		ReliabilityScore: decimal.Zero,
	}
	absVariance := decimal.Zero
	for _, count := range counts {
		summary.TotalCounts++
		switch count.OverallStatus {
		case domain.CountStatusBalanced:
			summary.BalancedCounts++
		case domain.CountStatusShortage:
			summary.ShortageCounts++
		case domain.CountStatusOver:
			summary.OverCounts++
		}
		summary.TotalShortageUSD = summary.TotalShortageUSD.Add(count.ShortageUSD)
		summary.TotalOverUSD = summary.TotalOverUSD.Add(count.OverUSD)
		absVariance = absVariance.Add(count.ShortageUSD).Add(count.OverUSD)
	}
	if summary.TotalCounts == 0 {
		return summary
	}

	summary.BalanceRate = domain.Percent(summary.BalancedCounts, summary.TotalCounts)
	meanVariance := absVariance.Div(decimal.NewFromInt(int64(summary.TotalCounts)))
	penalty := decimal.Min(fullScore, meanVariance.Mul(variancePenaltyPerUSD))
	summary.ReliabilityScore = summary.BalanceRate.Mul(reliabilityBalanceWeight).
		Add(fullScore.Sub(penalty).Mul(reliabilityVarianceWeight)).
		Round(2)
	summary.TotalShortageUSD = domain.Money(summary.TotalShortageUSD)
	summary.TotalOverUSD = domain.Money(summary.TotalOverUSD)
	return summary
}

// PerformanceSummary returns the stored monthly summary, or an empty one for
// a month without counts. month defaults to the current month.
func (s *Service) PerformanceSummary(ctx context.Context, shopID string, cashierID string, month string) (domain.CashierPerformanceSummary, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.CashierPerformanceSummary{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, cashierID))
	if err != nil {
		return domain.CashierPerformanceSummary{}, err
	}
	month = strings.TrimSpace(month)
	if month == "" {
		month = s.now().In(shop.Location()).Format(domain.MonthLayout)
	}
	if _, err := time.Parse(domain.MonthLayout, month); err != nil {
		return domain.CashierPerformanceSummary{}, store.Invalid("month", "month must be YYYY-MM")
	}

	summary, err := s.repo.GetPerformanceSummary(ctx, shop.ID, user.Username, month)
	if errors.Is(err, store.ErrNotFound) {
		empty := summarizeCounts(nil)
		empty.ShopID = shop.ID
		empty.CashierID = user.Username
		empty.Month = month
		return empty, nil
	}
	if err != nil {
		return domain.CashierPerformanceSummary{}, err
	}
	return *summary, nil
}

// CashierCount returns a day's count together with every archived submission.
func (s *Service) CashierCount(ctx context.Context, shopID string, cashierID string, date string) (CashierCountDetail, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return CashierCountDetail{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, cashierID))
	if err != nil {
		return CashierCountDetail{}, err
	}
	day, err := s.businessDate(shop, date)
	if err != nil {
		return CashierCountDetail{}, err
	}
	count, err := s.repo.GetCashierCount(ctx, shop.ID, user.Username, day)
	if err != nil {
		return CashierCountDetail{}, err
	}
	archives, err := s.repo.ListCashierCountArchives(ctx, count.ID)
	if err != nil {
		return CashierCountDetail{}, err
	}
	return CashierCountDetail{Count: *count, Archives: archives}, nil
}
