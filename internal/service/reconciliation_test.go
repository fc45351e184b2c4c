package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

func usdCount(denominations map[string]int) map[string]domain.CurrencyCountRequest {
	return map[string]domain.CurrencyCountRequest{"USD": {Denominations: denominations}}
}

func TestEndOfDayCountBalancesAfterCashSale(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-bread", 1, domain.CurrencyUSD))

	resp, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		CashierID:  "cashier",
		Currencies: usdCount(map[string]int{"1": 1, "0.5": 1, "0.25": 1, "0.05": 1}),
	})
	require.NoError(t, err)

	usd := resp.Count.Currencies[domain.CurrencyUSD]
	assertAmount(t, "counted", "1.80", usd.CashTotal)
	assertAmount(t, "expected", "1.80", usd.ExpectedCash)
	assertAmount(t, "variance", "0", usd.Variance)
	assert.Equal(t, domain.CountStatusBalanced, usd.Status)
	assert.Equal(t, domain.CountStatusBalanced, resp.Count.OverallStatus)
	assert.Equal(t, domain.ExpectedFromDrawer, resp.Count.ExpectedSource)
	assert.Equal(t, 1, usd.Denominations["0.50"], "denomination keys are canonical")

	assert.Equal(t, 1, resp.Performance.TotalCounts)
	assertAmount(t, "balance rate", "100", resp.Performance.BalanceRate)
	assertAmount(t, "reliability", "100", resp.Performance.ReliabilityScore)

	snapshot, err := svc.DrawerSnapshot(ctx, "", "cashier", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DrawerStatusSettled, snapshot.Drawer.Status)
	assert.Equal(t, domain.CountStatusBalanced, snapshot.CountStatus)

	mustSell(t, svc, ctx, cashSale("prod-bread", 1, domain.CurrencyUSD))
	snapshot, err = svc.DrawerSnapshot(ctx, "", "cashier", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DrawerStatusSettled, snapshot.Drawer.Status, "recompute keeps a settled drawer settled")
}

func TestEndOfDayCountReportsNonCashVariance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	req := cashSale("prod-bread", 1, domain.CurrencyUSD)
	req.PaymentMethod = string(domain.MethodCard)
	mustSell(t, svc, ctx, req)

	resp, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: map[string]domain.CurrencyCountRequest{"USD": {Card: dec("1.50")}},
	})
	require.NoError(t, err)

	card := resp.Count.Currencies[domain.CurrencyUSD].NonCash[domain.MethodCard]
	assertAmount(t, "card expected", "1.80", card.Expected)
	assertAmount(t, "card variance", "-0.30", card.Variance)
	assert.Equal(t, domain.CountStatusBalanced, resp.Count.OverallStatus, "non-cash variance does not drive the status")
}

func TestEndOfDayCountExpectedSources(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.EnsureDrawer(adminCtx(), "", "cashier")
	require.NoError(t, err)

	fromFloat, err := svc.SubmitCashierCount(cashierCtx(), "", domain.CashierCountRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExpectedFromFloat, fromFloat.Count.ExpectedSource)
	assert.Equal(t, domain.CountStatusBalanced, fromFloat.Count.OverallStatus)

	noDrawer, err := svc.SubmitCashierCount(adminCtx(), "", domain.CashierCountRequest{
		CashierID:  "cashier2",
		Currencies: usdCount(map[string]int{"5": 1}),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ExpectedFromNone, noDrawer.Count.ExpectedSource)
	assert.Equal(t, domain.CountStatusOver, noDrawer.Count.OverallStatus)
	assertAmount(t, "variance usd", "5.00", noDrawer.Count.VarianceUSD)
	assert.Equal(t, "admin", noDrawer.Count.CountedBy)
}

func TestEndOfDayShortageWinsOverOver(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-sugar", 1, domain.CurrencyZIG))

	resp, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: map[string]domain.CurrencyCountRequest{
			"USD": {Denominations: map[string]int{"1": 1}},
			"ZIG": {Denominations: map[string]int{"50": 1, "20": 1}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CountStatusOver, resp.Count.Currencies[domain.CurrencyUSD].Status)
	assert.Equal(t, domain.CountStatusShortage, resp.Count.Currencies[domain.CurrencyZIG].Status)
	assertAmount(t, "zig variance", "-10.40", resp.Count.Currencies[domain.CurrencyZIG].Variance)
	assert.Equal(t, domain.CountStatusShortage, resp.Count.OverallStatus)
}

func TestEndOfDayCountRejectsBadDenominations(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{Currencies: usdCount(map[string]int{"3": 1})})
	require.ErrorIs(t, err, store.ErrInvalid)

	_, err = svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{Currencies: usdCount(map[string]int{"10": -1})})
	require.ErrorIs(t, err, store.ErrInvalid)

	_, err = svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: map[string]domain.CurrencyCountRequest{"GBP": {}},
	})
	require.ErrorIs(t, err, store.ErrInvalid)
}

func TestResubmittedCountIsArchived(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	first, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{Currencies: usdCount(map[string]int{"1": 2})})
	require.NoError(t, err)
	second, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{Currencies: usdCount(map[string]int{})})
	require.NoError(t, err)
	require.Equal(t, first.Count.ID, second.Count.ID)

	detail, err := svc.CashierCount(ctx, "", "cashier", "")
	require.NoError(t, err)
	require.Len(t, detail.Archives, 2)
	assert.Equal(t, domain.CountStatusBalanced, detail.Count.OverallStatus)
	assert.Equal(t, 1, second.Performance.TotalCounts, "one count per day")
}

func TestPerformanceSummaryRollsUpMonth(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-bread", 1, domain.CurrencyUSD))
	_, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: usdCount(map[string]int{"1": 1, "0.50": 1, "0.25": 1, "0.05": 1}),
	})
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	mustSell(t, svc, ctx, cashSale("prod-sugar", 1, domain.CurrencyUSD))
	_, err = svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{Currencies: usdCount(map[string]int{"2": 1})})
	require.NoError(t, err)

	summary, err := svc.PerformanceSummary(ctx, "", "cashier", "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCounts)
	assert.Equal(t, 1, summary.BalancedCounts)
	assert.Equal(t, 1, summary.ShortageCounts)
	assertAmount(t, "shortage usd", "1.00", summary.TotalShortageUSD)
	assertAmount(t, "balance rate", "50", summary.BalanceRate)
	assertAmount(t, "reliability", "59", summary.ReliabilityScore)

	empty, err := svc.PerformanceSummary(ctx, "", "cashier", "2026-02")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalCounts)

	_, err = svc.PerformanceSummary(ctx, "", "cashier", "March")
	require.ErrorIs(t, err, store.ErrInvalid)
}

func TestOffsettingVariancesAcrossCurrenciesStillCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-oil", 1, domain.CurrencyUSD))

	// $5 short in USD and 134 ZIG ($5 at 26.80) over.
	resp, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: map[string]domain.CurrencyCountRequest{
			"USD": {Denominations: map[string]int{"5": 1}},
			"ZIG": {Denominations: map[string]int{"100": 1, "20": 1, "10": 1, "2": 2}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CountStatusShortage, resp.Count.OverallStatus)
	assertAmount(t, "net variance", "0", resp.Count.VarianceUSD)
	assertAmount(t, "shortage", "5.00", resp.Count.ShortageUSD)
	assertAmount(t, "over", "5.00", resp.Count.OverUSD)

	perf := resp.Performance
	assertAmount(t, "total shortage", "5.00", perf.TotalShortageUSD)
	assertAmount(t, "total over", "5.00", perf.TotalOverUSD)
	assertAmount(t, "balance rate", "0", perf.BalanceRate)
	assertAmount(t, "reliability", "0", perf.ReliabilityScore)
}
