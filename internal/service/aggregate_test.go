package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func leg(method domain.PaymentMethod, currency domain.Currency, amount string) domain.SalePayment {
	return domain.SalePayment{Method: method, Currency: currency, Amount: dec(amount)}
}

func completedSale(id string, at time.Time, payments ...domain.SalePayment) domain.Sale {
	return domain.Sale{ID: id, Status: domain.SaleStatusCompleted, CreatedAt: at, Payments: payments}
}

func TestAggregateDrawerDeductsOnlyAffordableLunches(t *testing.T) {
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	drawer := domain.NewCashFloat("drawer-1", "shop", "cashier", "2026-03-10", from)

	sales := []domain.Sale{
		completedSale("sale-1", from.Add(10*time.Hour), leg(domain.MethodCash, domain.CurrencyUSD, "3.00")),
	}
	lunches := []domain.StaffLunch{
		{ID: "lunch-late", Mode: domain.StaffLunchModeCash, Currency: domain.CurrencyUSD, Value: dec("2.00"), CreatedAt: from.Add(11 * time.Hour)},
		{ID: "lunch-early", Mode: domain.StaffLunchModeCash, Currency: domain.CurrencyUSD, Value: dec("2.00"), CreatedAt: from.Add(9 * time.Hour)},
		{ID: "lunch-product", Mode: domain.StaffLunchModeProduct, Currency: domain.CurrencyUSD, Value: dec("9.00"), CreatedAt: from.Add(12 * time.Hour)},
	}

	out, skipped := aggregateDrawer(drawer, sales, lunches, from, to, to)

	require.Len(t, skipped, 1)
	assert.Equal(t, "lunch-early", skipped[0].LunchID)
	assertAmount(t, "available", "0", skipped[0].Available)
	assertAmount(t, "cash", "1.00", out.Current[domain.CurrencyUSD].Cash)
	assertAmount(t, "staff consumption", "2.00", out.StaffConsumption[domain.CurrencyUSD])
}

func TestAggregateDrawerIsDerivedFromSources(t *testing.T) {
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	drawer := domain.NewCashFloat("drawer-1", "shop", "cashier", "2026-03-10", from)
	drawer.Float[domain.CurrencyUSD] = dec("20")

	refundedAt := from.Add(15 * time.Hour)
	withChange := completedSale("sale-2", from.Add(9*time.Hour), leg(domain.MethodCash, domain.CurrencyUSD, "5"))
	withChange.ChangeDue = dec("26.80")
	withChange.ChangeCurrency = domain.CurrencyZIG
	oldRefund := completedSale("sale-0", from.Add(-20*time.Hour), leg(domain.MethodCash, domain.CurrencyUSD, "4"))
	oldRefund.Status = domain.SaleStatusRefunded
	oldRefund.RefundAmount = dec("4")
	oldRefund.RefundCurrency = domain.CurrencyUSD
	oldRefund.RefundedAt = &refundedAt
	pending := completedSale("sale-3", from.Add(10*time.Hour), leg(domain.MethodCard, domain.CurrencyUSD, "50"))
	pending.Status = domain.SaleStatusPendingPayment

	sales := []domain.Sale{
		oldRefund,
		completedSale("sale-1", from.Add(8*time.Hour),
			leg(domain.MethodCash, domain.CurrencyUSD, "7"),
			leg(domain.MethodCash, domain.CurrencyZIG, "80.40"),
			leg(domain.MethodEcocash, domain.CurrencyRAND, "18.30"),
		),
		withChange,
		pending,
	}

	first, _ := aggregateDrawer(drawer, sales, nil, from, to, to)
	second, _ := aggregateDrawer(first, sales, nil, from, to, to)

	for _, c := range domain.Currencies {
		assert.True(t, first.Current[c].Balanced(), "current %s total must equal its parts", c)
		assert.True(t, first.Current[c].Total.Equal(second.Current[c].Total), "recompute of %s is not idempotent", c)
		assert.True(t, first.ExpectedCashAtEOD[c].Equal(second.ExpectedCashAtEOD[c]))
	}

	assertAmount(t, "usd session cash", "8.00", first.Session[domain.CurrencyUSD].Cash)
	assertAmount(t, "usd current cash", "28.00", first.Current[domain.CurrencyUSD].Cash)
	assertAmount(t, "usd expected", "28.00", first.ExpectedCashAtEOD[domain.CurrencyUSD])
	assertAmount(t, "zig cash", "53.60", first.Current[domain.CurrencyZIG].Cash)
	assertAmount(t, "rand ecocash", "18.30", first.Current[domain.CurrencyRAND].Ecocash)
	assertAmount(t, "rand cash", "0", first.Current[domain.CurrencyRAND].Cash)
	assert.Equal(t, 2, first.SaleCount)
	require.NotNil(t, first.LastRecomputedAt)
	assert.Equal(t, domain.DrawerStatusActive, first.Status)
	assert.Equal(t, decimal.Zero.String(), drawer.Session[domain.CurrencyUSD].Total.String(), "input drawer is not mutated")
}

func TestPrimaryCurrencyPrefersZIGThenRAND(t *testing.T) {
	drawer := domain.NewCashFloat("d", "shop", "cashier", "2026-03-10", time.Now())
	assert.Equal(t, domain.CurrencyUSD, primaryCurrency(drawer))

	rand := domain.DrawerBalance{}
	rand.Add(domain.MethodCash, dec("10"))
	drawer.Current[domain.CurrencyRAND] = rand
	assert.Equal(t, domain.CurrencyRAND, primaryCurrency(drawer))

	zig := domain.DrawerBalance{}
	zig.Add(domain.MethodCard, dec("1"))
	drawer.Current[domain.CurrencyZIG] = zig
	assert.Equal(t, domain.CurrencyZIG, primaryCurrency(drawer))
}
