package service

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"tillbook/backend/internal/domain"
)

// SkippedDeduction is a cash staff lunch the drawer could not cover at the
// time it was recorded. It stays on file but is not applied.
type SkippedDeduction struct {
	LunchID   string          `json:"lunch_id"`
	Currency  domain.Currency `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

// aggregateDrawer rebuilds every derived drawer figure from source records.
// sales must be the cashier's sales created in [from, to) plus earlier sales
// refunded in that window; lunches the cashier's lunches in the window.
// Float, identity and status are taken from drawer.
func aggregateDrawer(drawer domain.CashFloat, sales []domain.Sale, lunches []domain.StaffLunch, from time.Time, to time.Time, at time.Time) (domain.CashFloat, []SkippedDeduction) {
	session := make(map[domain.Currency]domain.DrawerBalance, len(domain.Currencies))
	staff := make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))
	for _, c := range domain.Currencies {
		session[c] = domain.DrawerBalance{}
		staff[c] = decimal.Zero
	}

	add := func(c domain.Currency, m domain.PaymentMethod, amount decimal.Decimal) {
		balance, ok := session[c]
		if !ok {
			return
		}
		balance.Add(m, amount)
		session[c] = balance
	}

	saleCount := 0
	for _, sale := range sales {
		if countsTowardDrawer(sale) && inWindow(sale.CreatedAt, from, to) {
			saleCount++
			for _, payment := range sale.Payments {
				add(payment.Currency, payment.Method, payment.Amount)
			}
			if sale.ChangeDue.IsPositive() {
				add(sale.ChangeCurrency, domain.MethodCash, sale.ChangeDue.Neg())
			}
		}
		if sale.Status == domain.SaleStatusRefunded && sale.RefundedAt != nil &&
			inWindow(*sale.RefundedAt, from, to) && sale.RefundAmount.IsPositive() {
			add(sale.RefundCurrency, domain.MethodCash, sale.RefundAmount.Neg())
		}
	}

	ordered := slices.Clone(lunches)
	slices.SortStableFunc(ordered, func(a, b domain.StaffLunch) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var skipped []SkippedDeduction
	for _, lunch := range ordered {
		if lunch.Mode != domain.StaffLunchModeCash || !lunch.Value.IsPositive() {
			continue
		}
		if _, ok := session[lunch.Currency]; !ok {
			continue
		}
		available := drawer.Float[lunch.Currency].Add(grossCashSales(sales, lunch.Currency, from, lunch.CreatedAt))
		if lunch.Value.GreaterThan(available) {
			skipped = append(skipped, SkippedDeduction{
				LunchID:   lunch.ID,
				Currency:  lunch.Currency,
				Amount:    lunch.Value,
				Available: domain.Money(available),
			})
			continue
		}
		add(lunch.Currency, domain.MethodCash, lunch.Value.Neg())
		staff[lunch.Currency] = staff[lunch.Currency].Add(lunch.Value)
	}

	out := drawer
	out.Session = make(map[domain.Currency]domain.DrawerBalance, len(domain.Currencies))
	out.Current = make(map[domain.Currency]domain.DrawerBalance, len(domain.Currencies))
	out.ExpectedCashAtEOD = make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))
	out.StaffConsumption = make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))
	out.Float = make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))
	for _, c := range domain.Currencies {
		opening := domain.Money(drawer.Float[c])
		out.Float[c] = opening

		sessionBalance := session[c].Rounded()
		out.Session[c] = sessionBalance

		current := sessionBalance
		current.Add(domain.MethodCash, opening)
		out.Current[c] = current

		out.ExpectedCashAtEOD[c] = opening.Add(sessionBalance.Cash)
		out.StaffConsumption[c] = domain.Money(staff[c])
	}

	recomputedAt := at.UTC()
	out.SaleCount = saleCount
	out.LastRecomputedAt = &recomputedAt
	out.UpdatedAt = recomputedAt
	if out.Status == "" || out.Status == domain.DrawerStatusInactive {
		out.Status = domain.DrawerStatusActive
	}
	return out, skipped
}

// grossCashSales sums cash legs in c of drawer-counted sales created in
// [from, upTo]. Change and refunds are not netted out.
func grossCashSales(sales []domain.Sale, c domain.Currency, from time.Time, upTo time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range sales {
		if !countsTowardDrawer(sale) || sale.CreatedAt.Before(from) || sale.CreatedAt.After(upTo) {
			continue
		}
		for _, payment := range sale.Payments {
			if payment.Method == domain.MethodCash && payment.Currency == c {
				total = total.Add(payment.Amount)
			}
		}
	}
	return total
}

func countsTowardDrawer(sale domain.Sale) bool {
	return sale.Status == domain.SaleStatusCompleted || sale.Status == domain.SaleStatusRefunded
}

// primaryCurrency is the headline currency of a drawer: the first of ZIG,
// RAND and USD with money in it.
func primaryCurrency(drawer domain.CashFloat) domain.Currency {
	for _, c := range []domain.Currency{domain.CurrencyZIG, domain.CurrencyRAND, domain.CurrencyUSD} {
		if !drawer.Current[c].Total.IsZero() {
			return c
		}
	}
	return domain.CurrencyUSD
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}
