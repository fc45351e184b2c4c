package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyUSD  Currency = "USD"
	CurrencyZIG  Currency = "ZIG"
	CurrencyRAND Currency = "RAND"
)

// Currencies is the fixed set of currencies a drawer tracks, in display order.
var Currencies = []Currency{CurrencyUSD, CurrencyZIG, CurrencyRAND}

// SeedRates are the opening units-per-USD for a new shop.
var SeedRates = map[Currency]decimal.Decimal{
	CurrencyZIG:  decimal.RequireFromString("26.80"),
	CurrencyRAND: decimal.RequireFromString("18.30"),
}

func ParseCurrency(raw string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case CurrencyUSD, CurrencyZIG, CurrencyRAND:
		return c, true
	case "ZWG":
		return CurrencyZIG, true
	case "ZAR":
		return CurrencyRAND, true
	default:
		return "", false
	}
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodEcocash  PaymentMethod = "ecocash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
)

var PaymentMethods = []PaymentMethod{MethodCash, MethodCard, MethodEcocash, MethodTransfer}

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case MethodCash, MethodEcocash, MethodCard, MethodTransfer:
		return m, true
	default:
		return "", false
	}
}

var (
	Cent         = decimal.New(1, -2)
	HalfCent     = decimal.New(5, -3)
	OneDollar    = decimal.NewFromInt(1)
	hundred      = decimal.NewFromInt(100)
	usdRateOfOne = decimal.NewFromInt(1)
)

// Money rounds a monetary amount to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RateTable holds units of each currency per one USD.
type RateTable struct {
	ShopID string                       `json:"shop_id"`
	Rates  map[Currency]decimal.Decimal `json:"rates"`
	AsOf   time.Time                    `json:"as_of"`
}

func (t RateTable) Rate(c Currency) (decimal.Decimal, bool) {
	if c == CurrencyUSD {
		return usdRateOfOne, true
	}
	rate, ok := t.Rates[c]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

// ToUSD converts an amount in c to USD, kept at 4 places.
func (t RateTable) ToUSD(amount decimal.Decimal, c Currency) (decimal.Decimal, bool) {
	rate, ok := t.Rate(c)
	if !ok {
		return decimal.Zero, false
	}
	return amount.DivRound(rate, 4), true
}

// FromUSD converts a USD amount into c, rounded to cents.
func (t RateTable) FromUSD(usd decimal.Decimal, c Currency) (decimal.Decimal, bool) {
	rate, ok := t.Rate(c)
	if !ok {
		return decimal.Zero, false
	}
	return Money(usd.Mul(rate)), true
}

// Convert moves an amount between currencies through USD.
func (t RateTable) Convert(amount decimal.Decimal, from Currency, to Currency) (decimal.Decimal, bool) {
	if from == to {
		return Money(amount), true
	}
	fromRate, ok := t.Rate(from)
	if !ok {
		return decimal.Zero, false
	}
	toRate, ok := t.Rate(to)
	if !ok {
		return decimal.Zero, false
	}
	return Money(amount.Mul(toRate).Div(fromRate)), true
}

// DrawerBalance is the per-method breakdown for one currency.
// Total always equals Cash + Card + Ecocash + Transfer.
type DrawerBalance struct {
	Cash     decimal.Decimal `json:"cash"`
	Card     decimal.Decimal `json:"card"`
	Ecocash  decimal.Decimal `json:"ecocash"`
	Transfer decimal.Decimal `json:"transfer"`
	Total    decimal.Decimal `json:"total"`
}

func (b DrawerBalance) Method(m PaymentMethod) decimal.Decimal {
	switch m {
	case MethodCash:
		return b.Cash
	case MethodCard:
		return b.Card
	case MethodEcocash:
		return b.Ecocash
	case MethodTransfer:
		return b.Transfer
	default:
		return decimal.Zero
	}
}

func (b *DrawerBalance) Add(m PaymentMethod, amount decimal.Decimal) {
	switch m {
	case MethodCash:
		b.Cash = b.Cash.Add(amount)
	case MethodCard:
		b.Card = b.Card.Add(amount)
	case MethodEcocash:
		b.Ecocash = b.Ecocash.Add(amount)
	case MethodTransfer:
		b.Transfer = b.Transfer.Add(amount)
	default:
		return
	}
	b.Total = b.Cash.Add(b.Card).Add(b.Ecocash).Add(b.Transfer)
}

func (b DrawerBalance) Rounded() DrawerBalance {
	out := DrawerBalance{
		Cash:     Money(b.Cash),
		Card:     Money(b.Card),
		Ecocash:  Money(b.Ecocash),
		Transfer: Money(b.Transfer),
	}
	out.Total = out.Cash.Add(out.Card).Add(out.Ecocash).Add(out.Transfer)
	return out
}

// Balanced reports whether Total matches the sum of its parts.
func (b DrawerBalance) Balanced() bool {
	return b.Total.Equal(b.Cash.Add(b.Card).Add(b.Ecocash).Add(b.Transfer))
}

// Denominations lists the notes and coins accepted at EOD count per currency.
// USD coins are not given as change but still turn up in the drawer.
var Denominations = map[Currency][]decimal.Decimal{
	CurrencyUSD:  decimals("0.01", "0.05", "0.10", "0.25", "0.50", "1", "2", "5", "10", "20", "50", "100"),
	CurrencyZIG:  decimals("0.10", "0.25", "0.50", "1", "2", "5", "10", "20", "50", "100", "200"),
	CurrencyRAND: decimals("0.10", "0.20", "0.50", "1", "2", "5", "10", "20", "50", "100", "200"),
}

// DenominationKey returns the canonical form of a denomination, or false
// when it is not a recognised note or coin for c.
func DenominationKey(c Currency, raw string) (string, decimal.Decimal, bool) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return "", decimal.Zero, false
	}
	for _, d := range Denominations[c] {
		if d.Equal(value) {
			return d.StringFixed(2), d, true
		}
	}
	return "", decimal.Zero, false
}

func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		out = append(out, decimal.RequireFromString(v))
	}
	return out
}

// BusinessDay returns the local-midnight window containing t in loc and its
// YYYY-MM-DD label.
func BusinessDay(t time.Time, loc *time.Location) (time.Time, time.Time, string) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, start.Format(DateLayout)
}

// ParseBusinessDate resolves a YYYY-MM-DD label in loc.
func ParseBusinessDate(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// Percent returns part/whole*100 rounded to 2 places, or zero for an empty whole.
func Percent(part int, whole int) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(hundred).DivRound(decimal.NewFromInt(int64(whole)), 2)
}
