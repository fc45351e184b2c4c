package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

func (s *Store) GetWallet(ctx context.Context, shopID string) (domain.CurrencyWallet, error) {
	wallet := domain.CurrencyWallet{ShopID: shopID, Balances: make(map[domain.Currency]decimal.Decimal, len(domain.Currencies))}
	for _, c := range domain.Currencies {
		wallet.Balances[c] = decimal.Zero
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT currency, balance, updated_at
		FROM currency_wallets
		WHERE shop_id = $1
	`, shopID)
	if err != nil {
		return wallet, err
	}
	defer rows.Close()

	for rows.Next() {
		var currency string
		var balance decimal.Decimal
		var updatedAt time.Time
		if err := rows.Scan(&currency, &balance, &updatedAt); err != nil {
			return wallet, err
		}
		wallet.Balances[domain.Currency(currency)] = balance
		if updatedAt.After(wallet.UpdatedAt) {
			wallet.UpdatedAt = updatedAt.UTC()
		}
	}
	return wallet, rows.Err()
}

// ApplyWalletTransaction moves the wallet balance and appends the entry in one
// transaction. A reference that was already booked returns ErrConflict.
func (s *Store) ApplyWalletTransaction(ctx context.Context, entry domain.CurrencyTransaction) (*domain.CurrencyTransaction, error) {
	if entry.Reference == "" {
		return nil, store.Invalid("reference", "ledger reference is required")
	}
	if entry.ID == "" {
		entry.ID = xid.New("ctx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM currency_transactions WHERE shop_id = $1 AND reference = $2)
	`, entry.ShopID, entry.Reference).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, store.ErrConflict
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO currency_wallets (shop_id, currency, balance, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (shop_id, currency)
		DO UPDATE SET balance = currency_wallets.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance
	`, entry.ShopID, string(entry.Currency), entry.Amount, entry.CreatedAt).Scan(&entry.BalanceAfter)
	if err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO currency_transactions (id, shop_id, currency, type, amount, balance_after, reference, sale_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, string(entry.Currency), entry.Type, entry.Amount, entry.BalanceAfter, entry.Reference, nullIfEmpty(entry.SaleID), entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListCurrencyTransactions(ctx context.Context, shopID string, limit int) ([]domain.CurrencyTransaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, currency, type, amount, balance_after, reference, COALESCE(sale_id, ''), created_at
		FROM currency_transactions
		WHERE shop_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CurrencyTransaction, 0, limit)
	for rows.Next() {
		var entry domain.CurrencyTransaction
		var currency string
		if err := rows.Scan(&entry.ID, &entry.ShopID, &currency, &entry.Type, &entry.Amount, &entry.BalanceAfter, &entry.Reference, &entry.SaleID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Currency = domain.Currency(currency)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) AppendExchangeRate(ctx context.Context, rate domain.ExchangeRate) error {
	if !rate.UnitsPerUSD.IsPositive() {
		return store.Invalid("units_per_usd", "rate must be positive")
	}
	if rate.ID == "" {
		rate.ID = xid.New("rate")
	}
	if rate.EffectiveAt.IsZero() {
		rate.EffectiveAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (id, shop_id, currency, units_per_usd, set_by, effective_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rate.ID, rate.ShopID, string(rate.Currency), rate.UnitsPerUSD, rate.SetBy, rate.EffectiveAt)
	return err
}

func (s *Store) LatestExchangeRates(ctx context.Context, shopID string) ([]domain.ExchangeRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (currency) id, shop_id, currency, units_per_usd, set_by, effective_at
		FROM exchange_rates
		WHERE shop_id = $1
		ORDER BY currency, effective_at DESC, id DESC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[domain.Currency]domain.ExchangeRate, len(domain.Currencies))
	for rows.Next() {
		var rate domain.ExchangeRate
		var currency string
		if err := rows.Scan(&rate.ID, &rate.ShopID, &currency, &rate.UnitsPerUSD, &rate.SetBy, &rate.EffectiveAt); err != nil {
			return nil, err
		}
		rate.Currency = domain.Currency(currency)
		rate.EffectiveAt = rate.EffectiveAt.UTC()
		latest[rate.Currency] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.ExchangeRate, 0, len(latest))
	for _, c := range domain.Currencies {
		if rate, ok := latest[c]; ok {
			result = append(result, rate)
		}
	}
	return result, nil
}

// seedExchangeRates inserts the default rates for currencies without any history.
func (s *Store) seedExchangeRates(ctx context.Context, shopID string, defaults map[domain.Currency]decimal.Decimal) error {
	for _, c := range domain.Currencies {
		rate, ok := defaults[c]
		if !ok {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO exchange_rates (id, shop_id, currency, units_per_usd, set_by, effective_at)
			SELECT $1, $2, $3, $4, 'seed', $5
			WHERE NOT EXISTS (SELECT 1 FROM exchange_rates WHERE shop_id = $2 AND currency = $3)
		`, xid.New("rate"), shopID, string(c), rate, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			return err
		}
	}
	return nil
}
