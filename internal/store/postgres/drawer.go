package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

func (s *Store) GetDrawer(ctx context.Context, shopID string, cashierID string, date string) (*domain.CashFloat, error) {
	return getDrawer(ctx, s.db, shopID, cashierID, date)
}

func getDrawer(ctx context.Context, q querier, shopID string, cashierID string, date string) (*domain.CashFloat, error) {
	var id, status string
	var saleCount int
	var lastRecomputed sql.NullTime
	var createdAt, updatedAt time.Time
	err := q.QueryRowContext(ctx, `
		SELECT id, status, sale_count, last_recomputed_at, created_at, updated_at
		FROM cash_floats
		WHERE shop_id = $1 AND cashier_id = $2 AND business_date = $3
	`, shopID, cashierID, date).Scan(&id, &status, &saleCount, &lastRecomputed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("drawer", cashierID+"@"+date)
		}
		return nil, err
	}

	drawer := domain.NewCashFloat(id, shopID, cashierID, date, createdAt.UTC())
	drawer.Status = status
	drawer.SaleCount = saleCount
	drawer.LastRecomputedAt = timePtr(lastRecomputed)
	drawer.UpdatedAt = updatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT currency, float_amount,
			current_cash, current_card, current_ecocash, current_transfer, current_total,
			session_cash, session_card, session_ecocash, session_transfer, session_total,
			expected_cash_at_eod, staff_consumption
		FROM cash_float_balances
		WHERE cash_float_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var currency string
		var floatAmount, expected, staff decimal.Decimal
		var current, session domain.DrawerBalance
		if err := rows.Scan(&currency, &floatAmount,
			&current.Cash, &current.Card, &current.Ecocash, &current.Transfer, &current.Total,
			&session.Cash, &session.Card, &session.Ecocash, &session.Transfer, &session.Total,
			&expected, &staff); err != nil {
			return nil, err
		}
		c := domain.Currency(currency)
		drawer.Float[c] = floatAmount
		drawer.Current[c] = current
		drawer.Session[c] = session
		drawer.ExpectedCashAtEOD[c] = expected
		drawer.StaffConsumption[c] = staff
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &drawer, nil
}

func (s *Store) CreateDrawer(ctx context.Context, drawer domain.CashFloat) (*domain.CashFloat, error) {
	if drawer.ID == "" {
		drawer.ID = xid.New("drawer")
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cash_floats (id, shop_id, cashier_id, business_date, status, sale_count, last_recomputed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, drawer.ID, drawer.ShopID, drawer.CashierID, drawer.BusinessDate, drawer.Status, drawer.SaleCount,
		nullTime(drawer.LastRecomputedAt), drawer.CreatedAt, drawer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := writeBalances(ctx, pgTx, drawer); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &drawer, nil
}

// LockDrawer takes a session advisory lock on a dedicated connection so the
// whole recompute, from reading sales to saving the snapshot, runs alone
// across processes. The key differs from the one SaveDrawer locks inside its
// transaction.
func (s *Store) LockDrawer(ctx context.Context, shopID string, cashierID string, date string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	key := "recompute|" + shopID + "|" + cashierID + "|" + date
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// Drop the connection so the session, and the lock with it, ends.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}

// SaveDrawer rewrites the drawer and its balances under an advisory lock on
// the drawer key. A snapshot older than the stored one is dropped.
func (s *Store) SaveDrawer(ctx context.Context, drawer domain.CashFloat) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	lockKey := drawer.ShopID + "|" + drawer.CashierID + "|" + drawer.BusinessDate
	if _, err := pgTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return err
	}

	var existingID string
	var existingRecomputed sql.NullTime
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, last_recomputed_at
		FROM cash_floats
		WHERE shop_id = $1 AND cashier_id = $2 AND business_date = $3
		FOR UPDATE
	`, drawer.ShopID, drawer.CashierID, drawer.BusinessDate).Scan(&existingID, &existingRecomputed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if drawer.ID == "" {
			drawer.ID = xid.New("drawer")
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO cash_floats (id, shop_id, cashier_id, business_date, status, sale_count, last_recomputed_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, drawer.ID, drawer.ShopID, drawer.CashierID, drawer.BusinessDate, drawer.Status, drawer.SaleCount,
			nullTime(drawer.LastRecomputedAt), drawer.CreatedAt, drawer.UpdatedAt)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if existingRecomputed.Valid && drawer.LastRecomputedAt != nil && drawer.LastRecomputedAt.Before(existingRecomputed.Time) {
			return nil
		}
		drawer.ID = existingID
		_, err = pgTx.ExecContext(ctx, `
			UPDATE cash_floats
			SET status = $2, sale_count = $3, last_recomputed_at = $4, updated_at = $5
			WHERE id = $1
		`, drawer.ID, drawer.Status, drawer.SaleCount, nullTime(drawer.LastRecomputedAt), drawer.UpdatedAt)
		if err != nil {
			return err
		}
	}

	if err := writeBalances(ctx, pgTx, drawer); err != nil {
		return err
	}
	return pgTx.Commit()
}

func writeBalances(ctx context.Context, tx querier, drawer domain.CashFloat) error {
	for _, c := range domain.Currencies {
		current := drawer.Current[c]
		session := drawer.Session[c]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cash_float_balances (
				cash_float_id, currency, float_amount,
				current_cash, current_card, current_ecocash, current_transfer, current_total,
				session_cash, session_card, session_ecocash, session_transfer, session_total,
				expected_cash_at_eod, staff_consumption
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (cash_float_id, currency) DO UPDATE SET
				float_amount = EXCLUDED.float_amount,
				current_cash = EXCLUDED.current_cash,
				current_card = EXCLUDED.current_card,
				current_ecocash = EXCLUDED.current_ecocash,
				current_transfer = EXCLUDED.current_transfer,
				current_total = EXCLUDED.current_total,
				session_cash = EXCLUDED.session_cash,
				session_card = EXCLUDED.session_card,
				session_ecocash = EXCLUDED.session_ecocash,
				session_transfer = EXCLUDED.session_transfer,
				session_total = EXCLUDED.session_total,
				expected_cash_at_eod = EXCLUDED.expected_cash_at_eod,
				staff_consumption = EXCLUDED.staff_consumption
		`, drawer.ID, string(c), drawer.Float[c],
			current.Cash, current.Card, current.Ecocash, current.Transfer, current.Total,
			session.Cash, session.Card, session.Ecocash, session.Transfer, session.Total,
			drawer.ExpectedCashAtEOD[c], drawer.StaffConsumption[c])
		if err != nil {
			return err
		}
	}
	return nil
}
