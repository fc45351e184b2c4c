package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// CreateStaffLunch stores the lunch with its optional expense. Product lunches
// also take the quantity out of stock.
func (s *Store) CreateStaffLunch(ctx context.Context, lunch domain.StaffLunch, expense *domain.Expense) (*domain.StaffLunch, error) {
	if lunch.ID == "" {
		lunch.ID = xid.New("lunch")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if lunch.Mode == domain.StaffLunchModeProduct {
		if err := moveStock(ctx, pgTx, lunch.ShopID, lunch.ProductID, -lunch.Quantity, domain.StockReasonStaffConsumption, lunch.ID, lunch.CreatedAt); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO staff_lunches (id, shop_id, mode, product_id, quantity, value, currency, staff_name, reason, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, lunch.ID, lunch.ShopID, lunch.Mode, nullIfEmpty(lunch.ProductID), lunch.Quantity, lunch.Value, string(lunch.Currency),
		lunch.StaffName, nullIfEmpty(lunch.Reason), lunch.RecordedBy, lunch.CreatedAt)
	if err != nil {
		return nil, err
	}

	if expense != nil {
		if expense.ID == "" {
			expense.ID = xid.New("exp")
		}
		expense.ReferenceID = lunch.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO expenses (id, shop_id, category, amount, currency, description, reference_id, recorded_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, expense.ID, expense.ShopID, expense.Category, expense.Amount, string(expense.Currency),
			expense.Description, expense.ReferenceID, expense.RecordedBy, expense.CreatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &lunch, nil
}

func (s *Store) ListStaffLunches(ctx context.Context, shopID string, cashierID string, from time.Time, to time.Time) ([]domain.StaffLunch, error) {
	from, to = windowBounds(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, mode, COALESCE(product_id, ''), quantity, value, currency, staff_name, COALESCE(reason, ''), recorded_by, created_at
		FROM staff_lunches
		WHERE shop_id = $1
			AND ($2 = '' OR recorded_by = $2)
			AND created_at >= $3
			AND created_at < $4
		ORDER BY created_at ASC
	`, shopID, cashierID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lunches := make([]domain.StaffLunch, 0, 8)
	for rows.Next() {
		var lunch domain.StaffLunch
		var currency string
		if err := rows.Scan(&lunch.ID, &lunch.ShopID, &lunch.Mode, &lunch.ProductID, &lunch.Quantity, &lunch.Value, &currency,
			&lunch.StaffName, &lunch.Reason, &lunch.RecordedBy, &lunch.CreatedAt); err != nil {
			return nil, err
		}
		lunch.Currency = domain.Currency(currency)
		lunch.CreatedAt = lunch.CreatedAt.UTC()
		lunches = append(lunches, lunch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lunches, nil
}

func (s *Store) ListExpenses(ctx context.Context, shopID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	from, to = windowBounds(from, to)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, category, amount, currency, description, reference_id, recorded_by, created_at
		FROM expenses
		WHERE shop_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`, shopID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 8)
	for rows.Next() {
		var expense domain.Expense
		var currency string
		if err := rows.Scan(&expense.ID, &expense.ShopID, &expense.Category, &expense.Amount, &currency,
			&expense.Description, &expense.ReferenceID, &expense.RecordedBy, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.Currency = domain.Currency(currency)
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

const countColumns = `
	id, shop_id, cashier_id, business_date, currencies, overall_status, variance_usd,
	shortage_usd, over_usd, expected_source, COALESCE(notes, ''), counted_by, created_at, updated_at`

func scanCount(row rowScanner) (*domain.CashierCount, error) {
	var count domain.CashierCount
	var currencies []byte
	if err := row.Scan(&count.ID, &count.ShopID, &count.CashierID, &count.BusinessDate, &currencies, &count.OverallStatus, &count.VarianceUSD,
		&count.ShortageUSD, &count.OverUSD, &count.ExpectedSource, &count.Notes, &count.CountedBy, &count.CreatedAt, &count.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(currencies, &count.Currencies); err != nil {
		return nil, err
	}
	count.CreatedAt = count.CreatedAt.UTC()
	count.UpdatedAt = count.UpdatedAt.UTC()
	return &count, nil
}

// SaveCashierCount upserts the day's count, archives the submitted version and
// settles the drawer when one exists.
func (s *Store) SaveCashierCount(ctx context.Context, count domain.CashierCount) (*domain.CashierCount, error) {
	currencies, err := json.Marshal(count.Currencies)
	if err != nil {
		return nil, err
	}
	if count.ID == "" {
		count.ID = xid.New("count")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO cashier_counts (
			id, shop_id, cashier_id, business_date, currencies, overall_status, variance_usd,
			shortage_usd, over_usd, expected_source, notes, counted_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (shop_id, cashier_id, business_date) DO UPDATE SET
			currencies = EXCLUDED.currencies,
			overall_status = EXCLUDED.overall_status,
			variance_usd = EXCLUDED.variance_usd,
			shortage_usd = EXCLUDED.shortage_usd,
			over_usd = EXCLUDED.over_usd,
			expected_source = EXCLUDED.expected_source,
			notes = EXCLUDED.notes,
			counted_by = EXCLUDED.counted_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, count.ID, count.ShopID, count.CashierID, count.BusinessDate, currencies, count.OverallStatus, count.VarianceUSD,
		count.ShortageUSD, count.OverUSD, count.ExpectedSource, nullIfEmpty(count.Notes), count.CountedBy, count.CreatedAt, count.UpdatedAt).Scan(&count.ID, &count.CreatedAt)
	if err != nil {
		return nil, err
	}
	count.CreatedAt = count.CreatedAt.UTC()

	snapshot, err := json.Marshal(count)
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO cashier_count_archives (id, count_id, snapshot, archived_at)
		VALUES ($1,$2,$3,$4)
	`, xid.New("countarc"), count.ID, snapshot, count.UpdatedAt); err != nil {
		return nil, err
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE cash_floats
		SET status = $4, updated_at = $5
		WHERE shop_id = $1 AND cashier_id = $2 AND business_date = $3
	`, count.ShopID, count.CashierID, count.BusinessDate, domain.DrawerStatusSettled, count.UpdatedAt); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &count, nil
}

func (s *Store) GetCashierCount(ctx context.Context, shopID string, cashierID string, date string) (*domain.CashierCount, error) {
	count, err := scanCount(s.db.QueryRowContext(ctx, `
		SELECT `+countColumns+`
		FROM cashier_counts
		WHERE shop_id = $1 AND cashier_id = $2 AND business_date = $3
	`, shopID, cashierID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("cashier count", cashierID+"@"+date)
		}
		return nil, err
	}
	return count, nil
}

func (s *Store) ListCashierCounts(ctx context.Context, shopID string, cashierID string, fromDate string, toDate string) ([]domain.CashierCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+countColumns+`
		FROM cashier_counts
		WHERE shop_id = $1 AND cashier_id = $2 AND business_date >= $3 AND business_date < $4
		ORDER BY business_date ASC
	`, shopID, cashierID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.CashierCount, 0, 31)
	for rows.Next() {
		count, err := scanCount(rows)
		if err != nil {
			return nil, err
		}
		counts = append(counts, *count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) ListCashierCountArchives(ctx context.Context, countID string) ([]domain.CashierCountArchive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, count_id, snapshot, archived_at
		FROM cashier_count_archives
		WHERE count_id = $1
		ORDER BY archived_at ASC, id ASC
	`, countID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	archives := make([]domain.CashierCountArchive, 0, 2)
	for rows.Next() {
		var archive domain.CashierCountArchive
		var snapshot []byte
		if err := rows.Scan(&archive.ID, &archive.CountID, &snapshot, &archive.ArchivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &archive.Snapshot); err != nil {
			return nil, err
		}
		archive.ArchivedAt = archive.ArchivedAt.UTC()
		archives = append(archives, archive)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return archives, nil
}

func (s *Store) SavePerformanceSummary(ctx context.Context, summary domain.CashierPerformanceSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashier_performance_summaries (
			shop_id, cashier_id, month, total_counts, balanced_counts, shortage_counts, over_counts,
			total_shortage_usd, total_over_usd, balance_rate, reliability_score, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (shop_id, cashier_id, month) DO UPDATE SET
			total_counts = EXCLUDED.total_counts,
			balanced_counts = EXCLUDED.balanced_counts,
			shortage_counts = EXCLUDED.shortage_counts,
			over_counts = EXCLUDED.over_counts,
			total_shortage_usd = EXCLUDED.total_shortage_usd,
			total_over_usd = EXCLUDED.total_over_usd,
			balance_rate = EXCLUDED.balance_rate,
			reliability_score = EXCLUDED.reliability_score,
			updated_at = EXCLUDED.updated_at
	`, summary.ShopID, summary.CashierID, summary.Month, summary.TotalCounts, summary.BalancedCounts, summary.ShortageCounts, summary.OverCounts,
		summary.TotalShortageUSD, summary.TotalOverUSD, summary.BalanceRate, summary.ReliabilityScore, summary.UpdatedAt)
	return err
}

func (s *Store) GetPerformanceSummary(ctx context.Context, shopID string, cashierID string, month string) (*domain.CashierPerformanceSummary, error) {
	var summary domain.CashierPerformanceSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT shop_id, cashier_id, month, total_counts, balanced_counts, shortage_counts, over_counts,
			total_shortage_usd, total_over_usd, balance_rate, reliability_score, updated_at
		FROM cashier_performance_summaries
		WHERE shop_id = $1 AND cashier_id = $2 AND month = $3
	`, shopID, cashierID, month).Scan(&summary.ShopID, &summary.CashierID, &summary.Month, &summary.TotalCounts, &summary.BalancedCounts,
		&summary.ShortageCounts, &summary.OverCounts, &summary.TotalShortageUSD, &summary.TotalOverUSD, &summary.BalanceRate,
		&summary.ReliabilityScore, &summary.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("performance summary", cashierID+"@"+month)
		}
		return nil, err
	}
	summary.UpdatedAt = summary.UpdatedAt.UTC()
	return &summary, nil
}
