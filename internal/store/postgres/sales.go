package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

const saleColumns = `
	id, shop_id, cashier_id, COALESCE(idempotency_key, ''), total_amount, currency,
	payment_currency, payment_method, status, amount_received, change_due,
	COALESCE(change_currency, ''), COALESCE(customer_name, ''), COALESCE(customer_phone, ''),
	refund_amount, COALESCE(refund_currency, ''), COALESCE(refund_type, ''), COALESCE(refund_reason, ''),
	refunded_at, confirmed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var currency, changeCurrency, refundCurrency string
	var refundedAt, confirmedAt sql.NullTime
	err := row.Scan(
		&sale.ID, &sale.ShopID, &sale.CashierID, &sale.IdempotencyKey, &sale.TotalAmount, &currency,
		&sale.PaymentCurrency, &sale.PaymentMethod, &sale.Status, &sale.AmountReceived, &sale.ChangeDue,
		&changeCurrency, &sale.CustomerName, &sale.CustomerPhone,
		&sale.RefundAmount, &refundCurrency, &sale.RefundType, &sale.RefundReason,
		&refundedAt, &confirmedAt, &sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.Currency = domain.Currency(currency)
	sale.ChangeCurrency = domain.Currency(changeCurrency)
	sale.RefundCurrency = domain.Currency(refundCurrency)
	sale.RefundedAt = timePtr(refundedAt)
	sale.ConfirmedAt = timePtr(confirmedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error) {
	return s.findSale(ctx, s.db, `WHERE shop_id = $1 AND idempotency_key = $2`, shopID, key)
}

func (s *Store) FindSaleByID(ctx context.Context, shopID string, id string) (*domain.Sale, error) {
	return s.findSale(ctx, s.db, `WHERE shop_id = $1 AND id = $2`, shopID, id)
}

func (s *Store) findSale(ctx context.Context, q querier, where string, shopID string, key string) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales `+where, shopID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", key)
		}
		return nil, err
	}
	if err := loadSaleDetails(ctx, q, []*domain.Sale{sale}); err != nil {
		return nil, err
	}
	return sale, nil
}

// loadSaleDetails fills items and payments for every sale in two queries.
func loadSaleDetails(ctx context.Context, q querier, sales []*domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Sale, len(sales))
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		sale.Items = make([]domain.SaleItem, 0, 4)
		sale.Payments = make([]domain.SalePayment, 0, 2)
		byID[sale.ID] = sale
		ids = append(ids, sale.ID)
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price, cost_price, line_total, refunded_quantity
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.CostPrice, &item.LineTotal, &item.RefundedQuantity); err != nil {
			return err
		}
		byID[item.SaleID].Items = append(byID[item.SaleID].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	payRows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, method, currency, amount, exchange_rate_to_usd, amount_usd_equivalent, amount_received, change_given
		FROM sale_payments
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer payRows.Close()
	for payRows.Next() {
		var pay domain.SalePayment
		var method, currency string
		if err := payRows.Scan(&pay.ID, &pay.SaleID, &method, &currency, &pay.Amount, &pay.ExchangeRateToUSD, &pay.AmountUSDEquivalent, &pay.AmountReceived, &pay.ChangeGiven); err != nil {
			return err
		}
		pay.Method = domain.PaymentMethod(method)
		pay.Currency = domain.Currency(currency)
		byID[pay.SaleID].Payments = append(byID[pay.SaleID].Payments, pay)
	}
	return payRows.Err()
}

// CommitSale writes the sale with its items and payments and decrements stock
// in one serializable transaction. Stock may go negative.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 || len(sale.Payments) == 0 {
		return nil, store.Invalid("sale", "sale requires items and payments")
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, shop_id, cashier_id, idempotency_key, total_amount, currency, payment_currency, payment_method,
			status, amount_received, change_due, change_currency, customer_name, customer_phone, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.ShopID, sale.CashierID, nullIfEmpty(sale.IdempotencyKey), sale.TotalAmount, string(sale.Currency),
		sale.PaymentCurrency, sale.PaymentMethod, sale.Status, sale.AmountReceived, sale.ChangeDue,
		nullIfEmpty(string(sale.ChangeCurrency)), nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = sale.ID
		if err := moveStock(ctx, pgTx, sale.ShopID, item.ProductID, -item.Quantity, domain.StockReasonSale, sale.ID, sale.CreatedAt); err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, position, product_id, product_name, quantity, unit_price, cost_price, line_total, refunded_quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, sale.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.CostPrice, item.LineTotal, item.RefundedQuantity)
		if err != nil {
			return nil, err
		}
	}

	for i := range sale.Payments {
		pay := &sale.Payments[i]
		if pay.ID == "" {
			pay.ID = xid.New("pay")
		}
		pay.SaleID = sale.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_payments (id, sale_id, position, method, currency, amount, exchange_rate_to_usd, amount_usd_equivalent, amount_received, change_given)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, pay.ID, sale.ID, i, string(pay.Method), string(pay.Currency), pay.Amount, pay.ExchangeRateToUSD, pay.AmountUSDEquivalent, pay.AmountReceived, pay.ChangeGiven)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ConfirmSale(ctx context.Context, shopID string, saleID string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE shop_id = $1 AND id = $2 FOR UPDATE
	`, shopID, saleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", saleID)
		}
		return nil, err
	}
	if status != domain.SaleStatusPending && status != domain.SaleStatusPendingPayment {
		return nil, store.Invalid("status", "sale in status %s cannot be confirmed", status)
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales SET status = $3, confirmed_at = $4 WHERE shop_id = $1 AND id = $2
	`, shopID, saleID, domain.SaleStatusCompleted, at.UTC()); err != nil {
		return nil, err
	}

	sale, err := s.findSale(ctx, pgTx, `WHERE shop_id = $1 AND id = $2`, shopID, saleID)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

// RefundSale restocks the refunded quantities and marks the sale refunded.
func (s *Store) RefundSale(ctx context.Context, refund domain.SaleRefund) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE shop_id = $1 AND id = $2 FOR UPDATE
	`, refund.ShopID, refund.SaleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", refund.SaleID)
		}
		return nil, err
	}
	if status != domain.SaleStatusCompleted {
		return nil, store.Invalid("status", "sale in status %s cannot be refunded", status)
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, quantity, refunded_quantity
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position
		FOR UPDATE
	`, refund.SaleID)
	if err != nil {
		return nil, err
	}
	type lockedItem struct {
		id        string
		productID string
		remaining int
	}
	items := make([]lockedItem, 0, 4)
	for rows.Next() {
		var item lockedItem
		var qty, refunded int
		if err := rows.Scan(&item.id, &item.productID, &qty, &refunded); err != nil {
			rows.Close()
			return nil, err
		}
		item.remaining = qty - refunded
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		if qty := refund.Items[item.productID]; qty > item.remaining {
			return nil, store.Invalid("refund_items", "refund quantity exceeds sold quantity for %s", item.productID)
		}
	}
	for _, item := range items {
		qty := refund.Items[item.productID]
		if qty < 1 {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE sale_items SET refunded_quantity = refunded_quantity + $2 WHERE id = $1
		`, item.id, qty); err != nil {
			return nil, err
		}
		if err := moveStock(ctx, pgTx, refund.ShopID, item.productID, qty, domain.StockReasonRefund, refund.SaleID, refund.RefundedAt); err != nil {
			return nil, err
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $3, refund_amount = $4, refund_currency = $5, refund_type = $6, refund_reason = $7, refunded_at = $8
		WHERE shop_id = $1 AND id = $2
	`, refund.ShopID, refund.SaleID, domain.SaleStatusRefunded, refund.Amount, string(refund.Currency),
		refund.RefundType, nullIfEmpty(refund.Reason), refund.RefundedAt.UTC()); err != nil {
		return nil, err
	}

	sale, err := s.findSale(ctx, pgTx, `WHERE shop_id = $1 AND id = $2`, refund.ShopID, refund.SaleID)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	from, to := windowBounds(filter.From, filter.To)
	limit := filter.Limit
	if limit < 1 {
		limit = 10000
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM sales
		WHERE shop_id = $1
			AND ($2 = '' OR cashier_id = $2)
			AND (
				(created_at >= $3 AND created_at < $4)
				OR ($5 AND refunded_at >= $3 AND refunded_at < $4)
			)
		ORDER BY created_at ASC, id ASC
		LIMIT $6
	`, saleColumns)
	rows, err := s.db.QueryContext(ctx, query, filter.ShopID, filter.CashierID, from, to, filter.IncludeRefundedInWindow, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]*domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadSaleDetails(ctx, s.db, sales); err != nil {
		return nil, err
	}

	result := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		result = append(result, *sale)
	}
	return result, nil
}
