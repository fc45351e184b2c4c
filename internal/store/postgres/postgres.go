package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// EnsureShop registers the shop if it does not exist yet and leaves an
// existing row untouched. Currencies without any rate history get the seed rate.
func (s *Store) EnsureShop(ctx context.Context, shop domain.Shop) error {
	if strings.TrimSpace(shop.ID) == "" {
		return store.Invalid("shop_id", "shop id is required")
	}
	base, ok := domain.ParseCurrency(string(shop.Base()))
	if !ok {
		return store.Invalid("base_currency", "unsupported currency %q", shop.BaseCurrency)
	}
	if _, err := time.LoadLocation(shop.Timezone); err != nil {
		return store.Invalid("timezone", "unknown timezone %q", shop.Timezone)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, timezone, base_currency)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO NOTHING
	`, shop.ID, shop.Name, shop.Timezone, string(base))
	if err != nil {
		return err
	}
	return s.seedExchangeRates(ctx, shop.ID, domain.SeedRates)
}

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	var shop domain.Shop
	var base string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, timezone, base_currency
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&shop.ID, &shop.Name, &shop.Timezone, &base)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("shop", shopID)
		}
		return nil, err
	}
	shop.BaseCurrency = domain.Currency(base)
	return &shop, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, display_name, shop_id, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.DisplayName, &user.ShopID, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user", username)
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, display_name, shop_id, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.DisplayName, user.ShopID, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, display_name, shop_id, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.DisplayName, &user.ShopID, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("user", username)
	}
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, shopID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, price, cost_price, stock, active
		FROM products
		WHERE shop_id = $1 AND id = ANY($2)
	`, shopID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.Price, &p.CostPrice, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertProduct writes a catalogue row. It backs fixture loading.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, name, price, cost_price, stock, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			cost_price = EXCLUDED.cost_price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			updated_at = now()
	`, p.ID, p.ShopID, p.Name, p.Price, p.CostPrice, p.Stock, p.Active)
	return err
}

func (s *Store) ListStockMovements(ctx context.Context, shopID string, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, product_id, previous_qty, new_qty, delta, cost_price, reason, reference_id, created_at
		FROM stock_movements
		WHERE shop_id = $1 AND ($2 = '' OR product_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, shopID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ShopID, &m.ProductID, &m.PreviousQty, &m.NewQty, &m.Delta, &m.CostPrice, &m.Reason, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// moveStock applies delta to a product inside tx and records the movement.
// Stock is allowed to go negative.
func moveStock(ctx context.Context, tx querier, shopID string, productID string, delta int, reason string, reference string, at time.Time) error {
	var newQty int
	var cost decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $1, updated_at = now()
		WHERE shop_id = $2 AND id = $3
		RETURNING stock, cost_price
	`, delta, shopID, productID).Scan(&newQty, &cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFound("product", productID)
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, shop_id, product_id, previous_qty, new_qty, delta, cost_price, reason, reference_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, xid.New("stk"), shopID, productID, newQty-delta, newQty, delta, cost, reason, reference, at)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, shopID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}

// windowBounds maps open window ends onto timestamps postgres accepts.
func windowBounds(from time.Time, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return from, to
}
