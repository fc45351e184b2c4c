package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var ErrForbidden = errors.New("admin role required")

type Service struct {
	repo          store.Repository
	rates         cache.RateCache
	rateTTL       time.Duration
	logger        *zap.Logger
	now           func() time.Time
	defaultShopID string
	drawerLocks   *keyedMutex
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests that pin business days.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRateTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.rateTTL = ttl
		}
	}
}

func New(repo store.Repository, rates cache.RateCache, logger *zap.Logger, defaultShopID string, opts ...Option) *Service {
	if defaultShopID == "" {
		defaultShopID = "main-shop"
	}
	if rates == nil {
		rates = cache.NoopRateCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &Service{
		repo:          repo,
		rates:         rates,
		rateTTL:       5 * time.Minute,
		logger:        logger,
		now:           time.Now,
		defaultShopID: defaultShopID,
		drawerLocks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) DefaultShopID() string {
	return s.defaultShopID
}

func (s *Service) shop(ctx context.Context, shopID string) (*domain.Shop, error) {
	if strings.TrimSpace(shopID) == "" {
		shopID = s.defaultShopID
	}
	return s.repo.GetShop(ctx, shopID)
}

// cashier loads an active cashier account that belongs to the shop.
func (s *Service) cashier(ctx context.Context, shopID string, cashierID string) (*domain.UserAccount, error) {
	cashierID = strings.ToLower(strings.TrimSpace(cashierID))
	if cashierID == "" {
		return nil, store.Invalid("cashier_id", "cashier_id is required")
	}
	user, err := s.repo.GetUser(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	if user.ShopID != shopID || !user.Active {
		return nil, store.NotFound("cashier", cashierID)
	}
	return user, nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// scopedCashier pins cashier actors to their own drawer.
func scopedCashier(ctx context.Context, requested string) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleCashier {
		return actor.Username
	}
	return strings.ToLower(strings.TrimSpace(requested))
}

func (s *Service) logAudit(ctx context.Context, shopID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID string, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	from, to, err := s.dayWindow(shop, date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, shop.ID, from, to, limit)
}

// dayWindow resolves date (or today when empty) to the shop's local day.
func (s *Service) dayWindow(shop *domain.Shop, date string) (time.Time, time.Time, error) {
	loc := shop.Location()
	if strings.TrimSpace(date) == "" {
		from, to, _ := domain.BusinessDay(s.now(), loc)
		return from, to, nil
	}
	from, to, err := domain.ParseBusinessDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, store.Invalid("date", "date must be YYYY-MM-DD")
	}
	return from, to, nil
}

func (s *Service) businessDate(shop *domain.Shop, date string) (string, error) {
	from, _, err := s.dayWindow(shop, date)
	if err != nil {
		return "", err
	}
	return from.Format(domain.DateLayout), nil
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func drawerLockKey(shopID string, cashierID string, date string) string {
	return fmt.Sprintf("%s|%s|%s", shopID, cashierID, date)
}

// lockDrawer serialises work on one drawer inside this process and, through
// the repository, across processes sharing the store.
func (s *Service) lockDrawer(ctx context.Context, shopID string, cashierID string, date string) (func(), error) {
	unlock := s.drawerLocks.Lock(drawerLockKey(shopID, cashierID, date))
	release, err := s.repo.LockDrawer(ctx, shopID, cashierID, date)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("lock drawer: %w", err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
