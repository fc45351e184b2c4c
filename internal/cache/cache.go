package cache

import (
	"context"
	"time"

	"tillbook/backend/internal/domain"
)

// RateCache holds the current exchange-rate table per shop.
type RateCache interface {
	Get(ctx context.Context, shopID string) (*domain.RateTable, bool, error)
	Set(ctx context.Context, table *domain.RateTable, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string) error
}

type NoopRateCache struct{}

func (NoopRateCache) Get(_ context.Context, _ string) (*domain.RateTable, bool, error) {
	return nil, false, nil
}

func (NoopRateCache) Set(_ context.Context, _ *domain.RateTable, _ time.Duration) error {
	return nil
}

func (NoopRateCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func rateKey(shopID string) string {
	return "tillbook:rates:" + shopID
}
