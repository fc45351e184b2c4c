package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func TestNoopRateCacheAlwaysMisses(t *testing.T) {
	var c RateCache = NoopRateCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.RateTable{ShopID: "main-shop"}, time.Minute))
	table, ok, err := c.Get(ctx, "main-shop")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, table)
}

func TestRedisRateCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TILLBOOK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TILLBOOK_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	c := NewRedisRateCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	shopID := "rate-cache-it-" + time.Now().Format("150405.000000")
	table := &domain.RateTable{
		ShopID: shopID,
		Rates:  map[domain.Currency]decimal.Decimal{domain.CurrencyZIG: decimal.RequireFromString("26.80")},
		AsOf:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, c.Set(ctx, table, time.Minute))

	got, ok, err := c.Get(ctx, shopID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Rates[domain.CurrencyZIG].Equal(decimal.RequireFromString("26.80")))

	require.NoError(t, c.Invalidate(ctx, shopID))
	_, ok, err = c.Get(ctx, shopID)
	require.NoError(t, err)
	require.False(t, ok)
}
