package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// CurrentRates returns the latest rate per currency, served from the rate
// cache when warm. Cache failures fall through to the store.
func (s *Service) CurrentRates(ctx context.Context, shopID string) (domain.RateTable, error) {
	if table, ok, err := s.rates.Get(ctx, shopID); err != nil {
		s.logger.Warn("rate cache read failed", zap.String("shop_id", shopID), zap.Error(err))
	} else if ok && table != nil {
		return *table, nil
	}

	rows, err := s.repo.LatestExchangeRates(ctx, shopID)
	if err != nil {
		return domain.RateTable{}, err
	}
	table := domain.RateTable{
		ShopID: shopID,
		Rates:  map[domain.Currency]decimal.Decimal{domain.CurrencyUSD: decimal.NewFromInt(1)},
	}
	for _, row := range rows {
		if row.Currency == domain.CurrencyUSD {
			continue
		}
		table.Rates[row.Currency] = row.UnitsPerUSD
		if row.EffectiveAt.After(table.AsOf) {
			table.AsOf = row.EffectiveAt
		}
	}

	if err := s.rates.Set(ctx, &table, s.rateTTL); err != nil {
		s.logger.Warn("rate cache write failed", zap.String("shop_id", shopID), zap.Error(err))
	}
	return table, nil
}

func (s *Service) SetExchangeRate(ctx context.Context, shopID string, req domain.ExchangeRateRequest) (domain.ExchangeRate, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ExchangeRate{}, err
	}
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.ExchangeRate{}, err
	}

	currency, ok := domain.ParseCurrency(req.Currency)
	if !ok {
		return domain.ExchangeRate{}, store.Invalid("currency", "unsupported currency %q", req.Currency)
	}
	if currency == domain.CurrencyUSD {
		return domain.ExchangeRate{}, store.Invalid("currency", "USD is the reference currency and is fixed at 1")
	}
	if !req.UnitsPerUSD.IsPositive() {
		return domain.ExchangeRate{}, store.Invalid("units_per_usd", "rate must be positive")
	}

	actor, _ := ActorFromContext(ctx)
	rate := domain.ExchangeRate{
		ID:          xid.New("rate"),
		ShopID:      shop.ID,
		Currency:    currency,
		UnitsPerUSD: req.UnitsPerUSD.Round(6),
		SetBy:       actor.Username,
		EffectiveAt: s.now().UTC(),
	}
	if err := s.repo.AppendExchangeRate(ctx, rate); err != nil {
		return domain.ExchangeRate{}, err
	}
	if err := s.rates.Invalidate(ctx, shop.ID); err != nil {
		s.logger.Warn("rate cache invalidate failed", zap.String("shop_id", shop.ID), zap.Error(err))
	}

	s.logAudit(ctx, shop.ID, "exchange_rate_set", "exchange_rate", rate.ID, fmt.Sprintf("currency=%s,units_per_usd=%s", currency, rate.UnitsPerUSD))
	return rate, nil
}

func (s *Service) ListExchangeRates(ctx context.Context, shopID string) ([]domain.ExchangeRate, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return s.repo.LatestExchangeRates(ctx, shop.ID)
}
