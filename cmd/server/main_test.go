package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/config"
	"tillbook/backend/internal/domain"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	assert.Error(t, err)
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"})
	require.NoError(t, err)
}

func TestShopFromConfigNormalisesCurrencyAlias(t *testing.T) {
	shop, err := shopFromConfig(config.Config{ShopID: "harare-branch", ShopTimezone: "Africa/Harare", BaseCurrency: "ZWG"})
	require.NoError(t, err)
	assert.Equal(t, domain.CurrencyZIG, shop.BaseCurrency)
	assert.Equal(t, "Africa/Harare", shop.Location().String())

	_, ok := domain.SeedRates[shop.BaseCurrency]
	assert.True(t, ok, "base currency must be a key the rate table knows")

	shop, err = shopFromConfig(config.Config{ShopTimezone: "Africa/Harare"})
	require.NoError(t, err)
	assert.Equal(t, domain.CurrencyUSD, shop.BaseCurrency)
}

func TestShopFromConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"unknown currency", config.Config{ShopTimezone: "Africa/Harare", BaseCurrency: "EUR"}, "SHOP_BASE_CURRENCY"},
		{"misspelt timezone", config.Config{ShopTimezone: "Africa/Harer", BaseCurrency: "USD"}, "SHOP_TIMEZONE"},
		{"empty timezone", config.Config{BaseCurrency: "USD"}, "SHOP_TIMEZONE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := shopFromConfig(tc.cfg)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"111111", "234567", "987654", "123123"}
	for _, pin := range weak {
		assert.Errorf(t, validatePINStrength(pin), "expected %s to be rejected", pin)
	}
	assert.NoError(t, validatePINStrength("739154"))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("loud")
	assert.Error(t, err)

	logger, err := newLogger("")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(0))
}
