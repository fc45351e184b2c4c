package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/config"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/httpapi"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
	pgstore "tillbook/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	shop, err := shopFromConfig(cfg)
	if err != nil {
		logger.Fatal("invalid shop configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	shopID := cfg.ShopID
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatal("schema migration failed", zap.Error(err))
			}
		}
		if err := pg.EnsureShop(ctx, shop); err != nil {
			logger.Fatal("ensure shop failed", zap.String("shop_id", shop.ID), zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres", zap.Bool("auto_migrate", cfg.AutoMigrate))
	} else {
		repo = memory.NewSeeded()
		shopID = memory.SeedShopID
		logger.Info("repository: in-memory", zap.String("shop_id", shopID))
	}

	rateCache := cache.RateCache(cache.NoopRateCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRateCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop rate cache", zap.Error(err))
		} else {
			rateCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("rate cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("rate cache: noop")
	}

	svc := service.New(repo, rateCache, logger.Named("service"), shopID,
		service.WithRateTTL(time.Duration(cfg.RateCacheTTLSeconds)*time.Second))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, shopID, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("tillbook backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// newLogger builds a JSON production logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	atomic, err := zap.ParseAtomicLevel(defaultLevel(level))
	if err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	return cfg.Build()
}

func defaultLevel(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// shopFromConfig builds the shop row from env, normalising currency aliases
// such as ZWG and ZAR to the ledger's codes.
func shopFromConfig(cfg config.Config) (domain.Shop, error) {
	base, ok := domain.ParseCurrency(defaultString(cfg.BaseCurrency, string(domain.CurrencyUSD)))
	if !ok {
		return domain.Shop{}, fmt.Errorf("SHOP_BASE_CURRENCY %q is not a supported currency", cfg.BaseCurrency)
	}
	if strings.TrimSpace(cfg.ShopTimezone) == "" {
		return domain.Shop{}, fmt.Errorf("SHOP_TIMEZONE must be set")
	}
	if _, err := time.LoadLocation(cfg.ShopTimezone); err != nil {
		return domain.Shop{}, fmt.Errorf("SHOP_TIMEZONE %q: %w", cfg.ShopTimezone, err)
	}
	return domain.Shop{
		ID:           cfg.ShopID,
		Name:         cfg.ShopName,
		Timezone:     cfg.ShopTimezone,
		BaseCurrency: base,
	}, nil
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
