package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_SHOP_ID", "harare-branch")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTO_MIGRATE", "true")

	cfg := Load()
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.ShopID != "harare-branch" {
		t.Fatalf("expected shop override, got %s", cfg.ShopID)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected AUTO_MIGRATE to be honoured")
	}
}

func TestLoadFallsBackOnInvalidTTL(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("RATE_CACHE_TTL_SECONDS", "0")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RateCacheTTLSeconds != 300 {
		t.Fatalf("expected rate ttl fallback 300, got %d", cfg.RateCacheTTLSeconds)
	}
}
