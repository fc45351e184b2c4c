package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ShopID                string
	ShopName              string
	ShopTimezone          string
	BaseCurrency          string
	RateCacheTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_SHOP_ID", "main-shop")
	v.SetDefault("SHOP_NAME", "Main Shop")
	v.SetDefault("SHOP_TIMEZONE", "Africa/Harare")
	v.SetDefault("SHOP_BASE_CURRENCY", "USD")
	v.SetDefault("RATE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")

	rateTTL := v.GetInt("RATE_CACHE_TTL_SECONDS")
	if rateTTL < 1 {
		rateTTL = 300
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		AutoMigrate:           v.GetBool("AUTO_MIGRATE"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		ShopID:                v.GetString("DEFAULT_SHOP_ID"),
		ShopName:              v.GetString("SHOP_NAME"),
		ShopTimezone:          v.GetString("SHOP_TIMEZONE"),
		BaseCurrency:          strings.ToUpper(v.GetString("SHOP_BASE_CURRENCY")),
		RateCacheTTLSeconds:   rateTTL,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
