// Package config loads service configuration: struct defaults overlaid
// with CA_-prefixed environment variables.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTPAddr    string `koanf:"http_addr" validate:"required"`
	MetricsAddr string `koanf:"metrics_addr" validate:"required"`

	// Store selects the backing store: "postgres" or "memory" (dev/test).
	Store       string `koanf:"store" validate:"oneof=postgres memory"`
	DatabaseDSN string `koanf:"database_dsn" validate:"required_if=Store postgres"`
	RedisAddr   string `koanf:"redis_addr"`

	ProviderBaseURL string `koanf:"provider_base_url" validate:"required,url"`

	// WebhookSecret signs inbound platform events (HMAC-SHA256).
	WebhookSecret string `koanf:"webhook_secret" validate:"required"`
	// AdminSecret guards the ingestion/backfill/integrity triggers.
	AdminSecret string `koanf:"admin_secret" validate:"required"`
	// SessionSecret signs HS256 session tokens.
	SessionSecret string `koanf:"session_secret" validate:"required"`
	// TokenKey is the AES key (16/24/32 bytes) for provider tokens at
	// rest. Required with the postgres store.
	TokenKey string `koanf:"token_key" validate:"required_if=Store postgres"`
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		MetricsAddr:     ":8081",
		Store:           "postgres",
		ProviderBaseURL: "https://api.whop.com",
	}
}

// Load builds the config from defaults and CA_* environment variables
// (CA_DATABASE_DSN -> database_dsn) and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, err
	}

	err := k.Load(env.Provider("CA_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CA_"))
	}), nil)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
