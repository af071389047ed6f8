package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/territorial-engagement/backend/internal/apperr"
)

func validConfig() Config {
	return Config{
		Environment: EnvProduction,
		Database:    DatabaseConfig{Driver: "postgres", User: "engine", Password: "secret", Host: "db", Port: 5432, Name: "activities"},
		Pool:        PoolConfig{Size: 5, Overflow: 10, StatementTimeoutSec: 30, PrePing: true, RecycleSec: 3600},
		Forecast:    ForecastConfig{MinMonths: 1, MaxMonths: 24},
		Workers:     WorkersConfig{Size: 4},
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ACTIVITY_ENGINE_DATABASE_URL", "postgres://u:p@localhost:5432/activities?sslmode=disable")
	t.Setenv("ACTIVITY_ENGINE_ENVIRONMENT", "development")
	t.Setenv("ACTIVITY_ENGINE_POOL_SIZE", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Pool.Size != 3 {
		t.Errorf("pool size = %d, want 3", cfg.Pool.Size)
	}
	if cfg.Pool.StatementTimeoutSec != 30 {
		t.Errorf("statement timeout = %d, want default 30", cfg.Pool.StatementTimeoutSec)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("expected development environment")
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("development should default to console logs, got %q", cfg.Logging.Format)
	}
	if !strings.HasSuffix(cfg.Models.ForecastDir, "forecast") {
		t.Errorf("forecast dir = %q", cfg.Models.ForecastDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mutate func(*Config)
		key string
	}{
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"missing database", func(c *Config) { c.Database.User = "" }, "database.url"},
		{"zero pool", func(c *Config) { c.Pool.Size = 0 }, "pool.size"},
		{"negative overflow", func(c *Config) { c.Pool.Overflow = -1 }, "pool.overflow"},
		{"zero timeout", func(c *Config) { c.Pool.StatementTimeoutSec = 0 }, "pool.statementTimeoutSec"},
		{"inverted horizon", func(c *Config) { c.Forecast.MaxMonths = 0 }, "forecast"},
		{"no workers", func(c *Config) { c.Workers.Size = 0 }, "workers.size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var cfgErr *apperr.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("key = %q, want %q", cfgErr.Key, tt.key)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestDSNFromParts(t *testing.T) {
	db := DatabaseConfig{Driver: "postgres", User: "engine", Password: "p@ss", Host: "db", Port: 5433, Name: "activities", RequireTLS: true}

	dsn := db.DSN()
	if !strings.HasPrefix(dsn, "postgres://engine:p%40ss@db:5433/activities") {
		t.Errorf("unexpected dsn %q", dsn)
	}
	if !strings.Contains(dsn, "sslmode=require") {
		t.Errorf("expected sslmode=require in %q", dsn)
	}

	db.URL = "postgres://other"
	if db.DSN() != "postgres://other" {
		t.Errorf("explicit URL should win")
	}
}
