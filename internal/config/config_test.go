package config

import (
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "readings", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "aud"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "readings", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Billing.TickInterval != time.Minute {
		t.Fatalf("expected 1m default tick, got %s", c.Billing.TickInterval)
	}
	if c.Billing.GracePeriod != 30*time.Second {
		t.Fatalf("expected 30s default grace, got %s", c.Billing.GracePeriod)
	}
	if c.Billing.Currency != "USD" {
		t.Fatalf("expected USD default currency, got %q", c.Billing.Currency)
	}
	if len(c.WebRTC.ICEURLs) == 0 {
		t.Fatalf("expected default ICE URL")
	}
}

func TestValidate_RejectsSubSecondTick(t *testing.T) {
	c := Config{
		App:     AppConfig{Env: "local", Port: 8080},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "readings"},
		Redis:   RedisConfig{Host: "localhost", Port: 6379},
		Auth:    AuthConfig{JWTSecret: "secret"},
		Billing: BillingConfig{TickInterval: 100 * time.Millisecond},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sub-second tick interval")
	}
}
