package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:         AppConfig{Env: "local", Port: 8080},
		DB:          DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Redis:       RedisConfig{Host: "localhost", Port: 6379},
		Auth:        AuthConfig{JWTSecret: "secret"},
		ConvAI:      ConvAIConfig{APIKey: "key"},
		StatusToken: StatusTokenConfig{Secret: "status-secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "dialer"
	c.Auth.JWTAudience = "dialer-api"
	c.Worker.TriggerSecret = "trigger"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Worker.StaleAfter != 30*time.Second || c.Worker.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected worker timing defaults: stale=%s heartbeat=%s", c.Worker.StaleAfter, c.Worker.HeartbeatInterval)
	}
	if c.Worker.PollInterval != 3*time.Second || c.Worker.PollTimeout != 10*time.Minute {
		t.Fatalf("unexpected poll defaults: interval=%s timeout=%s", c.Worker.PollInterval, c.Worker.PollTimeout)
	}
	if c.Worker.Schedule != "@every 10s" {
		t.Fatalf("unexpected schedule default %q", c.Worker.Schedule)
	}
}

func TestValidate_RejectsStaleThresholdCloseToHeartbeat(t *testing.T) {
	c := validLocal()
	c.Worker.StaleAfter = 10 * time.Second
	c.Worker.HeartbeatInterval = 5 * time.Second
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected stale/heartbeat validation error")
	}
	if !strings.Contains(err.Error(), "WORKER_STALE_AFTER") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RequiresStatusTokenSecret(t *testing.T) {
	c := validLocal()
	c.StatusToken.Secret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without STATUS_TOKEN_SECRET")
	}
}

func TestLoad_AggregatesParseErrors(t *testing.T) {
	t.Setenv("APP_PORT", "not-a-number")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("WORKER_STALE_AFTER", "soon")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	if !strings.Contains(err.Error(), "APP_PORT") || !strings.Contains(err.Error(), "WORKER_STALE_AFTER") {
		t.Fatalf("expected both parse errors reported, got %v", err)
	}
}
