package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/dormshare/pkg/observability"
)

var (
	accessSecret  = strings.Repeat("a", MinSecretLength)
	refreshSecret = strings.Repeat("r", MinSecretLength)
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DORMSHARE_DATABASE_URL", "postgres://localhost/dormshare")
	t.Setenv("DORMSHARE_ACCESS_SECRETS", accessSecret)
	t.Setenv("DORMSHARE_REFRESH_SECRETS", refreshSecret)
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %s, want postgres", cfg.Database.Driver)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.Auth.RefreshTokenTTL)
	}
	if !cfg.Auth.RotateRefreshTokens {
		t.Error("refresh rotation should default on")
	}
	if cfg.Cache.TTL != 5*time.Minute || cfg.Cache.MaxEntries != 10000 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled without a URL")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DORMSHARE_DATABASE_DRIVER", "sqlite3")
	t.Setenv("DORMSHARE_DATABASE_URL", "file:dormshare.db")
	t.Setenv("DORMSHARE_ACCESS_SECRETS", " "+accessSecret+" , "+strings.Repeat("b", 40)+",, ")
	t.Setenv("DORMSHARE_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("DORMSHARE_PERMISSION_CACHE_TTL", "30s")
	t.Setenv("DORMSHARE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DORMSHARE_ROTATE_REFRESH_TOKENS", "false")
	t.Setenv("DORMSHARE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Auth.AccessSecrets) != 2 || cfg.Auth.AccessSecrets[0] != accessSecret {
		t.Errorf("unexpected access secrets %d", len(cfg.Auth.AccessSecrets))
	}
	if cfg.Auth.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled")
	}
	if cfg.Auth.RotateRefreshTokens {
		t.Error("rotation should be off")
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{Driver: "postgres", URL: "postgres://x", QueryTimeout: time.Second},
			Auth: AuthConfig{
				AccessSecrets:   []string{accessSecret},
				RefreshSecrets:  []string{refreshSecret},
				AccessTokenTTL:  15 * time.Minute,
				RefreshTokenTTL: time.Hour,
				ResolveTimeout:  time.Second,
			},
			Cache: CacheConfig{TTL: 5 * time.Minute, MaxEntries: 10},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"no database url", func(c *Config) { c.Database.URL = "" }, "database URL is required"},
		{"no access secret", func(c *Config) { c.Auth.AccessSecrets = nil }, "access token secret"},
		{"no refresh secret", func(c *Config) { c.Auth.RefreshSecrets = nil }, "refresh token secret"},
		{"short secret", func(c *Config) { c.Auth.AccessSecrets = []string{"short"} }, "shorter than"},
		{"shared secret", func(c *Config) { c.Auth.RefreshSecrets = []string{accessSecret} }, "also an access secret"},
		{"zero ttl", func(c *Config) { c.Auth.AccessTokenTTL = 0 }, "must be positive"},
		{"access outlives refresh", func(c *Config) { c.Auth.AccessTokenTTL = 2 * time.Hour }, "shorter than refresh"},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache TTL"},
		{"bad audit webhook", func(c *Config) { c.Audit.WebhookURL = "ftp://sink" }, "invalid audit webhook URL"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "x"
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")
	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_FLOAT", "0.25")

	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("invalid durations should fall back, got %v", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 7 {
		t.Errorf("getEnvInt = %d", got)
	}
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool should accept 1")
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvList("TEST_UNSET_LIST"); got != nil {
		t.Errorf("getEnvList of unset var = %v", got)
	}
}
