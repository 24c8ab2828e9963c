package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dormshare/pkg/observability"
)

// MinSecretLength is the minimum HMAC secret size in bytes
const MinSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the credential store connection settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	SeedFile        string
}

// RedisConfig selects the shared revocation registry and permission cache.
// An empty URL keeps both in process memory.
type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds token settings
type AuthConfig struct {
	// Secrets are ordered newest first; the first one signs
	AccessSecrets       []string
	RefreshSecrets      []string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	Issuer              string
	RotateRefreshTokens bool
	ResolveTimeout      time.Duration
	SweepSchedule       string
	// SecretsFile overrides the env secrets and is watched for rotation
	SecretsFile string
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// AuditConfig selects an optional webhook sink for rejection events
type AuditConfig struct {
	WebhookURL     string
	WebhookSecret  string
	WebhookWorkers int
	WebhookTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables and, when set,
// the secrets file
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.Auth.SecretsFile != "" {
		secrets, err := LoadSecretsFile(cfg.Auth.SecretsFile)
		if err != nil {
			return nil, err
		}
		cfg.Auth.AccessSecrets = secrets.Access
		cfg.Auth.RefreshSecrets = secrets.Refresh
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DORMSHARE_HOST", "0.0.0.0"),
		Port:            getEnv("DORMSHARE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DORMSHARE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DORMSHARE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("DORMSHARE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DORMSHARE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("DORMSHARE_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("DORMSHARE_DATABASE_DRIVER", "postgres"),
		URL:             getEnv("DORMSHARE_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("DORMSHARE_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DORMSHARE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DORMSHARE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		QueryTimeout:    getEnvDuration("DORMSHARE_DB_QUERY_TIMEOUT", 2*time.Second),
		SeedFile:        getEnv("DORMSHARE_SEED_FILE", ""),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:       getEnv("DORMSHARE_REDIS_URL", ""),
		Password:  getEnv("DORMSHARE_REDIS_PASSWORD", ""),
		DB:        getEnvInt("DORMSHARE_REDIS_DB", 0),
		PoolSize:  getEnvInt("DORMSHARE_REDIS_POOL_SIZE", 10),
		KeyPrefix: getEnv("DORMSHARE_REDIS_KEY_PREFIX", "dormshare:"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AccessSecrets:       getEnvList("DORMSHARE_ACCESS_SECRETS"),
		RefreshSecrets:      getEnvList("DORMSHARE_REFRESH_SECRETS"),
		AccessTokenTTL:      getEnvDuration("DORMSHARE_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     getEnvDuration("DORMSHARE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		Issuer:              getEnv("DORMSHARE_TOKEN_ISSUER", "dormshare"),
		RotateRefreshTokens: getEnvBool("DORMSHARE_ROTATE_REFRESH_TOKENS", true),
		ResolveTimeout:      getEnvDuration("DORMSHARE_RESOLVE_TIMEOUT", 3*time.Second),
		SweepSchedule:       getEnv("DORMSHARE_REVOCATION_SWEEP_SCHEDULE", "@every 1m"),
		SecretsFile:         getEnv("DORMSHARE_SECRETS_FILE", ""),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        getEnvDuration("DORMSHARE_PERMISSION_CACHE_TTL", 5*time.Minute),
		MaxEntries: getEnvInt("DORMSHARE_PERMISSION_CACHE_SIZE", 10000),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		WebhookURL:     getEnv("DORMSHARE_AUDIT_WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("DORMSHARE_AUDIT_WEBHOOK_SECRET", ""),
		WebhookWorkers: getEnvInt("DORMSHARE_AUDIT_WEBHOOK_WORKERS", 2),
		WebhookTimeout: getEnvDuration("DORMSHARE_AUDIT_WEBHOOK_TIMEOUT", 30*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("DORMSHARE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DORMSHARE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DORMSHARE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DORMSHARE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DORMSHARE_OTEL_SERVICE_NAME", "dormshare"),
		OTelServiceVersion: getEnv("DORMSHARE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DORMSHARE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("DORMSHARE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database query timeout must be positive")
	}

	if err := ValidateSecrets(c.Auth.AccessSecrets, c.Auth.RefreshSecrets); err != nil {
		return err
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access token TTL must be shorter than refresh token TTL")
	}
	if c.Auth.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve timeout must be positive")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("permission cache size must be positive")
	}

	if c.Audit.WebhookURL != "" {
		u, err := url.Parse(c.Audit.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid audit webhook URL: %q", c.Audit.WebhookURL)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ValidateSecrets checks both key rings: each needs a secret, every secret
// must be long enough and the rings must not share a secret
func ValidateSecrets(access, refresh []string) error {
	if len(access) == 0 {
		return errors.New("at least one access token secret is required")
	}
	if len(refresh) == 0 {
		return errors.New("at least one refresh token secret is required")
	}

	seen := make(map[string]struct{}, len(access))
	for i, s := range access {
		if len(s) < MinSecretLength {
			return fmt.Errorf("access secret %d is shorter than %d bytes", i, MinSecretLength)
		}
		seen[s] = struct{}{}
	}
	for i, s := range refresh {
		if len(s) < MinSecretLength {
			return fmt.Errorf("refresh secret %d is shorter than %d bytes", i, MinSecretLength)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("refresh secret %d is also an access secret", i)
		}
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blank items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
