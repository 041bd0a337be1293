package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/people/pkg/identity"
	"github.com/platinummonkey/people/pkg/observability"
)

// ConfigFileEnv names the optional YAML file layered under the environment
const ConfigFileEnv = "PEOPLE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Identity      IdentityConfig      `yaml:"identity"`
	Auth          AuthConfig          `yaml:"auth"`
	Tenancy       TenancyConfig       `yaml:"tenancy"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	// Migrate applies the embedded schema on startup
	Migrate bool `yaml:"migrate"`
}

// RedisConfig holds the person cache settings. An empty URL disables
// both the cache and the shared rate limiter.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	MaxRetries int           `yaml:"max_retries"`
	PoolSize   int           `yaml:"pool_size"`
	PersonTTL  time.Duration `yaml:"person_ttl"`
}

// IdentityConfig holds the identity provider admin API settings
type IdentityConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthRealm string `yaml:"auth_realm"`
	// Realm is where persons are provisioned and searched
	Realm           string        `yaml:"realm"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	ClientID        string        `yaml:"client_id"`
	AccountClientID string        `yaml:"account_client_id"`
	Timeout         time.Duration `yaml:"timeout"`
	ClientCacheSize int           `yaml:"client_cache_size"`
	ClientCacheTTL  time.Duration `yaml:"client_cache_ttl"`
}

// ClientConfig converts the section to the admin client's settings
func (c IdentityConfig) ClientConfig() identity.Config {
	return identity.Config{
		BaseURL:         c.BaseURL,
		AuthRealm:       c.AuthRealm,
		Username:        c.Username,
		Password:        c.Password,
		ClientID:        c.ClientID,
		Timeout:         c.Timeout,
		ClientCacheSize: c.ClientCacheSize,
		ClientCacheTTL:  c.ClientCacheTTL,
	}
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	IssuerURL   string `yaml:"issuer_url"`
	ClientID    string `yaml:"client_id"`
	TenantClaim string `yaml:"tenant_claim"`
}

// TenancyConfig holds multi-tenant settings
type TenancyConfig struct {
	// DefaultTenant receives anonymous registrations
	DefaultTenant string `yaml:"default_tenant"`
}

// ReconcileConfig holds registration workflow settings
type ReconcileConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	// RepairSchedule is a cron expression; empty disables the sweep
	RepairSchedule string `yaml:"repair_schedule"`
	// RepairWindow is how far back each sweep looks
	RepairWindow time.Duration `yaml:"repair_window"`
	// RepairBatchSize is how many persons a sweep loads per query
	RepairBatchSize int `yaml:"repair_batch_size"`
}

// RateLimitConfig holds limits for the public routes
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	BurstSize         int           `yaml:"burst_size"`
	Window            time.Duration `yaml:"window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses LogLevel, falling back to info
func (c ObservabilityConfig) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// OTel converts the section to the tracing settings
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Endpoint:       c.OTelEndpoint,
		Enabled:        c.OTelEnabled,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			MaxRetries: 3,
			PoolSize:   10,
			PersonTTL:  5 * time.Minute,
		},
		Identity: IdentityConfig{
			AuthRealm:       "master",
			Realm:           "master",
			ClientID:        "admin-cli",
			AccountClientID: "account",
			Timeout:         10 * time.Second,
			ClientCacheSize: 64,
			ClientCacheTTL:  10 * time.Minute,
		},
		Auth: AuthConfig{
			TenantClaim: "tenantId",
		},
		Tenancy: TenancyConfig{
			DefaultTenant: "master",
		},
		Reconcile: ReconcileConfig{
			MaxConcurrency:  8,
			RepairSchedule:  "@every 15m",
			RepairWindow:    time.Hour,
			RepairBatchSize: 200,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 60,
			BurstSize:         10,
			Window:            time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "people",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named
// by PEOPLE_CONFIG_FILE when set, and the environment, in that order
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load builds the configuration using path as the YAML layer. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from the environment. The KC_* names are the
// ones existing deployments already set for the identity provider.
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("PEOPLE_HOST", c.Server.Host)
	c.Server.Port = getEnv("PEOPLE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("PEOPLE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("PEOPLE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("PEOPLE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("PEOPLE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("PEOPLE_MAX_BODY_BYTES", c.Server.MaxBodyBytes)

	c.Database.URL = getEnv("PEOPLE_DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("PEOPLE_DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("PEOPLE_DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("PEOPLE_DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnectTimeout = getEnvDuration("PEOPLE_DATABASE_CONNECT_TIMEOUT", c.Database.ConnectTimeout)
	c.Database.Migrate = getEnvBool("PEOPLE_DATABASE_MIGRATE", c.Database.Migrate)

	c.Redis.URL = getEnv("PEOPLE_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("PEOPLE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("PEOPLE_REDIS_DB", c.Redis.DB)
	c.Redis.MaxRetries = getEnvInt("PEOPLE_REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.PoolSize = getEnvInt("PEOPLE_REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.PersonTTL = getEnvDuration("PEOPLE_REDIS_PERSON_TTL", c.Redis.PersonTTL)

	c.Identity.BaseURL = getEnv("PEOPLE_IDENTITY_BASE_URL", getEnv("KC_BASE_URL", c.Identity.BaseURL))
	c.Identity.Username = getEnv("PEOPLE_IDENTITY_USERNAME", getEnv("KC_REALM_USER", c.Identity.Username))
	c.Identity.Password = getEnv("PEOPLE_IDENTITY_PASSWORD", getEnv("KC_REALM_PASS", c.Identity.Password))
	c.Identity.AuthRealm = getEnv("PEOPLE_IDENTITY_AUTH_REALM", c.Identity.AuthRealm)
	c.Identity.Realm = getEnv("PEOPLE_IDENTITY_REALM", c.Identity.Realm)
	c.Identity.ClientID = getEnv("PEOPLE_IDENTITY_CLIENT_ID", c.Identity.ClientID)
	c.Identity.AccountClientID = getEnv("PEOPLE_IDENTITY_ACCOUNT_CLIENT_ID", c.Identity.AccountClientID)
	c.Identity.Timeout = getEnvDuration("PEOPLE_IDENTITY_TIMEOUT", c.Identity.Timeout)

	c.Auth.IssuerURL = getEnv("PEOPLE_AUTH_ISSUER_URL", c.Auth.IssuerURL)
	c.Auth.ClientID = getEnv("PEOPLE_AUTH_CLIENT_ID", c.Auth.ClientID)
	c.Auth.TenantClaim = getEnv("PEOPLE_AUTH_TENANT_CLAIM", c.Auth.TenantClaim)

	c.Tenancy.DefaultTenant = getEnv("PEOPLE_DEFAULT_TENANT", c.Tenancy.DefaultTenant)

	c.Reconcile.MaxConcurrency = getEnvInt("PEOPLE_RECONCILE_MAX_CONCURRENCY", c.Reconcile.MaxConcurrency)
	if v, ok := os.LookupEnv("PEOPLE_REPAIR_SCHEDULE"); ok {
		c.Reconcile.RepairSchedule = v
	}
	c.Reconcile.RepairWindow = getEnvDuration("PEOPLE_REPAIR_WINDOW", c.Reconcile.RepairWindow)
	c.Reconcile.RepairBatchSize = getEnvInt("PEOPLE_REPAIR_BATCH_SIZE", c.Reconcile.RepairBatchSize)

	c.RateLimit.Enabled = getEnvBool("PEOPLE_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerWindow = getEnvInt("PEOPLE_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.BurstSize = getEnvInt("PEOPLE_RATE_LIMIT_BURST", c.RateLimit.BurstSize)
	c.RateLimit.Window = getEnvDuration("PEOPLE_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Observability.LogLevel = getEnv("PEOPLE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("PEOPLE_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("PEOPLE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("PEOPLE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("PEOPLE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("PEOPLE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("PEOPLE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("PEOPLE_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("PEOPLE_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if err := c.Identity.ClientConfig().Validate(); err != nil {
		return err
	}
	if c.Identity.Realm == "" {
		return fmt.Errorf("identity realm is required")
	}
	if c.Auth.IssuerURL == "" || c.Auth.ClientID == "" {
		return fmt.Errorf("auth issuer URL and client id are required")
	}
	if c.Tenancy.DefaultTenant == "" {
		return fmt.Errorf("default tenant is required")
	}
	if c.Reconcile.MaxConcurrency < 1 {
		return fmt.Errorf("reconcile max concurrency must be at least 1")
	}
	if c.Reconcile.RepairSchedule != "" && c.Reconcile.RepairWindow <= 0 {
		return fmt.Errorf("repair window must be positive when a repair schedule is set")
	}
	if c.Reconcile.RepairBatchSize < 1 {
		return fmt.Errorf("repair batch size must be at least 1")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit needs a positive request count and window")
	}
	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Observability.LogFormat)
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

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
