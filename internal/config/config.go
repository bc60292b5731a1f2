package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Hash strategies for server-generated links.
const (
	HashSqids  = "sqids"
	HashRandom = "random"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Search        SearchConfig
	Events        EventsConfig
	Auth          AuthConfig
	App           AppConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
	AllowedOrigins  []string      `envconfig:"SERVER_ALLOWED_ORIGINS"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if err := validateAbsURL(c.BaseURL); err != nil {
		return fmt.Errorf("base URL: %w", err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// StoreConfig selects and tunes the short-link backend.
type StoreConfig struct {
	Backend       string        `envconfig:"STORE_BACKEND" default:"file"`
	FilePath      string        `envconfig:"STORE_FILE_PATH" default:"data/shortlinks.json"`
	SweepInterval time.Duration `envconfig:"STORE_SWEEP_INTERVAL" default:"1h"`
	OpTimeout     time.Duration `envconfig:"STORE_OP_TIMEOUT" default:"2s"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.FilePath == "" {
			return fmt.Errorf("file path is required for the file backend")
		}
	case BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("invalid backend: %s (must be one of: file, postgres, redis)", c.Backend)
	}
	// zero disables the sweeper
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval cannot be negative")
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds database connection configuration. Only loaded for the
// postgres backend.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" required:"true"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// MigrationURL returns the postgres:// URL golang-migrate expects.
func (c *DatabaseConfig) MigrationURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig is only loaded for the redis backend.
type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR" required:"true"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"shortlink:"`
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db index cannot be negative")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key prefix cannot be empty")
	}
	return nil
}

// CacheConfig tunes the in-process read-through cache.
type CacheConfig struct {
	Enabled       bool          `envconfig:"CACHE_ENABLED" default:"false"`
	MaxItems      int64         `envconfig:"CACHE_MAX_ITEMS" default:"100000"`
	MaxCost       int64         `envconfig:"CACHE_MAX_COST" default:"67108864"`
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"10m"`
	BloomEnabled  bool          `envconfig:"CACHE_BLOOM_ENABLED" default:"false"`
	BloomExpected uint          `envconfig:"CACHE_BLOOM_EXPECTED" default:"1000000"`
	BloomFPRate   float64       `envconfig:"CACHE_BLOOM_FP_RATE" default:"0.01"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max items must be positive")
	}
	if c.MaxCost <= 0 {
		return fmt.Errorf("max cost must be positive")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.BloomEnabled {
		if c.BloomExpected == 0 {
			return fmt.Errorf("bloom expected items must be positive")
		}
		if c.BloomFPRate <= 0 || c.BloomFPRate >= 1 {
			return fmt.Errorf("bloom false positive rate must be between 0 and 1, got %f", c.BloomFPRate)
		}
	}
	return nil
}

// SearchConfig points redirects at the booking site.
type SearchConfig struct {
	BaseURL      string `envconfig:"SEARCH_BASE_URL" required:"true"`
	FallbackURL  string `envconfig:"SEARCH_FALLBACK_URL" required:"true"`
	HashStrategy string `envconfig:"HASH_STRATEGY" default:"sqids"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	if err := validateAbsURL(c.BaseURL); err != nil {
		return fmt.Errorf("search base URL: %w", err)
	}
	if err := validateAbsURL(c.FallbackURL); err != nil {
		return fmt.Errorf("fallback URL: %w", err)
	}
	if c.HashStrategy != HashSqids && c.HashStrategy != HashRandom {
		return fmt.Errorf("invalid hash strategy: %s (must be one of: sqids, random)", c.HashStrategy)
	}
	return nil
}

// EventsConfig controls lifecycle event publishing.
type EventsConfig struct {
	KafkaEnabled bool     `envconfig:"EVENTS_KAFKA_ENABLED" default:"false"`
	KafkaBrokers []string `envconfig:"EVENTS_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"EVENTS_KAFKA_TOPIC" default:"shortlink.events"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	if !c.KafkaEnabled {
		return nil
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka events are enabled")
	}
	if c.KafkaTopic == "" {
		return fmt.Errorf("kafka topic cannot be empty")
	}
	return nil
}

// AuthConfig holds the shared secret of the external auth API. An empty secret
// leaves DELETE unprotected.
type AuthConfig struct {
	JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	JWTIssuer string `envconfig:"AUTH_JWT_ISSUER"`
}

// Enabled reports whether bearer tokens are checked.
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Enabled() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds configuration for tracing.
type ObservabilityConfig struct {
	Enabled           bool    `envconfig:"OTEL_ENABLED" required:"true"`
	ServiceName       string  `envconfig:"OTEL_SERVICE_NAME"`
	ServiceVersion    string  `envconfig:"OTEL_SERVICE_VERSION"`
	OTelEndpoint      string  `envconfig:"OTEL_ENDPOINT"`
	OTelInsecure      bool    `envconfig:"OTEL_INSECURE"`
	TracingSampleRate float64 `envconfig:"OTEL_TRACING_SAMPLE_RATE"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %f", c.TracingSampleRate)
	}

	// Only require these when observability is enabled.
	if c.Enabled {
		if c.ServiceName == "" {
			return fmt.Errorf("service name is required when observability is enabled")
		}
		if c.OTelEndpoint == "" {
			return fmt.Errorf("OTEL endpoint is required when observability is enabled")
		}
		if c.ServiceVersion == "" {
			return fmt.Errorf("service version is required when observability is enabled")
		}
	}

	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

// Load loads configuration from environment variables only.
// (Do .env loading in cmd/server/main.go for dev, not here.)
// Database and Redis sections are only read when STORE_BACKEND selects them.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := process([]section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Store", &cfg.Store, cfg.Store.Validate},
	}); err != nil {
		return nil, err
	}

	var backend []section
	switch cfg.Store.Backend {
	case BackendPostgres:
		backend = append(backend, section{"Database", &cfg.Database, cfg.Database.Validate})
	case BackendRedis:
		backend = append(backend, section{"Redis", &cfg.Redis, cfg.Redis.Validate})
	}
	if err := process(backend); err != nil {
		return nil, err
	}

	if err := process([]section{
		{"Cache", &cfg.Cache, cfg.Cache.Validate},
		{"Search", &cfg.Search, cfg.Search.Validate},
		{"Events", &cfg.Events, cfg.Events.Validate},
		{"Auth", &cfg.Auth, cfg.Auth.Validate},
		{"App", &cfg.App, cfg.App.Validate},
		{"Observability", &cfg.Observability, cfg.Observability.Validate},
	}); err != nil {
		return nil, err
	}

	// the bloom filter is warmed from a full hash listing, which redis does not offer
	if cfg.Cache.Enabled && cfg.Cache.BloomEnabled && cfg.Store.Backend == BackendRedis {
		return nil, fmt.Errorf("invalid Cache config: bloom filter requires the file or postgres backend, got %s", cfg.Store.Backend)
	}

	return cfg, nil
}

func process(sections []section) error {
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	return nil
}

func validateAbsURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		return fmt.Errorf("%q must not end with a slash", raw)
	}
	return nil
}
