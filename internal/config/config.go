package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"catalog-admin-api/internal/cache"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig holds the SQLite file location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds JWT settings and the bootstrap admin account
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	JWTAudience   string        `yaml:"jwt_audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminUsername string        `yaml:"admin_username"`
	AdminPassword string        `yaml:"admin_password"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	CountTTL       time.Duration `yaml:"count_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepBatch     int           `yaml:"sweep_batch"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	RemoteTimeout  time.Duration `yaml:"remote_timeout"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPrefix    string        `yaml:"redis_prefix"`
}

// RateLimitConfig holds the per-client limit for admin routes
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8008"},
		Database: DatabaseConfig{Path: "catalog.db"},
		Auth: AuthConfig{
			JWTSecret:     "development-insecure-secret-change-me",
			JWTIssuer:     "catalog-admin-api",
			JWTAudience:   "catalog-admin-clients",
			TokenTTL:      24 * time.Hour,
			AdminUsername: "admin",
			AdminPassword: "admin",
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Cache: CacheConfig{
			DefaultTTL:     cache.DefaultTTL,
			CountTTL:       cache.DefaultCountTTL,
			SweepInterval:  cache.DefaultSweepInterval,
			SweepBatch:     cache.DefaultSweepBatchSize,
			DebounceWindow: cache.DefaultDebounceWindow,
			RemoteTimeout:  cache.DefaultRemoteTimeout,
			RedisPrefix:    "catalog:",
		},
		RateLimit: RateLimitConfig{RPS: 10, Burst: 20},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML file on top of the defaults
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTIssuer = getEnv("JWT_ISSUER", c.Auth.JWTIssuer)
	c.Auth.JWTAudience = getEnv("JWT_AUDIENCE", c.Auth.JWTAudience)
	c.Auth.AdminUsername = getEnv("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPassword = getEnv("ADMIN_PASSWORD", c.Auth.AdminPassword)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Cache.RedisAddr = getEnv("CACHE_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPrefix = getEnv("CACHE_REDIS_PREFIX", c.Cache.RedisPrefix)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"JWT_TOKEN_TTL", &c.Auth.TokenTTL},
		{"CACHE_DEFAULT_TTL", &c.Cache.DefaultTTL},
		{"CACHE_COUNT_TTL", &c.Cache.CountTTL},
		{"CACHE_SWEEP_INTERVAL", &c.Cache.SweepInterval},
		{"CACHE_DEBOUNCE_WINDOW", &c.Cache.DebounceWindow},
		{"CACHE_REMOTE_TIMEOUT", &c.Cache.RemoteTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	if c.Cache.SweepBatch, err = getInt("CACHE_SWEEP_BATCH", c.Cache.SweepBatch); err != nil {
		return err
	}
	if c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", c.RateLimit.Burst); err != nil {
		return err
	}
	if c.RateLimit.RPS, err = getFloat("RATE_LIMIT_RPS", c.RateLimit.RPS); err != nil {
		return err
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("port is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if c.Cache.DefaultTTL <= 0 || c.Cache.CountTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	if c.Cache.SweepBatch < 1 {
		return fmt.Errorf("sweep_batch must be at least 1")
	}
	if c.Cache.DebounceWindow <= 0 {
		return fmt.Errorf("debounce_window must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit requires rps > 0 and burst >= 1")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// CacheService converts the cache section into cache.Config.
func (c *Config) CacheService() cache.Config {
	return cache.Config{
		DefaultTTL:     c.Cache.DefaultTTL,
		CountTTL:       c.Cache.CountTTL,
		SweepInterval:  c.Cache.SweepInterval,
		SweepBatchSize: c.Cache.SweepBatch,
		DebounceWindow: c.Cache.DebounceWindow,
		RemoteTimeout:  c.Cache.RemoteTimeout,
	}
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
