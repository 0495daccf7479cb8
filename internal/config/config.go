package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Complexity   ComplexityConfig   `mapstructure:"complexity"`
	Vendors      []VendorConfig     `mapstructure:"vendors"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	VersionCheck VersionCheckConfig `mapstructure:"version_check"`
}

type ServerConfig struct {
	Port      string   `mapstructure:"port"`
	Env       string   `mapstructure:"env"`
	AdminKeys []string `mapstructure:"admin_keys"`
	// UpstreamIdleTimeout aborts a forward when the vendor sends nothing for this long.
	UpstreamIdleTimeout time.Duration `mapstructure:"upstream_idle_timeout"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

const (
	CursorStoreMemory = "memory"
	CursorStoreRedis  = "redis"
)

type RoutingConfig struct {
	CursorStore string `mapstructure:"cursor_store"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AuthConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ComplexityConfig tunes the heuristic classifier and model selection. Empty
// maps fall back to the built-in tables.
type ComplexityConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	Thresholds       map[string]int `mapstructure:"thresholds"`
	CapabilityScores map[string]int `mapstructure:"capability_scores"`
}

// VendorConfig adds or overrides an entry of the vendor registry.
type VendorConfig struct {
	ID             string            `mapstructure:"id" validate:"required"`
	BaseURL        string            `mapstructure:"base_url" validate:"required,url"`
	APIType        string            `mapstructure:"api_type" validate:"omitempty,oneof=openai anthropic gemini azure"`
	AuthHeader     string            `mapstructure:"auth_header"`
	AuthFormat     string            `mapstructure:"auth_format" validate:"omitempty,oneof=bearer raw"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type UsageConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AvailabilityConfig schedules the model listing harvest. A zero interval
// leaves refresh to the admin endpoint.
type AvailabilityConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	HarvestOnStart  bool          `mapstructure:"harvest_on_start"`
}

type VersionCheckConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Redis.Password = resolveSecret(v, cfg.Redis.Password)
	for i, k := range cfg.Server.AdminKeys {
		cfg.Server.AdminKeys[i] = resolveSecret(v, k)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.admin_keys", []string{})
	v.SetDefault("server.upstream_idle_timeout", 120*time.Second)
	v.SetDefault("database.dsn", "file:router.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("routing.cursor_store", CursorStoreMemory)
	v.SetDefault("routing.key_prefix", "router:")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("auth.cache_ttl", 30*time.Second)
	v.SetDefault("complexity.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("usage.buffer_size", 10000)
	v.SetDefault("usage.batch_size", 50)
	v.SetDefault("usage.flush_interval", 5*time.Second)
	v.SetDefault("availability.refresh_interval", time.Duration(0))
	v.SetDefault("availability.harvest_on_start", false)
	v.SetDefault("version_check.enabled", false)
	v.SetDefault("version_check.url", "https://api.github.com/repos/nulzo/bot-router/releases/latest")
}

// resolveSecret expands "ENV:NAME" references. The process environment wins
// over anything viper loaded.
func resolveSecret(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	envVar := strings.TrimPrefix(value, "ENV:")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}
