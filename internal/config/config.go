// Package config loads and validates the venue configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds the full configuration for the dark pool venue
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Book     BookConfig     `mapstructure:"book"`
	Matching MatchingConfig `mapstructure:"matching"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Breaker  BreakerConfig  `mapstructure:"circuit_breaker"`
}

// DatabaseConfig holds durable order storage settings
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the optional snapshot cache settings
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// KafkaConfig holds notifier event transport settings
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// PairLimits bounds order sizes for a single trading pair
type PairLimits struct {
	Pair         string          `mapstructure:"pair"`
	MinOrderSize decimal.Decimal `mapstructure:"min_order_size"`
	MaxOrderSize decimal.Decimal `mapstructure:"max_order_size"`
}

// BookConfig holds order book service settings
type BookConfig struct {
	OrderTTL      time.Duration `mapstructure:"order_ttl"`
	Pairs         []PairLimits  `mapstructure:"pairs"`
	SnapshotDepth int           `mapstructure:"snapshot_depth"`
}

// MatchingConfig holds matching engine scheduler settings
type MatchingConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
}

// RetryConfig holds the settlement retry policy
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// BreakerConfig holds the settlement circuit breaker policy
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// LoadConfig loads configuration from an optional YAML file plus environment
// variables prefixed with DARKPOOL_.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DARKPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, path := range paths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decimalDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "darkpool.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.snapshot_ttl", 2*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "darkpool.order.events")
	v.SetDefault("book.order_ttl", 24*time.Hour)
	v.SetDefault("book.snapshot_depth", 20)
	v.SetDefault("matching.cycle_interval", 500*time.Millisecond)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.attempt_timeout", 10*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.cooldown", 30*time.Second)
}

// Validate checks that the configuration values are internally consistent
func (c *Config) Validate() error {
	if c.Book.OrderTTL <= 0 {
		return fmt.Errorf("book.order_ttl must be positive")
	}
	if c.Matching.CycleInterval <= 0 {
		return fmt.Errorf("matching.cycle_interval must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry delays must satisfy 0 < initial_delay <= max_delay")
	}
	if c.Retry.Multiplier < 1.0 {
		return fmt.Errorf("retry.multiplier must be >= 1.0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("circuit_breaker.cooldown must be positive")
	}
	for _, pair := range c.Book.Pairs {
		if pair.Pair == "" {
			return fmt.Errorf("pair symbol cannot be empty")
		}
		if pair.MinOrderSize.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("min_order_size must be positive for pair %s", pair.Pair)
		}
		if pair.MaxOrderSize.LessThan(pair.MinOrderSize) {
			return fmt.Errorf("max_order_size must be >= min_order_size for pair %s", pair.Pair)
		}
	}
	return nil
}

// Limits returns the configured size limits for a trading pair
func (c *BookConfig) Limits(pair string) (PairLimits, bool) {
	for _, p := range c.Pairs {
		if p.Pair == pair {
			return p, true
		}
	}
	return PairLimits{}, false
}
