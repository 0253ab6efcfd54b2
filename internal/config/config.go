// Package config defines all configuration for the exchange daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via HX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds the Postgres connection. DSN is overridable via
// HX_DATABASE_DSN so credentials stay out of the file.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the pub/sub broker connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig tunes the matching engine and its daemons.
//
//   - Symbols: the tradeable symbols; one processor goroutine each.
//   - InboxSize: bound on each processor's command queue.
//   - ExpiryInterval: how often lapsed orders are swept.
//   - ExpiryBatch: max orders cancelled per sweep.
type EngineConfig struct {
	Symbols        []string      `mapstructure:"symbols"`
	InboxSize      int           `mapstructure:"inbox_size"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	ExpiryBatch    int           `mapstructure:"expiry_batch"`
}

// OutboxConfig tunes the event publisher.
type OutboxConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	Workers   int `mapstructure:"workers"`
}

// TradingConfig sets account funding and treasury seeding. All monetary
// values are integer cents.
type TradingConfig struct {
	InitialCashCents int64 `mapstructure:"initial_cash_cents"`
	SeedOnStart      bool  `mapstructure:"seed_on_start"`
	SeedShares       int64 `mapstructure:"seed_shares"`
	SeedParCents     int64 `mapstructure:"seed_par_cents"`
	SeedRungStep     int64 `mapstructure:"seed_rung_step_cents"`
	SeedRungs        int   `mapstructure:"seed_rungs"`
	SeedAskTIF       int64 `mapstructure:"seed_ask_tif_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: HX_DATABASE_DSN, HX_REDIS_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if dsn := os.Getenv("HX_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if pass := os.Getenv("HX_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Engine.InboxSize == 0 {
		c.Engine.InboxSize = 1024
	}
	if c.Engine.ExpiryInterval == 0 {
		c.Engine.ExpiryInterval = time.Second
	}
	if c.Engine.ExpiryBatch == 0 {
		c.Engine.ExpiryBatch = 100
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.Workers == 0 {
		c.Outbox.Workers = 1
	}
	if c.Trading.InitialCashCents == 0 {
		c.Trading.InitialCashCents = 100_000_000 // $1M
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (set HX_DATABASE_DSN)")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols must list at least one symbol")
	}
	seen := make(map[string]bool, len(c.Engine.Symbols))
	for _, sym := range c.Engine.Symbols {
		if sym == "" {
			return fmt.Errorf("engine.symbols must not contain empty entries")
		}
		if seen[sym] {
			return fmt.Errorf("engine.symbols lists %q twice", sym)
		}
		seen[sym] = true
	}
	if c.Engine.InboxSize < 0 {
		return fmt.Errorf("engine.inbox_size must be >= 0")
	}
	if c.Trading.InitialCashCents <= 0 {
		return fmt.Errorf("trading.initial_cash_cents must be > 0")
	}
	if c.Trading.SeedOnStart {
		if c.Trading.SeedShares <= 0 {
			return fmt.Errorf("trading.seed_shares must be > 0 when seeding is enabled")
		}
		if c.Trading.SeedParCents <= 0 {
			return fmt.Errorf("trading.seed_par_cents must be > 0 when seeding is enabled")
		}
		if c.Trading.SeedAskTIF <= 0 {
			return fmt.Errorf("trading.seed_ask_tif_seconds must be > 0 when seeding is enabled")
		}
	}
	return nil
}
