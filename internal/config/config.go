// Package config defines the top-level configuration for the marketcore
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETCORE_* environment variables.
type Config struct {
	Admin    AdminConfig    `toml:"admin"`
	Chain    ChainConfig    `toml:"chain"`
	Market   MarketConfig   `toml:"market"`
	Staking  StakingConfig  `toml:"staking"`
	Social   SocialConfig   `toml:"social"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AdminConfig holds the operator signing credentials. The admin key signs
// spend authorizations during scripted operations and identifies the owner
// account the engines are constructed with.
type AdminConfig struct {
	PrivateKey       string `toml:"private_key"`
	OwnerAddress     string `toml:"owner_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the EIP-712 domain parameters and the well-known
// engine account addresses.
type ChainConfig struct {
	ChainID           int64  `toml:"chain_id"`
	OracleAddress     string `toml:"oracle_address"`
	TokensAddress     string `toml:"tokens_address"`
	CollateralAddress string `toml:"collateral_address"`
	FactoryAddress    string `toml:"factory_address"`
	PointsAddress     string `toml:"points_address"`
	StakingAddress    string `toml:"staking_address"`
	SocialAddress     string `toml:"social_address"`
}

// MarketConfig holds the oracle's market lifecycle parameters. Amounts are
// decimal strings in base units (wei scale).
type MarketConfig struct {
	MinBuyAmount            string   `toml:"min_buy_amount"`
	MaxBuyAmountPerQuestion string   `toml:"max_buy_amount_per_question"`
	StopTradingBeforeEnd    duration `toml:"stop_trading_before_end"`
	BuyWithUnlockedEnabled  bool     `toml:"buy_with_unlocked_enabled"`
	SellEnabled             bool     `toml:"sell_enabled"`
	Initializers            []string `toml:"initializers"`
	Proposers               []string `toml:"proposers"`
}

// StakingConfig holds the accrual rates for the staking engine, in base
// units per second.
type StakingConfig struct {
	RewardPerSecond string `toml:"reward_per_second"`
	PointsPerSecond string `toml:"points_per_second"`
}

// SocialConfig holds the social bets gateway budgets.
type SocialConfig struct {
	MaxDailySpending   string   `toml:"max_daily_spending"`
	MaxSpendingPerUser string   `toml:"max_spending_per_user"`
	MaxBuyAmount       string   `toml:"max_buy_amount"`
	InitialGasDrop     string   `toml:"initial_gas_drop"`
	Spenders           []string `toml:"spenders"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// report archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds settlement report archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`

	// RateLimitPerMin caps requests per client IP per minute. Zero disables
	// rate limiting.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:           137,
			OracleAddress:     "0x0000000000000000000000000000000000000100",
			TokensAddress:     "0x0000000000000000000000000000000000000200",
			CollateralAddress: "0x0000000000000000000000000000000000000300",
			FactoryAddress:    "0x0000000000000000000000000000000000000400",
			PointsAddress:     "0x0000000000000000000000000000000000000500",
			StakingAddress:    "0x0000000000000000000000000000000000000600",
			SocialAddress:     "0x0000000000000000000000000000000000000900",
		},
		Market: MarketConfig{
			MinBuyAmount:            "1000000000000000",    // 0.001
			MaxBuyAmountPerQuestion: "1000000000000000000", // 1.0
			StopTradingBeforeEnd:    duration{time.Minute},
			BuyWithUnlockedEnabled:  false,
			SellEnabled:             false,
		},
		Staking: StakingConfig{
			RewardPerSecond: "0",
			PointsPerSecond: "0",
		},
		Social: SocialConfig{
			MaxDailySpending:   "0",
			MaxSpendingPerUser: "0",
			MaxBuyAmount:       "0",
			InitialGasDrop:     "0",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "marketcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketcore-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "positions_redeemed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Admin
	if c.Admin.EncryptedKeyPath != "" && c.Admin.KeyPassword == "" {
		errs = append(errs, "admin: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Market
	if c.Market.StopTradingBeforeEnd.Duration < 0 {
		errs = append(errs, "market: stop_trading_before_end must not be negative")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
