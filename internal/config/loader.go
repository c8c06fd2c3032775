package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Admin ──
	setStr(&cfg.Admin.PrivateKey, "MARKETCORE_ADMIN_PRIVATE_KEY")
	setStr(&cfg.Admin.OwnerAddress, "MARKETCORE_ADMIN_OWNER_ADDRESS")
	setStr(&cfg.Admin.EncryptedKeyPath, "MARKETCORE_ADMIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Admin.KeyPassword, "MARKETCORE_ADMIN_KEY_PASSWORD")

	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "MARKETCORE_CHAIN_ID")
	setStr(&cfg.Chain.OracleAddress, "MARKETCORE_CHAIN_ORACLE_ADDRESS")
	setStr(&cfg.Chain.TokensAddress, "MARKETCORE_CHAIN_TOKENS_ADDRESS")
	setStr(&cfg.Chain.CollateralAddress, "MARKETCORE_CHAIN_COLLATERAL_ADDRESS")
	setStr(&cfg.Chain.FactoryAddress, "MARKETCORE_CHAIN_FACTORY_ADDRESS")
	setStr(&cfg.Chain.PointsAddress, "MARKETCORE_CHAIN_POINTS_ADDRESS")
	setStr(&cfg.Chain.StakingAddress, "MARKETCORE_CHAIN_STAKING_ADDRESS")
	setStr(&cfg.Chain.SocialAddress, "MARKETCORE_CHAIN_SOCIAL_ADDRESS")

	// ── Market ──
	setStr(&cfg.Market.MinBuyAmount, "MARKETCORE_MARKET_MIN_BUY_AMOUNT")
	setStr(&cfg.Market.MaxBuyAmountPerQuestion, "MARKETCORE_MARKET_MAX_BUY_AMOUNT_PER_QUESTION")
	setDuration(&cfg.Market.StopTradingBeforeEnd, "MARKETCORE_MARKET_STOP_TRADING_BEFORE_END")
	setBool(&cfg.Market.BuyWithUnlockedEnabled, "MARKETCORE_MARKET_BUY_WITH_UNLOCKED_ENABLED")
	setBool(&cfg.Market.SellEnabled, "MARKETCORE_MARKET_SELL_ENABLED")
	setStringSlice(&cfg.Market.Initializers, "MARKETCORE_MARKET_INITIALIZERS")
	setStringSlice(&cfg.Market.Proposers, "MARKETCORE_MARKET_PROPOSERS")

	// ── Staking ──
	setStr(&cfg.Staking.RewardPerSecond, "MARKETCORE_STAKING_REWARD_PER_SECOND")
	setStr(&cfg.Staking.PointsPerSecond, "MARKETCORE_STAKING_POINTS_PER_SECOND")

	// ── Social ──
	setStr(&cfg.Social.MaxDailySpending, "MARKETCORE_SOCIAL_MAX_DAILY_SPENDING")
	setStr(&cfg.Social.MaxSpendingPerUser, "MARKETCORE_SOCIAL_MAX_SPENDING_PER_USER")
	setStr(&cfg.Social.MaxBuyAmount, "MARKETCORE_SOCIAL_MAX_BUY_AMOUNT")
	setStr(&cfg.Social.InitialGasDrop, "MARKETCORE_SOCIAL_INITIAL_GAS_DROP")
	setStringSlice(&cfg.Social.Spenders, "MARKETCORE_SOCIAL_SPENDERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MARKETCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETCORE_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "MARKETCORE_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETCORE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARKETCORE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MARKETCORE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "MARKETCORE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARKETCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKETCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETCORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AuthToken, "MARKETCORE_SERVER_AUTH_TOKEN")
	setInt(&cfg.Server.RateLimitPerMin, "MARKETCORE_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETCORE_MODE")
	setStr(&cfg.LogLevel, "MARKETCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
