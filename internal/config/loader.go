package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and then applies
// BINARYPOOL_* environment overrides. An empty path skips the file. The
// result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BINARYPOOL_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.ContractAddress, "BINARYPOOL_ENGINE_CONTRACT_ADDRESS")
	setStr(&cfg.Engine.ContractOwner, "BINARYPOOL_ENGINE_CONTRACT_OWNER")
	setStr(&cfg.Engine.OracleAddress, "BINARYPOOL_ENGINE_ORACLE_ADDRESS")
	setInt64(&cfg.Engine.OwnerCommission, "BINARYPOOL_ENGINE_OWNER_COMMISSION")
	setInt64(&cfg.Engine.PoolOwnerCommission, "BINARYPOOL_ENGINE_POOL_OWNER_COMMISSION")
	setInt64(&cfg.Engine.DepositCommission, "BINARYPOOL_ENGINE_DEPOSIT_COMMISSION")
	setInt64(&cfg.Engine.CancelPenalty, "BINARYPOOL_ENGINE_CANCEL_PENALTY")
	setInt64(&cfg.Engine.MinimumDeposit, "BINARYPOOL_ENGINE_MINIMUM_DEPOSIT")
	setStr(&cfg.Engine.DepositAsset, "BINARYPOOL_ENGINE_DEPOSIT_ASSET")
	setInt64(&cfg.Engine.OracleFee, "BINARYPOOL_ENGINE_ORACLE_FEE")
	setStr(&cfg.Engine.OracleCallback, "BINARYPOOL_ENGINE_ORACLE_CALLBACK")
	setInt(&cfg.Engine.SettleBatchSize, "BINARYPOOL_ENGINE_SETTLE_BATCH_SIZE")
	setBool(&cfg.Engine.RequireDeposit, "BINARYPOOL_ENGINE_REQUIRE_DEPOSIT")
	setBool(&cfg.Engine.RouteDepositCommission, "BINARYPOOL_ENGINE_ROUTE_DEPOSIT_COMMISSION")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "BINARYPOOL_STORAGE_BACKEND")
	setStringSlice(&cfg.Storage.SeedBalances, "BINARYPOOL_STORAGE_SEED_BALANCES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BINARYPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // alias for hosted platforms
	setStr(&cfg.Postgres.Host, "BINARYPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BINARYPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BINARYPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BINARYPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BINARYPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BINARYPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BINARYPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BINARYPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BINARYPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BINARYPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BINARYPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BINARYPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BINARYPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BINARYPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BINARYPOOL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BINARYPOOL_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "BINARYPOOL_REDIS_CACHE_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.StartID, "BINARYPOOL_ORACLE_START_ID")
	setInt(&cfg.Oracle.BatchSize, "BINARYPOOL_ORACLE_BATCH_SIZE")
	setDuration(&cfg.Oracle.PollInterval, "BINARYPOOL_ORACLE_POLL_INTERVAL")
	setDuration(&cfg.Oracle.BlockTimeout, "BINARYPOOL_ORACLE_BLOCK_TIMEOUT")
	setDuration(&cfg.Oracle.ClaimTTL, "BINARYPOOL_ORACLE_CLAIM_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BINARYPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BINARYPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "BINARYPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BINARYPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BINARYPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BINARYPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BINARYPOOL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BINARYPOOL_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BINARYPOOL_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Lookback, "BINARYPOOL_ARCHIVE_LOOKBACK")

	// ── Server ──
	setInt(&cfg.Server.Port, "BINARYPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BINARYPOOL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BINARYPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BINARYPOOL_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureWindow, "BINARYPOOL_SERVER_SIGNATURE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BINARYPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BINARYPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BINARYPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BINARYPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BINARYPOOL_MODE")
	setStr(&cfg.LogLevel, "BINARYPOOL_LOG_LEVEL")
}

// Typed env helpers. Unset, empty or unparseable values leave dst alone.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
