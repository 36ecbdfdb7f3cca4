// Package config defines the binarypool configuration and its validation.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by BINARYPOOL_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Oracle   OracleConfig   `toml:"oracle"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the pool engine constants. Rates are in permille and
// amounts in base units.
type EngineConfig struct {
	ContractAddress        string `toml:"contract_address"`
	ContractOwner          string `toml:"contract_owner"`
	OracleAddress          string `toml:"oracle_address"`
	OwnerCommission        int64  `toml:"owner_commission"`
	PoolOwnerCommission    int64  `toml:"pool_owner_commission"`
	DepositCommission      int64  `toml:"deposit_commission"`
	CancelPenalty          int64  `toml:"cancel_penalty"`
	MinimumDeposit         int64  `toml:"minimum_deposit"`
	DepositAsset           string `toml:"deposit_asset"`
	OracleFee              int64  `toml:"oracle_fee"`
	OracleCallback         string `toml:"oracle_callback"`
	SettleBatchSize        int    `toml:"settle_batch_size"`
	RequireDeposit         bool   `toml:"require_deposit"`
	RouteDepositCommission bool   `toml:"route_deposit_commission"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
	// SeedBalances funds accounts when the memory backend starts. Entries
	// are "ASSET:address:amount" with amount in base units.
	SeedBalances []string `toml:"seed_balances"`
}

// Seed is one parsed seed_balances entry.
type Seed struct {
	Asset   domain.Asset
	Address common.Address
	Amount  int64
}

// Seeds parses SeedBalances.
func (s StorageConfig) Seeds() ([]Seed, error) {
	out := make([]Seed, 0, len(s.SeedBalances))
	for _, entry := range s.SeedBalances {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("seed %q: want ASSET:address:amount", entry)
		}
		asset, ok := domain.AssetByName(parts[0])
		if !ok {
			return nil, fmt.Errorf("seed %q: unknown asset %q", entry, parts[0])
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("seed %q: %q is not a hex address", entry, parts[1])
		}
		amount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("seed %q: amount must be a positive integer", entry)
		}
		out = append(out, Seed{Asset: asset, Address: common.HexToAddress(parts[1]), Amount: amount})
	}
	return out, nil
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// OracleConfig tunes the oracle response consumer.
type OracleConfig struct {
	StartID      string   `toml:"start_id"`
	BatchSize    int      `toml:"batch_size"`
	PollInterval duration `toml:"poll_interval"`
	BlockTimeout duration `toml:"block_timeout"`
	ClaimTTL     duration `toml:"claim_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the finished-pool archiver.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// Lookback is how far back each run scans for finished pools.
	Lookback duration `toml:"lookback"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`

	// SignatureWindow is how far a signed request's timestamp may drift.
	SignatureWindow duration `toml:"signature_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with the production engine constants and local
// connection settings. Addresses are left empty and must be configured.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			OwnerCommission:     1,
			PoolOwnerCommission: 2,
			DepositCommission:   2,
			CancelPenalty:       3,
			MinimumDeposit:      1_0000_0000,
			DepositAsset:        "GAS",
			OracleFee:           1_0000_0000,
			OracleCallback:      "store",
		},
		Storage: StorageConfig{Backend: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "binarypool",
			User:          "binarypool",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "binarypool",
			CacheTTL:   duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			StartID:      "$",
			BatchSize:    50,
			PollInterval: duration{time.Second},
			BlockTimeout: duration{5 * time.Second},
			ClaimTTL:     duration{24 * time.Hour},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "binarypool-archive",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{10 * time.Minute},
			Lookback: duration{7 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},

			SignatureWindow: duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	errs = append(errs, checkAddress("engine: contract_address", e.ContractAddress, true)...)
	errs = append(errs, checkAddress("engine: contract_owner", e.ContractOwner, false)...)
	errs = append(errs, checkAddress("engine: oracle_address", e.OracleAddress, true)...)
	for name, rate := range map[string]int64{
		"owner_commission":      e.OwnerCommission,
		"pool_owner_commission": e.PoolOwnerCommission,
		"deposit_commission":    e.DepositCommission,
		"cancel_penalty":        e.CancelPenalty,
	} {
		if rate < 0 || rate > 1000 {
			errs = append(errs, fmt.Sprintf("engine: %s must be 0-1000 permille, got %d", name, rate))
		}
	}
	if e.OwnerCommission+e.PoolOwnerCommission > 1000 {
		errs = append(errs, "engine: owner_commission + pool_owner_commission must not exceed 1000")
	}
	if e.MinimumDeposit <= 0 {
		errs = append(errs, "engine: minimum_deposit must be > 0")
	}
	if _, ok := domain.AssetByName(e.DepositAsset); !ok {
		errs = append(errs, fmt.Sprintf("engine: deposit_asset must be NEO or GAS, got %q", e.DepositAsset))
	}
	if e.OracleFee < 0 {
		errs = append(errs, "engine: oracle_fee must be >= 0")
	}
	if e.SettleBatchSize < 0 {
		errs = append(errs, "engine: settle_batch_size must be >= 0")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if _, err := c.Storage.Seeds(); err != nil {
			errs = append(errs, "storage: "+err.Error())
		}
	case "postgres":
		if len(c.Storage.SeedBalances) > 0 {
			errs = append(errs, "storage: seed_balances is only supported by the memory backend")
		}
		p := c.Postgres
		if strings.TrimSpace(p.DSN) == "" {
			if p.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if p.Port <= 0 || p.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", p.Port))
			}
			if p.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if p.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if p.PoolMinConns < 0 || p.PoolMinConns > p.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: backend must be memory or postgres, got %q", c.Storage.Backend))
	}

	// Redis carries oracle traffic in every mode.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Oracle
	if c.Oracle.BatchSize < 1 {
		errs = append(errs, "oracle: batch_size must be >= 1")
	}
	if c.Oracle.PollInterval.Duration <= 0 {
		errs = append(errs, "oracle: poll_interval must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Lookback.Duration <= 0 {
			errs = append(errs, "archive: lookback must be > 0")
		}
	}

	// Server
	if c.Mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.SignatureWindow.Duration <= 0 {
			errs = append(errs, "server: signature_window must be > 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(field, value string, required bool) []string {
	switch {
	case value == "" && required:
		return []string{field + " must be set"}
	case value == "":
		return nil
	case !common.IsHexAddress(value):
		return []string{fmt.Sprintf("%s %q is not a hex address", field, value)}
	case common.HexToAddress(value) == (common.Address{}):
		return []string{field + " must not be the zero address"}
	}
	return nil
}
