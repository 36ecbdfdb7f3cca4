package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/binarypool/internal/blob/s3"
	"github.com/alanyoungcy/binarypool/internal/cache/redis"
	"github.com/alanyoungcy/binarypool/internal/config"
	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/engine"
	"github.com/alanyoungcy/binarypool/internal/notify"
	"github.com/alanyoungcy/binarypool/internal/oracle"
	"github.com/alanyoungcy/binarypool/internal/server/handler"
	"github.com/alanyoungcy/binarypool/internal/store/memory"
	"github.com/alanyoungcy/binarypool/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is built by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Tx       domain.TxRunner
	Audit    domain.AuditStore
	Finished s3blob.FinishedPools

	// Redis
	SignalBus   domain.SignalBus
	PoolCache   domain.PoolCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	Engine     *engine.Engine
	Dispatcher *oracle.Dispatcher
	Notifier   *notify.Notifier

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	// Checks back GET /health.
	Checks map[string]handler.Checker
}

// Wire constructs the concrete dependencies for cfg. The cleanup function
// releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Storage ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Tx = postgres.NewTxRunner(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Finished = postgres.NewPoolStore(pool)
		deps.Checks["postgres"] = pool.Ping
	default:
		logger.WarnContext(ctx, "using in-memory storage; state is lost on exit")
		store := memory.New()
		seeds, err := cfg.Storage.Seeds()
		if err != nil {
			return fail(fmt.Errorf("wire: storage: %w", err))
		}
		for _, seed := range seeds {
			store.Credit(seed.Asset, seed.Address, seed.Amount)
		}
		deps.Tx = store
		deps.Audit = memory.NewAuditLog()
		deps.Finished = store
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Oracle.BlockTimeout.Duration)
	deps.PoolCache = redis.NewPoolCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	opts, err := engineOptions(cfg.Engine)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Dispatcher = oracle.NewDispatcher(deps.SignalBus, logger)
	deps.Engine, err = engine.New(opts, engine.Deps{
		Tx:       deps.Tx,
		Oracle:   deps.Dispatcher,
		Bus:      deps.SignalBus,
		Audit:    deps.Audit,
		Cache:    deps.PoolCache,
		Notifier: deps.Notifier,
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Finished,
			deps.Engine,
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

// engineOptions converts the engine section into engine.Options.
func engineOptions(c config.EngineConfig) (engine.Options, error) {
	asset, ok := domain.AssetByName(c.DepositAsset)
	if !ok {
		return engine.Options{}, fmt.Errorf("unknown deposit asset %q", c.DepositAsset)
	}
	// Without an owner the owner commission stays in custody.
	owner := c.ContractOwner
	if owner == "" {
		owner = c.ContractAddress
	}
	return engine.Options{
		ContractAddress:        common.HexToAddress(c.ContractAddress),
		ContractOwner:          common.HexToAddress(owner),
		OracleAddress:          common.HexToAddress(c.OracleAddress),
		OwnerCommission:        c.OwnerCommission,
		PoolOwnerCommission:    c.PoolOwnerCommission,
		DepositCommission:      c.DepositCommission,
		CancelPenalty:          c.CancelPenalty,
		MinimumDeposit:         c.MinimumDeposit,
		DepositAsset:           asset,
		OracleFee:              c.OracleFee,
		OracleCallback:         c.OracleCallback,
		SettleBatchSize:        c.SettleBatchSize,
		RequireDeposit:         c.RequireDeposit,
		RouteDepositCommission: c.RouteDepositCommission,
	}, nil
}
