// Package engine implements the pool lifecycle, betting ledger, oracle
// resolution adapter and settlement engine. Every public operation runs as a
// single transaction on the injected domain.TxRunner: all of its state writes
// and token transfers commit together or not at all. Events, audit entries,
// cache invalidation and notifications are emitted only after commit.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Rates are expressed in permille (parts per 1000).
const rateDenominator = 1000

// permille returns amount*rate/1000 rounded down. The product is taken in 256
// bits, so it cannot wrap for any int64 amount; with 0 <= rate <= 1000 the
// result never exceeds amount.
func permille(amount, rate int64) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}
	x := uint256.NewInt(uint64(amount))
	x.Mul(x, uint256.NewInt(uint64(rate)))
	x.Div(x, uint256.NewInt(rateDenominator))
	return int64(x.Uint64())
}

// Options are the engine-wide constants.
type Options struct {
	// ContractAddress is the custody account holding every pool's margin and
	// deposit.
	ContractAddress domain.Address
	// ContractOwner receives the owner commission.
	ContractOwner domain.Address
	// OracleAddress is the only identity allowed to deliver resolutions.
	OracleAddress domain.Address

	OwnerCommission     int64
	PoolOwnerCommission int64
	DepositCommission   int64
	CancelPenalty       int64

	MinimumDeposit int64
	DepositAsset   domain.Asset

	OracleFee      int64
	OracleCallback string

	// SettleBatchSize bounds the positions paid per Settle call. Zero settles
	// a pool in one call.
	SettleBatchSize int
	// RequireDeposit makes the deposit mandatory at Init.
	RequireDeposit bool
	// RouteDepositCommission pays the deposit commission to ContractOwner
	// instead of leaving it in custody.
	RouteDepositCommission bool
}

// DefaultOptions returns the production constants. Addresses are left zero and
// must be configured.
func DefaultOptions() Options {
	return Options{
		OwnerCommission:     1,
		PoolOwnerCommission: 2,
		DepositCommission:   2,
		CancelPenalty:       3,
		MinimumDeposit:      1_0000_0000,
		DepositAsset:        domain.AssetGAS,
		OracleFee:           1_0000_0000,
		OracleCallback:      "store",
	}
}

// Validate checks the options for obviously broken values.
func (o Options) Validate() error {
	zero := domain.Address{}
	switch {
	case o.ContractAddress == zero:
		return fmt.Errorf("engine: contract address is required")
	case o.OracleAddress == zero:
		return fmt.Errorf("engine: oracle address is required")
	case o.OwnerCommission < 0 || o.PoolOwnerCommission < 0 || o.DepositCommission < 0 || o.CancelPenalty < 0:
		return fmt.Errorf("engine: rates must be non-negative")
	case o.OwnerCommission+o.PoolOwnerCommission > rateDenominator:
		return fmt.Errorf("engine: commissions exceed %d permille", rateDenominator)
	case o.DepositCommission > rateDenominator || o.CancelPenalty > rateDenominator:
		return fmt.Errorf("engine: deposit commission and cancel penalty must not exceed %d permille", rateDenominator)
	case o.MinimumDeposit <= 0:
		return fmt.Errorf("engine: minimum deposit must be positive")
	case o.SettleBatchSize < 0:
		return fmt.Errorf("engine: settle batch size must be non-negative")
	}
	return nil
}

// Notifier receives pool events after commit.
type Notifier interface {
	PoolEvent(ctx context.Context, ev domain.PoolEvent) error
}

// Deps are the collaborators of the engine. Tx and Oracle are required; the
// rest are optional.
type Deps struct {
	Tx       domain.TxRunner
	Oracle   domain.OracleService
	Clock    domain.Clock
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Cache    domain.PoolCache
	Notifier Notifier
	Logger   *slog.Logger
}

// Engine is the pool engine.
type Engine struct {
	opts     Options
	tx       domain.TxRunner
	oracle   domain.OracleService
	clock    domain.Clock
	bus      domain.SignalBus
	audit    domain.AuditStore
	cache    domain.PoolCache
	notifier Notifier
	logger   *slog.Logger
}

// New creates an Engine.
func New(opts Options, deps Deps) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("engine: transaction runner is required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("engine: oracle service is required")
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		tx:       deps.Tx,
		oracle:   deps.Oracle,
		clock:    deps.Clock,
		bus:      deps.Bus,
		audit:    deps.Audit,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		logger:   deps.Logger.With(slog.String("component", "engine")),
	}, nil
}

// Options returns the engine constants.
func (e *Engine) Options() Options { return e.opts }

// mutate loads a pool for update, applies fn and writes the pool back, all in
// one transaction. The cached view is dropped after commit.
func (e *Engine) mutate(ctx context.Context, op string, id domain.PoolID,
	fn func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error,
) (domain.Pool, error) {
	var out domain.Pool
	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		pool, err := tx.Pools().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &pool); err != nil {
			return err
		}
		pool.UpdatedAt = e.clock.Now()
		if err := tx.Pools().Update(ctx, pool); err != nil {
			return err
		}
		out = pool
		return nil
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("engine: %s %s: %w", op, id.Hex(), err)
	}
	e.invalidate(ctx, id)
	return out, nil
}

// transfer moves amount of asset out of or into custody. Zero amounts are
// still recorded so the journal mirrors every payment step.
func (e *Engine) transfer(ctx context.Context, tx domain.Tx, pool *domain.Pool, asset domain.Asset,
	from, to domain.Address, amount int64, memo string,
) error {
	return tx.Tokens().Transfer(ctx, domain.Transfer{
		Asset:     asset,
		From:      from,
		To:        to,
		Amount:    amount,
		Memo:      memo,
		PoolID:    pool.ID,
		CreatedAt: e.clock.Now(),
	})
}

func requireOpen(pool *domain.Pool) error {
	if pool.Status != domain.PoolStatusOpen {
		return fmt.Errorf("%w (status %s)", domain.ErrPoolNotOpen, pool.Status)
	}
	return nil
}

func requireIdle(pool *domain.Pool) error {
	if pool.Settling() {
		return fmt.Errorf("%w: settlement in progress", domain.ErrInvalidState)
	}
	return nil
}
