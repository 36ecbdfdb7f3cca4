package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/decstr"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// InitParams describes a new pool.
type InitParams struct {
	Owner       domain.Address
	Asset       int
	FeedURL     string
	FeedFilter  string
	Margin      int64
	Expiry      time.Time
	Threshold   time.Time
	Strike      string
	Description string
	// Deposit is optional unless Options.RequireDeposit is set. It is taken
	// in Options.DepositAsset.
	Deposit int64
}

// Init creates an Open pool owned by p.Owner and returns its identifier, which
// is the hash of the creating invocation.
func (e *Engine) Init(ctx context.Context, p InitParams) (domain.PoolID, error) {
	if !auth.IsAuthorized(ctx, p.Owner) {
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: caller is not %s", domain.ErrUnauthorized, p.Owner.Hex())
	}
	inv, _ := auth.FromContext(ctx)
	if inv.Hash == (domain.PoolID{}) {
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: invocation has no hash", domain.ErrInvalidInput)
	}

	asset, err := domain.ParseAsset(p.Asset)
	if err != nil {
		return domain.PoolID{}, fmt.Errorf("engine: init: %w", err)
	}

	now := e.clock.Now()
	expiry := p.Expiry.UTC()
	threshold := p.Threshold.UTC()

	switch {
	case p.Margin <= 0:
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: margin must be positive", domain.ErrInvalidInput)
	case !expiry.After(now):
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: expiry must be in the future", domain.ErrInvalidInput)
	case !threshold.Before(expiry):
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: threshold must be before expiry", domain.ErrInvalidInput)
	case !decstr.Valid(p.Strike):
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: strike %q is not a decimal", domain.ErrInvalidInput, p.Strike)
	case p.Deposit < 0:
		return domain.PoolID{}, fmt.Errorf("engine: init: %w: negative deposit", domain.ErrInvalidInput)
	}

	withDeposit := p.Deposit > 0 || e.opts.RequireDeposit
	if withDeposit {
		if threshold.Before(now) {
			return domain.PoolID{}, fmt.Errorf("engine: init: %w: threshold is in the past", domain.ErrInvalidInput)
		}
		if p.Deposit < e.opts.MinimumDeposit {
			return domain.PoolID{}, fmt.Errorf("engine: init: %w: deposit %d below minimum %d",
				domain.ErrInvalidInput, p.Deposit, e.opts.MinimumDeposit)
		}
	}

	pool := domain.Pool{
		ID:          inv.Hash,
		Owner:       p.Owner,
		Asset:       asset,
		FeedURL:     p.FeedURL,
		FeedFilter:  p.FeedFilter,
		Description: p.Description,
		Margin:      p.Margin,
		Expiry:      expiry,
		Threshold:   threshold,
		Strike:      p.Strike,
		Deposit:     p.Deposit,
		Status:      domain.PoolStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = e.tx.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Pools().Create(ctx, pool); err != nil {
			return err
		}
		if pool.Deposit > 0 {
			return e.transfer(ctx, tx, &pool, e.opts.DepositAsset, pool.Owner, e.opts.ContractAddress, pool.Deposit, "deposit")
		}
		return nil
	})
	if err != nil {
		return domain.PoolID{}, fmt.Errorf("engine: init %s: %w", pool.ID.Hex(), err)
	}

	e.emit(ctx, domain.EventPoolCreated, pool.ID, map[string]any{
		"asset":   asset.String(),
		"margin":  pool.Margin,
		"strike":  pool.Strike,
		"expiry":  pool.Expiry.Unix(),
		"deposit": pool.Deposit,
	})
	return pool.ID, nil
}

// Deposit posts the owner's deposit on a pool created without one. Betting
// opens once a deposit is on record.
func (e *Engine) Deposit(ctx context.Context, id domain.PoolID, amount int64) error {
	_, err := e.mutate(ctx, "deposit", id, func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, pool.Owner) {
			return fmt.Errorf("%w: only the pool owner can deposit", domain.ErrUnauthorized)
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if pool.Deposit > 0 {
			return fmt.Errorf("%w: deposit already posted", domain.ErrInvalidState)
		}
		if e.clock.Now().After(pool.Threshold) {
			return domain.ErrWindowClosed
		}
		if amount < e.opts.MinimumDeposit {
			return fmt.Errorf("%w: deposit %d below minimum %d", domain.ErrInvalidInput, amount, e.opts.MinimumDeposit)
		}
		pool.Deposit = amount
		return e.transfer(ctx, tx, pool, e.opts.DepositAsset, pool.Owner, e.opts.ContractAddress, amount, "deposit")
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.EventDepositPosted, id, map[string]any{
		"asset":  e.opts.DepositAsset.String(),
		"amount": amount,
	})
	return nil
}

// Cancel refunds the full margin of every active position and moves the pool
// to Canceled. The owner's deposit stays in custody.
func (e *Engine) Cancel(ctx context.Context, id domain.PoolID) error {
	var refunded int
	_, err := e.mutate(ctx, "cancel", id, func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, pool.Owner) {
			return fmt.Errorf("%w: only the pool owner can cancel", domain.ErrUnauthorized)
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if err := requireIdle(pool); err != nil {
			return err
		}

		positions, err := tx.Positions().Scan(ctx, pool.ID, nil, 0)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if err := e.transfer(ctx, tx, pool, pool.Asset, e.opts.ContractAddress, pos.Player, pool.Margin, "pool canceled"); err != nil {
				return err
			}
		}
		refunded = len(positions)

		now := e.clock.Now()
		pool.Status = domain.PoolStatusCanceled
		pool.FinalizedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.EventPoolCanceled, id, map[string]any{"refunded": refunded})
	return nil
}

// RequestResolution asks the oracle for the pool's resolution price. It
// returns once the request is dispatched; the value arrives later through
// OnResolutionDelivered. It may be repeated until a valid price is stored; each
// repeat supersedes the outstanding request, so a late answer to an earlier
// one is rejected.
func (e *Engine) RequestResolution(ctx context.Context, id domain.PoolID) (string, error) {
	requestID := uuid.NewString()
	_, err := e.mutate(ctx, "request resolution", id, func(ctx context.Context, _ domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, pool.Owner) {
			return fmt.Errorf("%w: only the pool owner can request resolution", domain.ErrUnauthorized)
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if now := e.clock.Now(); now.Before(pool.Expiry) {
			return fmt.Errorf("%w: pool expires at %s", domain.ErrNotYetReady, pool.Expiry.Format(time.RFC3339))
		}
		if pool.Resolution != nil && !pool.Resolution.Failed() {
			return fmt.Errorf("%w: pool already resolved", domain.ErrInvalidState)
		}

		err := e.oracle.Request(ctx, domain.OracleResolutionRequest{
			ID:       requestID,
			URL:      pool.FeedURL,
			Filter:   pool.FeedFilter,
			Callback: e.opts.OracleCallback,
			PoolID:   pool.ID,
			Fee:      e.opts.OracleFee,
		})
		if err != nil {
			return fmt.Errorf("%w: oracle request: %v", domain.ErrUpstreamFailure, err)
		}

		// A failed earlier delivery is discarded so Settle waits for the new one.
		pool.Resolution = nil
		pool.OracleRequest = &domain.OracleRequest{ID: requestID, RequestedAt: e.clock.Now()}
		return nil
	})
	if err != nil {
		return "", err
	}
	e.emit(ctx, domain.EventResolutionRequest, id, map[string]any{"request_id": requestID})
	return requestID, nil
}
