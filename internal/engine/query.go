package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Retrieve returns the full pool record, reading through the cache when one
// is configured.
func (e *Engine) Retrieve(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	if e.cache != nil {
		pool, err := e.cache.Get(ctx, id)
		if err == nil {
			return pool, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "cache get failed",
				slog.String("pool_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	var pool domain.Pool
	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		pool, err = tx.Pools().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("engine: retrieve %s: %w", id.Hex(), err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, pool); err != nil {
			e.logger.WarnContext(ctx, "cache set failed",
				slog.String("pool_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return pool, nil
}

// ListOpen enumerates pools that are still Open.
func (e *Engine) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	return e.ListByStatus(ctx, domain.PoolStatusOpen, opts)
}

// ListByStatus enumerates pools in the given status.
func (e *Engine) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	var pools []domain.Pool
	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		pools, err = tx.Pools().ListByStatus(ctx, status, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine: list %s pools: %w", status, err)
	}
	return pools, nil
}

// Positions lists a pool's positions in player order.
func (e *Engine) Positions(ctx context.Context, id domain.PoolID, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Pools().Get(ctx, id); err != nil {
			return err
		}
		offset := max(opts.Offset, 0)
		limit := 0
		if opts.Limit > 0 {
			limit = offset + opts.Limit
		}
		positions, err := tx.Positions().Scan(ctx, id, nil, limit)
		if err != nil {
			return err
		}
		if offset >= len(positions) {
			return nil
		}
		out = positions[offset:]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: positions %s: %w", id.Hex(), err)
	}
	return out, nil
}
