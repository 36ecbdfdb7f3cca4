package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// PlaceBet debits the pool margin from player and records a position on side
// (0 short, 1 long).
func (e *Engine) PlaceBet(ctx context.Context, id domain.PoolID, player domain.Address, side int) error {
	s, err := domain.ParseSide(side)
	if err != nil {
		return fmt.Errorf("engine: place bet %s: %w", id.Hex(), err)
	}

	pool, err := e.mutate(ctx, "place bet", id, func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, player) {
			return fmt.Errorf("%w: caller is not %s", domain.ErrUnauthorized, player.Hex())
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if err := requireIdle(pool); err != nil {
			return err
		}
		if pool.Deposit == 0 {
			return fmt.Errorf("%w: pool owner has not posted a deposit", domain.ErrInvalidState)
		}
		now := e.clock.Now()
		if now.After(pool.Threshold) {
			return domain.ErrWindowClosed
		}

		if pool.TotalMargin > math.MaxInt64-pool.Margin {
			return fmt.Errorf("%w: pool margin total is at capacity", domain.ErrInvalidState)
		}

		_, err := tx.Positions().Get(ctx, pool.ID, player)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s already has an active bet", domain.ErrInvalidState, player.Hex())
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if err := e.transfer(ctx, tx, pool, pool.Asset, player, e.opts.ContractAddress, pool.Margin, "bet"); err != nil {
			return err
		}
		pool.AddCount(s, 1)
		pool.TotalMargin += pool.Margin
		return tx.Positions().Put(ctx, domain.Position{
			PoolID:    pool.ID,
			Player:    player,
			Side:      s,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.EventBetPlaced, id, map[string]any{
		"player": player.Hex(),
		"side":   s.String(),
		"asset":  pool.Asset.String(),
		"margin": pool.Margin,
	})
	return nil
}

// CancelBet withdraws player's active bet before the threshold. The refund is
// the margin less the cancel penalty, while TotalMargin drops by the full
// margin; the penalty stays in custody and is never distributed.
func (e *Engine) CancelBet(ctx context.Context, id domain.PoolID, player domain.Address) (int64, error) {
	var refund int64
	pool, err := e.mutate(ctx, "cancel bet", id, func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, player) {
			return fmt.Errorf("%w: caller is not %s", domain.ErrUnauthorized, player.Hex())
		}
		if err := requireOpen(pool); err != nil {
			return err
		}
		if err := requireIdle(pool); err != nil {
			return err
		}
		if e.clock.Now().After(pool.Threshold) {
			return domain.ErrWindowClosed
		}

		pos, err := tx.Positions().Get(ctx, pool.ID, player)
		if err != nil {
			return err
		}

		refund = pool.Margin - permille(pool.Margin, e.opts.CancelPenalty)
		if err := e.transfer(ctx, tx, pool, pool.Asset, e.opts.ContractAddress, player, refund, "bet canceled"); err != nil {
			return err
		}
		pool.AddCount(pos.Side, -1)
		pool.TotalMargin -= pool.Margin
		return tx.Positions().Delete(ctx, pool.ID, player)
	})
	if err != nil {
		return 0, err
	}
	e.emit(ctx, domain.EventBetCanceled, id, map[string]any{
		"player": player.Hex(),
		"asset":  pool.Asset.String(),
		"refund": refund,
	})
	return refund, nil
}
