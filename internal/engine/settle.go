package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/decstr"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// SettleReport describes what one Settle call did.
type SettleReport struct {
	Asset      domain.Asset
	Settlement domain.Settlement
	// PaidNow is the number of winning positions paid by this call.
	PaidNow int64
	// Closed is true once the pool has been finalized.
	Closed bool
}

// Settle resolves the winning side and pays out the pool.
//
// The first call computes and pays, in order, the owner commission, the pool
// owner commission and the deposit refund, then fixes the per-winner payoff.
// Winning positions are paid in player order. With a positive
// SettleBatchSize each call pays at most one batch and the pool closes in the
// call that runs out of positions; otherwise one call settles everything.
// Integer division dust, and the whole pool when nobody picked the winning
// side, remains in custody.
func (e *Engine) Settle(ctx context.Context, id domain.PoolID) (SettleReport, error) {
	var report SettleReport
	pool, err := e.mutate(ctx, "settle", id, func(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
		if !auth.IsAuthorized(ctx, pool.Owner) {
			return fmt.Errorf("%w: only the pool owner can settle", domain.ErrUnauthorized)
		}
		if err := requireOpen(pool); err != nil {
			return err
		}

		if pool.Settlement == nil {
			if err := e.startSettlement(ctx, tx, pool); err != nil {
				return err
			}
		}

		paid, err := e.payWinners(ctx, tx, pool)
		if err != nil {
			return err
		}
		report.PaidNow = paid
		return nil
	})
	if err != nil {
		return SettleReport{}, err
	}

	report.Asset = pool.Asset
	report.Settlement = *pool.Settlement
	report.Closed = pool.Status == domain.PoolStatusClosed

	if report.Closed {
		e.emit(ctx, domain.EventPoolClosed, id, map[string]any{
			"asset":   pool.Asset.String(),
			"result":  pool.Settlement.Result.String(),
			"price":   pool.Settlement.Price,
			"payoff":  pool.Settlement.Payoff,
			"winners": pool.Settlement.Winners,
		})
	} else {
		e.emit(ctx, domain.EventSettlementProgress, id, map[string]any{
			"paid":    pool.Settlement.Paid,
			"winners": pool.Settlement.Winners,
		})
	}
	return report, nil
}

func (e *Engine) startSettlement(ctx context.Context, tx domain.Tx, pool *domain.Pool) error {
	switch {
	case pool.Resolution == nil:
		return domain.ErrOracleNotReady
	case pool.Resolution.Failed():
		return domain.ErrOracleFailed
	}

	price := pool.Resolution.Value
	result := domain.SideShort
	if decstr.GreaterOrEqual(price, pool.Strike) {
		result = domain.SideLong
	}

	s := &domain.Settlement{
		Result:    result,
		Price:     price,
		StartedAt: e.clock.Now(),
	}

	s.OwnerCommission = permille(pool.TotalMargin, e.opts.OwnerCommission)
	if err := e.transfer(ctx, tx, pool, pool.Asset, e.opts.ContractAddress, e.opts.ContractOwner, s.OwnerCommission, "owner commission"); err != nil {
		return err
	}
	s.PoolOwnerCommission = permille(pool.TotalMargin, e.opts.PoolOwnerCommission)
	if err := e.transfer(ctx, tx, pool, pool.Asset, e.opts.ContractAddress, pool.Owner, s.PoolOwnerCommission, "pool owner commission"); err != nil {
		return err
	}
	pool.TotalMargin -= s.OwnerCommission + s.PoolOwnerCommission
	s.Distributable = pool.TotalMargin

	s.DepositCommission = permille(pool.Deposit, e.opts.DepositCommission)
	s.DepositRefund = pool.Deposit - s.DepositCommission
	if err := e.transfer(ctx, tx, pool, e.opts.DepositAsset, e.opts.ContractAddress, pool.Owner, s.DepositRefund, "deposit refund"); err != nil {
		return err
	}
	if e.opts.RouteDepositCommission {
		if err := e.transfer(ctx, tx, pool, e.opts.DepositAsset, e.opts.ContractAddress, e.opts.ContractOwner, s.DepositCommission, "deposit commission"); err != nil {
			return err
		}
	}

	s.Winners = pool.Count(result)
	if s.Winners > 0 {
		s.Payoff = s.Distributable / s.Winners
	}
	pool.Settlement = s
	return nil
}

func (e *Engine) payWinners(ctx context.Context, tx domain.Tx, pool *domain.Pool) (int64, error) {
	s := pool.Settlement
	if s.Winners == 0 {
		e.close(pool)
		return 0, nil
	}

	batch := e.opts.SettleBatchSize
	positions, err := tx.Positions().Scan(ctx, pool.ID, s.Cursor, batch)
	if err != nil {
		return 0, err
	}

	var paid int64
	for _, pos := range positions {
		if pos.Side != s.Result {
			continue
		}
		if err := e.transfer(ctx, tx, pool, pool.Asset, e.opts.ContractAddress, pos.Player, s.Payoff, "payout"); err != nil {
			return 0, err
		}
		pool.TotalMargin -= s.Payoff
		s.Paid++
		paid++
	}

	if len(positions) > 0 {
		last := positions[len(positions)-1].Player
		s.Cursor = &last
	}
	if batch <= 0 || len(positions) < batch || s.Paid == s.Winners {
		e.close(pool)
	}
	return paid, nil
}

func (e *Engine) close(pool *domain.Pool) {
	now := e.clock.Now()
	result := pool.Settlement.Result
	pool.Status = domain.PoolStatusClosed
	pool.Result = &result
	pool.FinalizedAt = &now
}
