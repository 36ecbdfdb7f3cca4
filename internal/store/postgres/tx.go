package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// TxRunner implements domain.TxRunner with one pgx transaction per call.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a TxRunner on the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx begins a transaction, hands fn the stores bound to it and commits
// when fn returns nil. Any error rolls everything back, token transfers
// included.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, txStores{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type txStores struct{ q querier }

func (t txStores) Pools() domain.PoolStore         { return NewPoolStore(t.q) }
func (t txStores) Positions() domain.PositionStore { return NewPositionStore(t.q) }
func (t txStores) Tokens() domain.TokenLedger      { return NewLedger(t.q) }

var _ domain.TxRunner = (*TxRunner)(nil)
