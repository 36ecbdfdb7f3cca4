package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Ledger implements domain.TokenLedger over the balances table. Every
// transfer is appended to the transfers journal.
type Ledger struct {
	q querier
}

// NewLedger creates a Ledger that runs its statements on q.
func NewLedger(q querier) *Ledger {
	return &Ledger{q: q}
}

// Transfer debits From and credits To. The debit is guarded so a balance
// never goes negative; a short balance fails with ErrTransferFailed.
func (l *Ledger) Transfer(ctx context.Context, t domain.Transfer) error {
	if t.Amount < 0 {
		return fmt.Errorf("postgres: transfer %d %s: %w: negative amount", t.Amount, t.Asset, domain.ErrTransferFailed)
	}

	if t.Amount > 0 {
		tag, err := l.q.Exec(ctx, `
			UPDATE balances SET amount = amount - $3
			WHERE asset = $1 AND address = $2 AND amount >= $3`,
			int16(t.Asset), t.From.Bytes(), t.Amount,
		)
		if err != nil {
			return fmt.Errorf("postgres: debit %s: %w", t.From.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: transfer %d %s from %s: %w: insufficient balance",
				t.Amount, t.Asset, t.From.Hex(), domain.ErrTransferFailed)
		}
		if err := l.credit(ctx, t.Asset, t.To, t.Amount); err != nil {
			return err
		}
	}

	var poolID []byte
	if t.PoolID != (domain.PoolID{}) {
		poolID = t.PoolID.Bytes()
	}
	_, err := l.q.Exec(ctx, `
		INSERT INTO transfers (asset, from_addr, to_addr, amount, memo, pool_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int16(t.Asset), t.From.Bytes(), t.To.Bytes(), t.Amount, t.Memo, poolID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: journal transfer: %w", err)
	}
	return nil
}

// Balance returns the balance of addr, zero when it has none.
func (l *Ledger) Balance(ctx context.Context, asset domain.Asset, addr domain.Address) (int64, error) {
	var amount int64
	err := l.q.QueryRow(ctx, `SELECT amount FROM balances WHERE asset = $1 AND address = $2`,
		int16(asset), addr.Bytes(),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s %s: %w", asset, addr.Hex(), err)
	}
	return amount, nil
}

func (l *Ledger) credit(ctx context.Context, asset domain.Asset, addr domain.Address, amount int64) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO balances (asset, address, amount) VALUES ($1, $2, $3)
		ON CONFLICT (asset, address) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
		int16(asset), addr.Bytes(), amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.TokenLedger = (*Ledger)(nil)
