package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists pool records keyed by PoolID.
type PoolStore interface {
	Create(ctx context.Context, pool Pool) error
	Update(ctx context.Context, pool Pool) error
	// Get returns ErrNotFound when the pool does not exist.
	Get(ctx context.Context, id PoolID) (Pool, error)
	// GetForUpdate is Get plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id PoolID) (Pool, error)
	ListByStatus(ctx context.Context, status PoolStatus, opts ListOpts) ([]Pool, error)
}

// PositionStore persists positions keyed by (PoolID, player).
type PositionStore interface {
	Put(ctx context.Context, pos Position) error
	// Get returns ErrNotFound when the player has no active position.
	Get(ctx context.Context, poolID PoolID, player Address) (Position, error)
	Delete(ctx context.Context, poolID PoolID, player Address) error
	// Scan returns up to limit positions of a pool ordered by player address,
	// starting strictly after the given player (nil starts from the first).
	// A limit <= 0 returns every remaining position.
	Scan(ctx context.Context, poolID PoolID, after *Address, limit int) ([]Position, error)
}

// Transfer is one entry of the token transfer journal.
type Transfer struct {
	Asset     Asset
	From      Address
	To        Address
	Amount    int64
	Memo      string
	PoolID    PoolID
	CreatedAt time.Time
}

// TokenLedger moves fungible tokens between addresses. A failed transfer
// returns an error wrapping ErrTransferFailed. Transfers share the atomicity of
// the transaction they were issued in.
type TokenLedger interface {
	Transfer(ctx context.Context, t Transfer) error
	Balance(ctx context.Context, asset Asset, addr Address) (int64, error)
}

// Tx is the set of stores bound to one all-or-nothing transaction.
type Tx interface {
	Pools() PoolStore
	Positions() PositionStore
	Tokens() TokenLedger
}

// TxRunner executes fn inside a transaction. If fn returns an error every
// write and transfer made through tx is discarded.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
