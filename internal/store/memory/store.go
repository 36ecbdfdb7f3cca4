// Package memory implements the domain storage and token ledger interfaces in
// process. Transactions are serialised by a single mutex and run against a
// private copy of the state that replaces the live state only on success,
// which gives every engine operation all-or-nothing semantics.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

type balanceKey struct {
	asset domain.Asset
	addr  domain.Address
}

type state struct {
	pools     map[domain.PoolID]domain.Pool
	positions map[domain.PoolID]map[domain.Address]domain.Position
	balances  map[balanceKey]int64
	transfers []domain.Transfer
}

func newState() *state {
	return &state{
		pools:     make(map[domain.PoolID]domain.Pool),
		positions: make(map[domain.PoolID]map[domain.Address]domain.Position),
		balances:  make(map[balanceKey]int64),
	}
}

func (s *state) clone() *state {
	out := &state{
		pools:     make(map[domain.PoolID]domain.Pool, len(s.pools)),
		positions: make(map[domain.PoolID]map[domain.Address]domain.Position, len(s.positions)),
		balances:  make(map[balanceKey]int64, len(s.balances)),
		transfers: make([]domain.Transfer, len(s.transfers)),
	}
	for id, p := range s.pools {
		out.pools[id] = p.Clone()
	}
	for id, byPlayer := range s.positions {
		m := make(map[domain.Address]domain.Position, len(byPlayer))
		for addr, pos := range byPlayer {
			m[addr] = pos
		}
		out.positions[id] = m
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	copy(out.transfers, s.transfers)
	return out
}

// TransferHook can veto a transfer. Returning a non-nil error fails it.
type TransferHook func(t domain.Transfer) error

// Store is an in-memory TxRunner.
type Store struct {
	mu    sync.Mutex
	state *state
	hook  TransferHook
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// SetTransferHook installs a hook consulted before every transfer.
func (s *Store) SetTransferHook(h TransferHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// RunInTx implements domain.TxRunner.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work, hook: s.hook}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Credit mints amount of asset to addr outside any transaction. It exists to
// fund accounts in local runs and tests.
func (s *Store) Credit(asset domain.Asset, addr domain.Address, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.balances[balanceKey{asset, addr}] += amount
}

// Balance returns the committed balance of addr.
func (s *Store) Balance(asset domain.Asset, addr domain.Address) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[balanceKey{asset, addr}]
}

// Transfers returns a copy of the committed transfer journal.
func (s *Store) Transfers() []domain.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transfer, len(s.state.transfers))
	copy(out, s.state.transfers)
	return out
}

// tx binds the stores to one working copy of the state.
type tx struct {
	st   *state
	hook TransferHook
}

func (t *tx) Pools() domain.PoolStore         { return poolStore{t.st} }
func (t *tx) Positions() domain.PositionStore { return positionStore{t.st} }
func (t *tx) Tokens() domain.TokenLedger      { return ledger{st: t.st, hook: t.hook} }

type poolStore struct{ st *state }

func (s poolStore) Create(_ context.Context, p domain.Pool) error {
	if _, ok := s.st.pools[p.ID]; ok {
		return fmt.Errorf("memory: create pool %s: %w: already exists", p.ID.Hex(), domain.ErrInvalidInput)
	}
	s.st.pools[p.ID] = p.Clone()
	return nil
}

func (s poolStore) Update(_ context.Context, p domain.Pool) error {
	if _, ok := s.st.pools[p.ID]; !ok {
		return fmt.Errorf("memory: update pool %s: %w", p.ID.Hex(), domain.ErrNotFound)
	}
	s.st.pools[p.ID] = p.Clone()
	return nil
}

func (s poolStore) Get(_ context.Context, id domain.PoolID) (domain.Pool, error) {
	p, ok := s.st.pools[id]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: pool %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// GetForUpdate needs no extra locking: transactions are already serialised.
func (s poolStore) GetForUpdate(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	return s.Get(ctx, id)
}

func (s poolStore) ListByStatus(_ context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	var out []domain.Pool
	for _, p := range s.st.pools {
		if p.Status != status {
			continue
		}
		if opts.Since != nil && p.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.UpdatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

type positionStore struct{ st *state }

func (s positionStore) Put(_ context.Context, pos domain.Position) error {
	byPlayer, ok := s.st.positions[pos.PoolID]
	if !ok {
		byPlayer = make(map[domain.Address]domain.Position)
		s.st.positions[pos.PoolID] = byPlayer
	}
	byPlayer[pos.Player] = pos
	return nil
}

func (s positionStore) Get(_ context.Context, poolID domain.PoolID, player domain.Address) (domain.Position, error) {
	pos, ok := s.st.positions[poolID][player]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s/%s: %w", poolID.Hex(), player.Hex(), domain.ErrNotFound)
	}
	return pos, nil
}

func (s positionStore) Delete(_ context.Context, poolID domain.PoolID, player domain.Address) error {
	byPlayer := s.st.positions[poolID]
	if _, ok := byPlayer[player]; !ok {
		return fmt.Errorf("memory: delete position %s/%s: %w", poolID.Hex(), player.Hex(), domain.ErrNotFound)
	}
	delete(byPlayer, player)
	return nil
}

func (s positionStore) Scan(_ context.Context, poolID domain.PoolID, after *domain.Address, limit int) ([]domain.Position, error) {
	byPlayer := s.st.positions[poolID]
	out := make([]domain.Position, 0, len(byPlayer))
	for addr, pos := range byPlayer {
		if after != nil && bytes.Compare(addr[:], after[:]) <= 0 {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Player[:], out[j].Player[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ledger struct {
	st   *state
	hook TransferHook
}

func (l ledger) Transfer(_ context.Context, t domain.Transfer) error {
	if t.Amount < 0 {
		return fmt.Errorf("memory: transfer %d %s: %w: negative amount", t.Amount, t.Asset, domain.ErrTransferFailed)
	}
	if l.hook != nil {
		if err := l.hook(t); err != nil {
			return fmt.Errorf("memory: transfer %s: %w: %v", t.Memo, domain.ErrTransferFailed, err)
		}
	}

	from := balanceKey{t.Asset, t.From}
	if l.st.balances[from] < t.Amount {
		return fmt.Errorf("memory: transfer %d %s from %s: %w: insufficient balance",
			t.Amount, t.Asset, t.From.Hex(), domain.ErrTransferFailed)
	}
	l.st.balances[from] -= t.Amount
	l.st.balances[balanceKey{t.Asset, t.To}] += t.Amount
	l.st.transfers = append(l.st.transfers, t)
	return nil
}

func (l ledger) Balance(_ context.Context, asset domain.Asset, addr domain.Address) (int64, error) {
	return l.st.balances[balanceKey{asset, addr}], nil
}

// Compile-time interface checks.
var (
	_ domain.TxRunner      = (*Store)(nil)
	_ domain.PoolStore     = poolStore{}
	_ domain.PositionStore = positionStore{}
	_ domain.TokenLedger   = ledger{}
)

// ListFinalizedSince returns Canceled and Closed pools finalized at or after
// since, oldest first.
func (s *Store) ListFinalizedSince(_ context.Context, since time.Time, limit int) ([]domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Pool
	for _, p := range s.state.pools {
		if p.FinalizedAt == nil || p.FinalizedAt.Before(since) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FinalizedAt.Equal(*out[j].FinalizedAt) {
			return out[i].FinalizedAt.Before(*out[j].FinalizedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return paginate(out, domain.ListOpts{Limit: limit}), nil
}
