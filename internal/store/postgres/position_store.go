package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// PositionStore implements domain.PositionStore. Players are stored as raw
// 20-byte values, so ORDER BY player matches byte-wise address order.
type PositionStore struct {
	q querier
}

// NewPositionStore creates a PositionStore that runs its statements on q.
func NewPositionStore(q querier) *PositionStore {
	return &PositionStore{q: q}
}

// Put inserts or replaces a position.
func (s *PositionStore) Put(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (pool_id, player, side, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool_id, player) DO UPDATE SET
			side       = EXCLUDED.side,
			created_at = EXCLUDED.created_at`

	_, err := s.q.Exec(ctx, query, pos.PoolID.Bytes(), pos.Player.Bytes(), int16(pos.Side), pos.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put position %s/%s: %w", pos.PoolID.Hex(), pos.Player.Hex(), err)
	}
	return nil
}

// Get returns the active position of player in a pool.
func (s *PositionStore) Get(ctx context.Context, poolID domain.PoolID, player domain.Address) (domain.Position, error) {
	const query = `SELECT pool_id, player, side, created_at FROM positions WHERE pool_id = $1 AND player = $2`

	pos, err := scanPosition(s.q.QueryRow(ctx, query, poolID.Bytes(), player.Bytes()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s/%s: %w", poolID.Hex(), player.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", poolID.Hex(), player.Hex(), err)
	}
	return pos, nil
}

// Delete removes a position.
func (s *PositionStore) Delete(ctx context.Context, poolID domain.PoolID, player domain.Address) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM positions WHERE pool_id = $1 AND player = $2`, poolID.Bytes(), player.Bytes())
	if err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", poolID.Hex(), player.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete position %s/%s: %w", poolID.Hex(), player.Hex(), domain.ErrNotFound)
	}
	return nil
}

// Scan pages through a pool's positions in player order using a keyset
// cursor.
func (s *PositionStore) Scan(ctx context.Context, poolID domain.PoolID, after *domain.Address, limit int) ([]domain.Position, error) {
	query := `SELECT pool_id, player, side, created_at FROM positions WHERE pool_id = $1`
	args := []any{poolID.Bytes()}
	if after != nil {
		args = append(args, after.Bytes())
		query += fmt.Sprintf(" AND player > $%d", len(args))
	}
	query += " ORDER BY player"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions %s: %w", poolID.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan positions %s rows: %w", poolID.Hex(), err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		pos            domain.Position
		poolID, player []byte
		side           int16
	)
	if err := row.Scan(&poolID, &player, &side, &pos.CreatedAt); err != nil {
		return domain.Position{}, err
	}
	pos.PoolID = common.BytesToHash(poolID)
	pos.Player = common.BytesToAddress(player)
	pos.Side = domain.Side(side)
	return pos, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
