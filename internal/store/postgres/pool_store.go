package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

const uniqueViolation = "23505"

const poolColumns = `
	id, owner, asset, feed_url, feed_filter, description,
	margin, total_margin, expiry, threshold, strike, deposit,
	status, long_count, short_count,
	resolution_value, resolution_at, oracle_request_id, oracle_requested_at,
	settlement, result, created_at, updated_at, finalized_at`

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	q querier
}

// NewPoolStore creates a PoolStore that runs its statements on q, which may
// be a pool or a transaction.
func NewPoolStore(q querier) *PoolStore {
	return &PoolStore{q: q}
}

// Create inserts a new pool. An existing id is reported as ErrInvalidInput.
func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	args, err := poolArgs(p)
	if err != nil {
		return fmt.Errorf("postgres: create pool %s: %w", p.ID.Hex(), err)
	}
	query := `INSERT INTO pools (` + poolColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24)`

	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create pool %s: %w: already exists", p.ID.Hex(), domain.ErrInvalidInput)
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID.Hex(), err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing pool.
func (s *PoolStore) Update(ctx context.Context, p domain.Pool) error {
	args, err := poolArgs(p)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID.Hex(), err)
	}
	const query = `
		UPDATE pools SET
			total_margin        = $2,
			deposit             = $3,
			status              = $4,
			long_count          = $5,
			short_count         = $6,
			resolution_value    = $7,
			resolution_at       = $8,
			oracle_request_id   = $9,
			oracle_requested_at = $10,
			settlement          = $11,
			result              = $12,
			updated_at          = $13,
			finalized_at        = $14
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		args[0], args[7], args[11], args[12], args[13], args[14],
		args[15], args[16], args[17], args[18], args[19], args[20],
		args[22], args[23],
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID.Hex(), domain.ErrNotFound)
	}
	return nil
}

// Get returns the pool with the given id.
func (s *PoolStore) Get(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate is Get plus a row lock held until the transaction ends.
func (s *PoolStore) GetForUpdate(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *PoolStore) get(ctx context.Context, id domain.PoolID, suffix string) (domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE id = $1` + suffix
	p, err := scanPool(s.q.QueryRow(ctx, query, id.Bytes()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, fmt.Errorf("postgres: pool %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id.Hex(), err)
	}
	return p, nil
}

// ListByStatus returns pools in the given status, newest first. Since and
// Until filter on updated_at.
func (s *PoolStore) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	query, args := appendListOpts(
		`SELECT `+poolColumns+` FROM pools WHERE status = $1`, []any{int16(status)},
		"updated_at", "created_at DESC, id", opts,
	)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s pools: %w", status, err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s pools rows: %w", status, err)
	}
	return out, nil
}

// ListFinalizedSince returns Canceled and Closed pools finalized at or after
// since, oldest first. It backs the archiver.
func (s *PoolStore) ListFinalizedSince(ctx context.Context, since time.Time, limit int) ([]domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools
		WHERE finalized_at IS NOT NULL AND finalized_at >= $1
		ORDER BY finalized_at, id`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized pools: %w", err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func poolArgs(p domain.Pool) ([]any, error) {
	var (
		resValue   *string
		resAt      *time.Time
		reqID      *string
		reqAt      *time.Time
		settlement []byte
		result     *int16
	)
	if p.Resolution != nil {
		resValue = &p.Resolution.Value
		resAt = &p.Resolution.DeliveredAt
	}
	if p.OracleRequest != nil {
		reqID = &p.OracleRequest.ID
		reqAt = &p.OracleRequest.RequestedAt
	}
	if p.Settlement != nil {
		b, err := json.Marshal(p.Settlement)
		if err != nil {
			return nil, fmt.Errorf("marshal settlement: %w", err)
		}
		settlement = b
	}
	if p.Result != nil {
		r := int16(*p.Result)
		result = &r
	}

	return []any{
		p.ID.Bytes(), p.Owner.Bytes(), int16(p.Asset), p.FeedURL, p.FeedFilter, p.Description,
		p.Margin, p.TotalMargin, p.Expiry, p.Threshold, p.Strike, p.Deposit,
		int16(p.Status), p.LongCount, p.ShortCount,
		resValue, resAt, reqID, reqAt,
		settlement, result, p.CreatedAt, p.UpdatedAt, p.FinalizedAt,
	}, nil
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var (
		p               domain.Pool
		id, owner       []byte
		asset, status   int16
		resValue, reqID *string
		resAt, reqAt    *time.Time
		settlement      []byte
		result          *int16
	)
	err := row.Scan(
		&id, &owner, &asset, &p.FeedURL, &p.FeedFilter, &p.Description,
		&p.Margin, &p.TotalMargin, &p.Expiry, &p.Threshold, &p.Strike, &p.Deposit,
		&status, &p.LongCount, &p.ShortCount,
		&resValue, &resAt, &reqID, &reqAt,
		&settlement, &result, &p.CreatedAt, &p.UpdatedAt, &p.FinalizedAt,
	)
	if err != nil {
		return domain.Pool{}, err
	}

	p.ID = common.BytesToHash(id)
	p.Owner = common.BytesToAddress(owner)
	p.Asset = domain.Asset(asset)
	p.Status = domain.PoolStatus(status)
	p.Expiry = p.Expiry.UTC()
	p.Threshold = p.Threshold.UTC()

	if resValue != nil {
		r := domain.Resolution{Value: *resValue}
		if resAt != nil {
			r.DeliveredAt = resAt.UTC()
		}
		p.Resolution = &r
	}
	if reqID != nil {
		r := domain.OracleRequest{ID: *reqID}
		if reqAt != nil {
			r.RequestedAt = reqAt.UTC()
		}
		p.OracleRequest = &r
	}
	if settlement != nil {
		var st domain.Settlement
		if err := json.Unmarshal(settlement, &st); err != nil {
			return domain.Pool{}, fmt.Errorf("unmarshal settlement: %w", err)
		}
		p.Settlement = &st
	}
	if result != nil {
		side := domain.Side(*result)
		p.Result = &side
	}
	return p, nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
