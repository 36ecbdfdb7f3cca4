package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// FinishedPools lists pools that reached a terminal status.
type FinishedPools interface {
	ListFinalizedSince(ctx context.Context, since time.Time, limit int) ([]domain.Pool, error)
}

// PositionLister returns a pool's positions in player order.
type PositionLister interface {
	Positions(ctx context.Context, id domain.PoolID, opts domain.ListOpts) ([]domain.Position, error)
}

// Snapshot is the archived form of one finished pool.
type Snapshot struct {
	Pool       domain.Pool       `json:"pool"`
	Positions  []domain.Position `json:"positions"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// Archiver implements domain.Archiver. Each finished pool is written once to
// pools/<id>.json; pools already present in the bucket are skipped, so runs
// may overlap freely. The primary store is never pruned.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	pools     FinishedPools
	positions PositionLister
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	pools FinishedPools,
	positions PositionLister,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		pools:     pools,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SnapshotPath is the object key a pool is archived under.
func SnapshotPath(id domain.PoolID) string {
	return "pools/" + id.Hex() + ".json"
}

// ArchiveFinished uploads every pool finalized at or after since that is not
// yet archived, and returns how many it uploaded.
func (a *Archiver) ArchiveFinished(ctx context.Context, since time.Time) (int64, error) {
	pools, err := a.pools.ListFinalizedSince(ctx, since, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive list finished: %w", err)
	}

	var count int64
	for _, pool := range pools {
		path := SnapshotPath(pool.ID)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive %s: %w", pool.ID.Hex(), err)
		}
		if exists {
			continue
		}
		if err := a.archive(ctx, pool, path); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.pools", map[string]any{
			"count": count,
			"since": since.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

func (a *Archiver) archive(ctx context.Context, pool domain.Pool, path string) error {
	positions, err := a.positions.Positions(ctx, pool.ID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("s3blob: archive %s positions: %w", pool.ID.Hex(), err)
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	data, err := json.Marshal(Snapshot{Pool: pool, Positions: positions, ArchivedAt: a.now()})
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", pool.ID.Hex(), err)
	}

	if int64(len(data)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", pool.ID.Hex(), err)
	}

	a.logger.InfoContext(ctx, "pool archived",
		slog.String("pool_id", pool.ID.Hex()),
		slog.String("status", pool.Status.String()),
		slog.Int("positions", len(positions)),
	)
	return nil
}

var _ domain.Archiver = (*Archiver)(nil)
