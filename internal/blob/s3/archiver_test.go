package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBlob) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

type fakePools []domain.Pool

func (f fakePools) ListFinalizedSince(_ context.Context, since time.Time, _ int) ([]domain.Pool, error) {
	var out []domain.Pool
	for _, p := range f {
		if p.FinalizedAt != nil && !p.FinalizedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakePositions map[domain.PoolID][]domain.Position

func (f fakePositions) Positions(_ context.Context, id domain.PoolID, _ domain.ListOpts) ([]domain.Position, error) {
	return f[id], nil
}

var (
	base   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	closed = common.HexToHash("0x01")
	cancel = common.HexToHash("0x02")
	open   = common.HexToHash("0x03")
	player = common.HexToAddress("0xa1")
)

func finished(id domain.PoolID, status domain.PoolStatus, at time.Time) domain.Pool {
	return domain.Pool{ID: id, Status: status, Margin: 100, Strike: "100", FinalizedAt: &at}
}

func newTestArchiver(blob *memBlob, audit domain.AuditStore) *Archiver {
	pools := fakePools{
		finished(closed, domain.PoolStatusClosed, base),
		finished(cancel, domain.PoolStatusCanceled, base.Add(time.Hour)),
		{ID: open, Status: domain.PoolStatusOpen},
	}
	positions := fakePositions{
		closed: {{PoolID: closed, Player: player, Side: domain.SideLong}},
	}
	a := NewArchiver(blob, blob, pools, positions, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	return a
}

func TestArchiveFinished(t *testing.T) {
	blob := newMemBlob()
	audit := memory.NewAuditLog()
	a := newTestArchiver(blob, audit)
	ctx := context.Background()

	n, err := a.ArchiveFinished(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ArchiveFinished: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d pools, want 2", n)
	}
	if ok, _ := blob.Exists(ctx, SnapshotPath(open)); ok {
		t.Error("open pool archived")
	}

	rc, err := blob.Get(ctx, SnapshotPath(closed))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Pool.ID != closed || len(snap.Positions) != 1 || snap.Positions[0].Player != player {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if !snap.ArchivedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("ArchivedAt = %v", snap.ArchivedAt)
	}

	entries, _ := audit.List(ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != "archive.pools" {
		t.Errorf("unexpected audit entries: %+v", entries)
	}
}

func TestArchiveFinished_SkipsArchived(t *testing.T) {
	blob := newMemBlob()
	a := newTestArchiver(blob, nil)
	ctx := context.Background()

	if _, err := a.ArchiveFinished(ctx, base.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	n, err := a.ArchiveFinished(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || blob.puts != 2 {
		t.Errorf("second run archived %d, total puts %d", n, blob.puts)
	}
}

func TestArchiveFinished_Since(t *testing.T) {
	blob := newMemBlob()
	a := newTestArchiver(blob, nil)

	n, err := a.ArchiveFinished(context.Background(), base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("archived %d, want 1", n)
	}
	if ok, _ := blob.Exists(context.Background(), SnapshotPath(cancel)); !ok {
		t.Error("canceled pool not archived")
	}
}

func TestArchiveFinished_UploadError(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("boom")
	a := newTestArchiver(blob, nil)

	n, err := a.ArchiveFinished(context.Background(), base.Add(-time.Hour))
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}
