package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/crypto"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Resolver is the engine callback the consumer delivers into.
type Resolver interface {
	OnResolutionDelivered(ctx context.Context, id domain.PoolID, requestID string, code int, payload string) error
}

// ConsumerConfig tunes the response consumer.
type ConsumerConfig struct {
	// StartID is the stream id to read after: "0" replays the stream, "$"
	// only sees new entries.
	StartID string
	// BatchSize is the number of entries read per poll.
	BatchSize int
	// PollInterval is the pause after an empty or failed read.
	PollInterval time.Duration
	// ClaimTTL is how long a processed entry stays claimed, which keeps other
	// replicas from delivering it again.
	ClaimTTL time.Duration
}

// Consumer reads signed oracle responses and hands them to the engine as
// invocations attributed to the recovered signer. The engine decides whether
// that signer is the trusted oracle.
type Consumer struct {
	bus      domain.SignalBus
	locks    domain.LockManager
	resolver Resolver
	cfg      ConsumerConfig
	logger   *slog.Logger
}

// NewConsumer creates a Consumer. locks may be nil when a single replica runs.
func NewConsumer(bus domain.SignalBus, locks domain.LockManager, resolver Resolver, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 24 * time.Hour
	}
	return &Consumer{
		bus:      bus,
		locks:    locks,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "oracle_consumer")),
	}
}

// tailReader is implemented by buses that can report a stream's newest entry.
type tailReader interface {
	StreamLastID(ctx context.Context, stream string) (string, error)
}

// Run polls the responses stream until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	lastID := c.cfg.StartID
	if lastID == "$" {
		lastID = c.tail(ctx)
	}
	c.logger.InfoContext(ctx, "consumer started", slog.String("start_id", lastID))

	for {
		if err := ctx.Err(); err != nil {
			c.logger.InfoContext(ctx, "consumer stopped")
			return nil
		}

		msgs, err := c.bus.StreamRead(ctx, domain.StreamOracleResponses, lastID, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
		}

		for _, msg := range msgs {
			c.Handle(ctx, msg)
			lastID = msg.ID
		}

		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				c.logger.InfoContext(ctx, "consumer stopped")
				return nil
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// tail pins "$" to a concrete id. A bare "$" would skip anything appended
// while the consumer sleeps between polls.
func (c *Consumer) tail(ctx context.Context) string {
	tr, ok := c.bus.(tailReader)
	if !ok {
		return "$"
	}
	id, err := tr.StreamLastID(ctx, domain.StreamOracleResponses)
	if err != nil {
		c.logger.WarnContext(ctx, "stream tail lookup failed", slog.String("error", err.Error()))
		return "$"
	}
	return id
}

// Handle processes one stream entry. Failures are logged and the entry is
// skipped; the oracle can re-send a corrected response.
func (c *Consumer) Handle(ctx context.Context, msg domain.StreamMessage) {
	log := c.logger.With(slog.String("message_id", msg.ID))

	if c.locks != nil {
		if _, err := c.locks.Acquire(ctx, "oracle:response:"+msg.ID, c.cfg.ClaimTTL); err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				log.WarnContext(ctx, "claim failed", slog.String("error", err.Error()))
			}
			return
		}
	}

	if err := c.deliver(ctx, msg.Payload); err != nil {
		log.ErrorContext(ctx, "delivery rejected", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "resolution delivered")
}

func (c *Consumer) deliver(ctx context.Context, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("oracle: decode response: %w", err)
	}
	if !isHash(resp.PoolID) {
		return fmt.Errorf("oracle: response %s: bad pool id %q", resp.RequestID, resp.PoolID)
	}
	signer, err := resp.Signer()
	if err != nil {
		return fmt.Errorf("oracle: response %s: %w", resp.RequestID, err)
	}

	hash, err := crypto.InvocationHash(resp.SigningPayload(), resp.Signature)
	if err != nil {
		return fmt.Errorf("oracle: response %s: %w", resp.RequestID, err)
	}

	ctx = auth.WithInvocation(ctx, auth.Invocation{Caller: signer, Hash: hash})
	return c.resolver.OnResolutionDelivered(ctx, common.HexToHash(resp.PoolID), resp.RequestID, resp.Code, resp.Payload)
}

func isHash(s string) bool {
	if len(s) != 2+2*common.HashLength || s[:2] != "0x" && s[:2] != "0X" {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
