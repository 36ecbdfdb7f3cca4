package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Dispatcher implements domain.OracleService by appending requests to the
// oracle requests stream. It never waits for the answer.
type Dispatcher struct {
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a Dispatcher publishing on bus.
func NewDispatcher(bus domain.SignalBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:    bus,
		logger: logger.With(slog.String("component", "oracle_dispatcher")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Request appends req to the requests stream.
func (d *Dispatcher) Request(ctx context.Context, req domain.OracleResolutionRequest) error {
	payload, err := json.Marshal(Request{
		ID:          req.ID,
		URL:         req.URL,
		Filter:      req.Filter,
		Callback:    req.Callback,
		PoolID:      req.PoolID.Hex(),
		Fee:         req.Fee,
		RequestedAt: d.now(),
	})
	if err != nil {
		return fmt.Errorf("oracle: marshal request %s: %w", req.ID, err)
	}
	if err := d.bus.StreamAppend(ctx, domain.StreamOracleRequests, payload); err != nil {
		return fmt.Errorf("oracle: dispatch request %s: %w", req.ID, err)
	}

	d.logger.DebugContext(ctx, "request dispatched",
		slog.String("request_id", req.ID),
		slog.String("pool_id", req.PoolID.Hex()),
	)
	return nil
}

var _ domain.OracleService = (*Dispatcher)(nil)
