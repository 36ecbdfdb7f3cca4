package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/decstr"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// OnResolutionDelivered records the oracle's answer for a pool. Only the
// configured oracle identity may call it, and only for the request currently
// outstanding on the pool. Each request accepts a single delivery; a later
// answer needs a new RequestResolution. A non-success code, or a payload that
// does not reduce to a decimal string, is stored as the error sentinel.
func (e *Engine) OnResolutionDelivered(ctx context.Context, id domain.PoolID, requestID string, code int, payload string) error {
	if !auth.IsAuthorized(ctx, e.opts.OracleAddress) {
		return fmt.Errorf("engine: resolution %s: %w: caller is not the oracle", id.Hex(), domain.ErrUnauthorized)
	}

	value := domain.ResolutionError
	if code == domain.OracleResponseSuccess {
		if v := unwrapPayload(payload); decstr.Valid(v) {
			value = v
		}
	}

	_, err := e.mutate(ctx, "resolution", id, func(_ context.Context, _ domain.Tx, pool *domain.Pool) error {
		if err := requireOpen(pool); err != nil {
			return err
		}
		if err := requireIdle(pool); err != nil {
			return err
		}
		switch {
		case pool.OracleRequest == nil:
			return fmt.Errorf("%w: no resolution was requested", domain.ErrInvalidState)
		case pool.OracleRequest.ID != requestID:
			return fmt.Errorf("%w: response to %q, outstanding request is %q",
				domain.ErrInvalidState, requestID, pool.OracleRequest.ID)
		case pool.Resolution != nil:
			return fmt.Errorf("%w: request %s already answered", domain.ErrInvalidState, requestID)
		}
		pool.Resolution = &domain.Resolution{Value: value, DeliveredAt: e.clock.Now()}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx, domain.EventResolutionReceived, id, map[string]any{
		"request_id": requestID,
		"code":       code,
		"value":      value,
	})
	return nil
}

// unwrapPayload removes the JSON-path result wrapping around a single value,
// turning `["123.45"]` or `[123.45]` into `123.45`.
func unwrapPayload(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}
