package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/domain"
)

// emit publishes a committed state change. Every sink is best effort: a
// failure is logged and never reported to the caller, whose operation has
// already committed.
func (e *Engine) emit(ctx context.Context, typ domain.EventType, id domain.PoolID, detail map[string]any) {
	ev := domain.PoolEvent{
		Type:       typ,
		PoolID:     id.Hex(),
		Detail:     detail,
		OccurredAt: e.clock.Now(),
	}
	if inv, ok := auth.FromContext(ctx); ok {
		ev.Actor = inv.Caller.Hex()
	}

	e.logger.InfoContext(ctx, string(typ),
		slog.String("pool_id", ev.PoolID),
		slog.String("actor", ev.Actor),
	)

	if e.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = e.bus.Publish(ctx, domain.ChannelPoolEvents, payload)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "publish pool event failed",
				slog.String("pool_id", ev.PoolID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.audit != nil {
		entry := make(map[string]any, len(detail)+2)
		maps.Copy(entry, detail)
		entry["pool_id"] = ev.PoolID
		if ev.Actor != "" {
			entry["actor"] = ev.Actor
		}
		if err := e.audit.Log(ctx, string(typ), entry); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("pool_id", ev.PoolID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		if err := e.notifier.PoolEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "notify failed",
				slog.String("pool_id", ev.PoolID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) invalidate(ctx context.Context, id domain.PoolID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, id); err != nil {
		e.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("pool_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
