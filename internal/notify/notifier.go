// Package notify relays pool events to chat channels such as Telegram and
// Discord. Operators choose which event types are forwarded.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans pool events out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PoolEvent formats ev and sends it when its type is allowed.
func (n *Notifier) PoolEvent(ctx context.Context, ev domain.PoolEvent) error {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// amountKeys are detail fields holding base-unit token amounts.
var amountKeys = map[string]bool{
	"amount":  true,
	"deposit": true,
	"margin":  true,
	"payoff":  true,
	"refund":  true,
}

// Format renders ev as a title and a body of sorted key: value lines. Token
// amounts are shown in whole units of the event's asset.
func Format(ev domain.PoolEvent) (title, message string) {
	title = fmt.Sprintf("%s %s", strings.ReplaceAll(string(ev.Type), "_", " "), shortID(ev.PoolID))

	asset, hasAsset := domain.AssetByName(fmt.Sprint(ev.Detail["asset"]))
	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "pool: %s", ev.PoolID)
	if ev.Actor != "" {
		fmt.Fprintf(&b, "\nby: %s", ev.Actor)
	}
	for _, k := range keys {
		v := ev.Detail[k]
		if amt, ok := toInt64(v); ok && hasAsset && amountKeys[k] {
			fmt.Fprintf(&b, "\n%s: %s %s", k, asset.Format(amt), asset)
			continue
		}
		fmt.Fprintf(&b, "\n%s: %v", k, v)
	}
	return title, b.String()
}

func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}

// toInt64 accepts the integer forms a detail value takes before and after a
// JSON round trip.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
