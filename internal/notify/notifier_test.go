package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var closedEvent = domain.PoolEvent{
	Type:   domain.EventPoolClosed,
	PoolID: "0x00000000000000000000000000000000000000000000000000000000000000ab",
	Actor:  "0x4000000000000000000000000000000000000004",
	Detail: map[string]any{
		"asset":   "GAS",
		"payoff":  int64(1_9940_0000),
		"result":  "long",
		"winners": int64(3),
	},
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"pool_closed", " "}, quietLogger())
	ctx := context.Background()

	if err := n.PoolEvent(ctx, domain.PoolEvent{Type: domain.EventBetPlaced}); err != nil {
		t.Fatal(err)
	}
	if err := n.PoolEvent(ctx, closedEvent); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(s.titles))
	}
}

func TestNotifier_EmptyFilterForwardsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	_ = n.PoolEvent(context.Background(), domain.PoolEvent{Type: domain.EventBetPlaced})
	_ = n.PoolEvent(context.Background(), closedEvent)
	if len(s.titles) != 2 {
		t.Errorf("sent %d notifications, want 2", len(s.titles))
	}
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.PoolEvent(context.Background(), closedEvent)
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Errorf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Error("second sender skipped")
	}
}

func TestFormat(t *testing.T) {
	title, body := Format(closedEvent)
	if title != "pool closed 0x00000000" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{
		"pool: " + closedEvent.PoolID,
		"by: " + closedEvent.Actor,
		"payoff: 1.994 GAS",
		"result: long",
		"winners: 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestFormat_AfterJSONRoundTrip(t *testing.T) {
	raw, _ := json.Marshal(domain.PoolEvent{
		Type:   domain.EventBetPlaced,
		PoolID: "0x01",
		Detail: map[string]any{"asset": "NEO", "margin": int64(100)},
	})
	var ev domain.PoolEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatal(err)
	}
	if _, body := Format(ev); !strings.Contains(body, "margin: 100 NEO") {
		t.Errorf("body = %q", body)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "t", "m"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*t*\nm" {
		t.Errorf("payload = %v", got)
	}
}

func TestDiscordSender_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}
