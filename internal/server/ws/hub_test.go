package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

const poolA = "0x00000000000000000000000000000000000000000000000000000000000000aa"

func eventJSON(t *testing.T, poolID string) []byte {
	t.Helper()
	b, err := json.Marshal(domain.PoolEvent{
		Type:   domain.EventBetPlaced,
		PoolID: poolID,
		Detail: map[string]any{"side": "long"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEncodeFrame(t *testing.T) {
	f, err := encodeFrame(eventJSON(t, poolA))
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if f.poolID != poolA {
		t.Errorf("poolID = %q", f.poolID)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(f.binary, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := st.AsMap()
	if m["type"] != string(domain.EventBetPlaced) || m["pool_id"] != poolA {
		t.Errorf("unexpected struct: %v", m)
	}

	if _, err := encodeFrame([]byte(`{"type":"x"}`)); err == nil {
		t.Error("event without pool_id accepted")
	}
	if _, err := encodeFrame([]byte(`nope`)); err == nil {
		t.Error("non-JSON event accepted")
	}
}

func TestHub_DeliversSubscribedPools(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=json&pool=" + poolA
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	other := "0x00000000000000000000000000000000000000000000000000000000000000bb"
	_ = bus.Publish(ctx, domain.ChannelPoolEvents, eventJSON(t, other))
	_ = bus.Publish(ctx, domain.ChannelPoolEvents, eventJSON(t, poolA))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Errorf("frame type = %d, want text", typ)
	}
	var ev domain.PoolEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.PoolID != poolA {
		t.Errorf("received event for %s, want %s", ev.PoolID, poolA)
	}
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
