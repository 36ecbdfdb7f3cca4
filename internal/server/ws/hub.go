// Package ws pushes pool events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// allPools subscribes a client to every pool.
const allPools = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is one event pre-encoded in both wire formats.
type frame struct {
	poolID string
	json   []byte
	binary []byte
}

// client is one WebSocket connection. Binary clients receive protobuf
// google.protobuf.Struct frames; text clients receive the JSON event.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	binary bool
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is sent by clients to change their pool filter, e.g.
// {"action":"subscribe","pools":["0xabc..."]}. "*" matches every pool.
type subscribeMsg struct {
	Action string   `json:"action"`
	Pools  []string `json:"pools"`
}

// Hub relays pool events from the signal bus to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to pool events and serves clients until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelPoolEvents)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.ChannelPoolEvents, err)
	}
	go h.relay(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(f.poolID) {
					continue
				}
				select {
				case c.send <- f:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay encodes bus payloads into frames for the broadcast loop.
func (h *Hub) relay(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("pool event subscription closed")
				return
			}
			f, err := encodeFrame(data)
			if err != nil {
				h.logger.Warn("skipping malformed pool event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame converts a JSON PoolEvent into a frame carrying the same event
// as a protobuf Struct.
func encodeFrame(data []byte) (frame, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return frame{}, fmt.Errorf("decode event: %w", err)
	}
	poolID, _ := fields["pool_id"].(string)
	if poolID == "" {
		return frame{}, fmt.Errorf("event has no pool_id")
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return frame{}, fmt.Errorf("convert event: %w", err)
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, fmt.Errorf("marshal event: %w", err)
	}
	return frame{poolID: strings.ToLower(poolID), json: data, binary: bin}, nil
}

// HandleWS upgrades the connection. ?pool=<id> limits the initial
// subscription to one pool; ?format=json selects text frames.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := allPools
	if p := r.URL.Query().Get("pool"); p != "" {
		sub = strings.ToLower(p)
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		binary: r.URL.Query().Get("format") != "json",
		subs:   map[string]bool{sub: true},
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(message, &msg) == nil {
			c.handleSubscription(msg)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range msg.Pools {
		p = strings.ToLower(strings.TrimSpace(p))
		switch msg.Action {
		case "subscribe":
			c.subs[p] = true
		case "unsubscribe":
			delete(c.subs, p)
		}
	}
}

func (c *client) isSubscribed(poolID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allPools] || c.subs[poolID]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			typ, data := websocket.TextMessage, f.json
			if c.binary {
				typ, data = websocket.BinaryMessage, f.binary
			}
			if err := c.conn.WriteMessage(typ, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
