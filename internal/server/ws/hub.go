// Package ws pushes bus events to browser clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketsync/internal/domain"
	"github.com/alanyoungcy/marketsync/internal/event"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busChannels are the signal bus channels the hub relays.
var busChannels = []string{
	event.ChannelCatalog,
	event.ChannelActivity,
	event.OwnedPattern,
}

// Client topics. Owned views are per account: "owned:<0x...>", or "owned:*"
// for every account.
const (
	topicCatalog  = "catalog"
	topicActivity = "activity"
	topicOwned    = "owned:"
)

// defaultTopics are subscribed on connect.
var defaultTopics = []string{topicCatalog, topicActivity}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	asJSON bool
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// Hub manages connected WebSocket clients and relays frames from the signal
// bus to every client subscribed to the frame's topic.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries a frame with the topic it is routed by.
type broadcastMsg struct {
	topic string
	data  []byte
}

// Config captures hub settings.
type Config struct {
	Mode string
	// AllowedOrigins restricts the Origin header on upgrade. Empty allows any.
	AllowedOrigins []string
	StartedAt      time.Time
}

// NewHub creates a hub that bridges bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and, when allowed is non-empty, only the listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main event loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver fans msg out to subscribed clients, rendering JSON for text
// clients once per message.
func (h *Hub) deliver(msg broadcastMsg) {
	var jsonFrame []byte
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.topic) {
			continue
		}
		data := msg.data
		if c.asJSON {
			if jsonFrame == nil {
				out, err := event.ToJSON(msg.data)
				if err != nil {
					h.logger.Warn("ws: render frame failed", slog.String("error", err.Error()))
					return
				}
				jsonFrame = out
			}
			data = jsonFrame
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// relay subscribes to one bus channel and forwards decoded frames to the
// broadcast loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			topic, err := topicOf(data)
			if err != nil {
				h.logger.Warn("ws: undecodable frame",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{topic: topic, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// topicOf derives the client topic from a frame.
func topicOf(frame []byte) (string, error) {
	e, err := event.Decode(frame)
	if err != nil {
		return "", err
	}
	if e.Type == event.TypeOwned {
		return topicOwned + strings.ToLower(e.Account), nil
	}
	return string(e.Type), nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. ?format=json selects JSON text frames instead of
// binary protobuf frames; ?account=0x... adds that account's owned topic.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := h.newClient(conn, r.URL.Query())
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// newClient builds a client with its default topics and the status frame
// already queued. Nothing else can send on c.send until it is registered.
func (h *Hub) newClient(conn *websocket.Conn, q url.Values) *client {
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		asJSON: q.Get("format") == "json",
		subs:   make(map[string]bool),
	}
	for _, t := range defaultTopics {
		c.subs[t] = true
	}
	if acct := q.Get("account"); acct != "" {
		c.subs[topicOwned+strings.ToLower(acct)] = true
	}
	c.sendInitialStatus()
	return c
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			c.subs[strings.ToLower(t)] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.subs, strings.ToLower(t))
		}
	}
}

// sendInitialStatus pushes a status frame so clients can mark the connection
// healthy before any market event flows.
func (c *client) sendInitialStatus() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	frame, err := event.Encode(event.Event{
		Type: event.TypeStatus,
		Payload: map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
		},
	})
	if err == nil && c.asJSON {
		frame, err = event.ToJSON(frame)
	}
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed checks whether the client is subscribed to topic, honouring
// trailing-* wildcards such as "owned:*".
func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[topic] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps frames from the hub to the connection and keeps it alive
// with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	kind := websocket.BinaryMessage
	if c.asJSON {
		kind = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(kind, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
