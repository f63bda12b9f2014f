// Package ws streams live position events and the price table to dashboard
// clients over websocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channel names. Events are published on "events:<owner_id>".
const (
	ChannelPrices = "prices"
	eventsPrefix  = "events:"
)

var defaultChannels = []string{ChannelPrices, eventsPrefix + "*"}

// PriceSnapshotter supplies the periodic price frame.
type PriceSnapshotter interface {
	Snapshot() []domain.PriceEntry
}

// envelope is the frame written to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Hub fans events and price snapshots out to connected clients. It also
// implements domain.EventPublisher so services can publish into it.
type Hub struct {
	clients       map[*client]bool
	broadcast     chan broadcastMsg
	register      chan *client
	unregister    chan *client
	done          chan struct{}
	prices        PriceSnapshotter
	priceInterval time.Duration
	upgrader      websocket.Upgrader
	dropped       atomic.Int64
	logger        *slog.Logger
}

// NewHub creates a Hub. prices may be nil to disable price frames.
func NewHub(prices PriceSnapshotter, priceInterval time.Duration, allowedOrigins []string, logger *slog.Logger) *Hub {
	if priceInterval <= 0 {
		priceInterval = time.Second
	}
	return &Hub{
		clients:       make(map[*client]bool),
		broadcast:     make(chan broadcastMsg, 256),
		register:      make(chan *client),
		unregister:    make(chan *client),
		done:          make(chan struct{}),
		prices:        prices,
		priceInterval: priceInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With(slog.String("component", "ws_hub")),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
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

// Publish implements domain.EventPublisher. It never blocks.
func (h *Hub) Publish(ctx context.Context, evt domain.Event) {
	channel := eventsPrefix + evt.OwnerID
	data, err := json.Marshal(envelope{Type: "event", Channel: channel, Payload: evt})
	if err != nil {
		return
	}
	h.enqueue(ctx, broadcastMsg{channel: channel, data: data})
}

func (h *Hub) enqueue(ctx context.Context, msg broadcastMsg) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WarnContext(ctx, "ws: broadcast queue full, message dropped",
			slog.String("channel", msg.channel),
			slog.Int64("dropped_total", h.dropped.Add(1)),
		)
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	ticker := time.NewTicker(h.priceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ticker.C:
			if h.prices == nil || len(h.clients) == 0 {
				continue
			}
			data, err := json.Marshal(envelope{Type: "prices", Channel: ChannelPrices, Payload: h.prices.Snapshot()})
			if err == nil {
				h.deliver(broadcastMsg{channel: ChannelPrices, data: data})
			}
		}
	}
}

func (h *Hub) deliver(msg broadcastMsg) {
	for c := range h.clients {
		if !c.isSubscribed(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}
	if owner := r.URL.Query().Get("owner_id"); owner != "" {
		c.subs = map[string]bool{ChannelPrices: true, eventsPrefix + owner: true}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact names and trailing-'*' prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.EventPublisher = (*Hub)(nil)
