package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"media-gallery/internal/logging"
	"media-gallery/internal/metrics"
)

const (
	defaultSendBuffer = 64
	hookTimeout       = 5 * time.Second
)

// Config tunes a Hub.
type Config struct {
	// SendBuffer is the number of events queued per client before the
	// client is considered too slow and dropped.
	SendBuffer int
	// AllowedOrigins restricts websocket handshakes by Origin host. Empty
	// allows every origin.
	AllowedOrigins []string
}

// Hub tracks live connections and fans events out to them.
type Hub struct {
	hooks      Hooks
	sendBuffer int
	upgrader   websocket.Upgrader
	log        logging.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// New creates a Hub.
func New(cfg Config, hooks Hooks) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	h := &Hub{
		hooks:      hooks,
		sendBuffer: cfg.SendBuffer,
		log:        logging.For("hub"),
		clients:    make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the request to a websocket, registers the connection
// and sends it a snapshot of the current gallery.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.log.Warn("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan []byte, h.sendBuffer),
	}

	if !h.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	h.sendSnapshot(c)
}

func (h *Hub) sendSnapshot(c *Client) {
	if h.hooks.Snapshot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	data, err := h.hooks.Snapshot(ctx)
	if err != nil {
		h.log.Error("snapshot for %s: %v", c.remote, err)
		return
	}
	msg, err := json.Marshal(Event{Type: TypeSnapshot, Data: data})
	if err != nil {
		h.log.Error("encode snapshot: %v", err)
		return
	}
	metrics.HubBroadcastsTotal.WithLabelValues(TypeSnapshot).Inc()
	if !c.enqueue(msg) {
		h.remove(c)
	}
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.HubConnections.Set(float64(len(h.clients)))
	h.log.Debug("client %s connected (%d live)", c.remote, len(h.clients))
	return true
}

// remove drops c from the live set and stops its write pump.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		metrics.HubConnections.Set(float64(len(h.clients)))
	}
	live := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	if ok {
		h.log.Debug("client %s removed (%d live)", c.remote, live)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every live client except exclude and returns the
// number of clients it was queued for. A client whose queue is full is
// removed. Broadcast never blocks on a slow client.
func (h *Hub) Broadcast(ev Event, exclude *Client) int {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode %s event: %v", ev.Type, err)
		return 0
	}
	metrics.HubBroadcastsTotal.WithLabelValues(ev.Type).Inc()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			delivered++
			metrics.HubDeliveriesTotal.WithLabelValues("queued").Inc()
			continue
		}
		metrics.HubDeliveriesTotal.WithLabelValues("dropped").Inc()
		h.log.Warn("dropping client %s: send buffer full", c.remote)
		h.remove(c)
	}
	return delivered
}

// handleInbound validates a client message against the closed inbound
// schema. Anything else is dropped with a warning.
func (h *Hub) handleInbound(c *Client, raw []byte) {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.reject(c, "unknown", "malformed frame: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	switch frame.Type {
	case TypeFavoriteUpdate:
		var f FavoriteUpdate
		if err := decodeStrict(frame.Data, &f); err != nil {
			h.reject(c, frame.Type, "decode: %v", err)
			return
		}
		f = f.Normalized()
		if err := f.Validate(); err != nil {
			h.reject(c, frame.Type, "%v", err)
			return
		}
		if h.hooks.Favorite != nil {
			if err := h.hooks.Favorite(ctx, f); err != nil {
				h.reject(c, frame.Type, "apply: %v", err)
				return
			}
		}
		metrics.HubInboundMessagesTotal.WithLabelValues(frame.Type, "accepted").Inc()
		h.Broadcast(Event{Type: TypeFavoriteUpdate, Data: f}, c)

	case TypeView:
		var v View
		if err := decodeStrict(frame.Data, &v); err != nil {
			h.reject(c, frame.Type, "decode: %v", err)
			return
		}
		if err := v.Validate(); err != nil {
			h.reject(c, frame.Type, "%v", err)
			return
		}
		if h.hooks.View != nil {
			if err := h.hooks.View(ctx, v); err != nil {
				h.reject(c, frame.Type, "record: %v", err)
				return
			}
		}
		metrics.HubInboundMessagesTotal.WithLabelValues(frame.Type, "accepted").Inc()

	default:
		h.reject(c, "unknown", "unsupported message type %q", frame.Type)
	}
}

func (h *Hub) reject(c *Client, msgType, format string, args ...any) {
	metrics.HubInboundMessagesTotal.WithLabelValues(msgType, "rejected").Inc()
	h.log.Warn("dropping message from %s: "+format, append([]any{c.remote}, args...)...)
}

func decodeStrict(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Close disconnects every client and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.log.Info("closed %d connections", len(clients))
}
