package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"media-gallery/internal/logging"
)

const (
	// DefaultReconnectDelay is the fixed wait between connection attempts.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultMaxAttempts is the number of consecutive failed handshakes
	// after which the client gives up.
	DefaultMaxAttempts = 5

	writeWait = 10 * time.Second
	readWait  = 70 * time.Second
)

var (
	// ErrGaveUp is returned by Run once MaxAttempts handshakes in a row failed.
	ErrGaveUp = errors.New("gave up reconnecting")
	// ErrNotConnected is returned by Send while there is no live connection.
	ErrNotConnected = errors.New("not connected")
)

// ConnState is the connection state of a Client.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Config configures a Client.
type Config struct {
	URL            string
	Header         http.Header
	ReconnectDelay time.Duration
	MaxAttempts    int
	Dialer         *websocket.Dialer
	// OnState is called on every state transition.
	OnState func(ConnState)
}

// Client follows the server's event stream and feeds it into a Gallery,
// reconnecting after a fixed delay when the connection drops.
type Client struct {
	cfg     Config
	gallery *Gallery
	log     logging.Logger

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn

	writeMu sync.Mutex
}

// New returns a Client that applies events to g.
func New(cfg Config, g *Gallery) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Client{cfg: cfg, gallery: g, log: logging.For("watcher")}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.log.Debug("state %s", s)
		if c.cfg.OnState != nil {
			c.cfg.OnState(s)
		}
	}
}

// Run connects and processes events until ctx ends or the reconnect budget
// is exhausted. It always leaves the client in StateDisconnected.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	connected := false

	for {
		if connected || failures > 0 {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			failures++
			c.log.Warn("connect to %s failed (attempt %d/%d): %v", c.cfg.URL, failures, c.cfg.MaxAttempts, err)
			if failures >= c.cfg.MaxAttempts {
				c.setState(StateDisconnected)
				return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
			}
		} else {
			failures = 0
			connected = true
			c.setState(StateConnected)
			c.log.Info("connected to %s", c.cfg.URL)

			err = c.readLoop(ctx, conn)
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			c.log.Warn("connection lost: %v", err)
		}

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("dropping malformed event: %v", err)
			continue
		}
		if err := c.gallery.Apply(ev); err != nil {
			c.log.Debug("ignoring event: %v", err)
		}
	}
}

// Send writes msg as a JSON text frame on the live connection.
func (c *Client) Send(msg any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
