package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
)

const (
	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("socket: not connected")

// WebsocketURL turns a dashboard base URL (http or ws) into the /ws endpoint.
func WebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Client is a dashboard-side push channel with automatic reconnection.
// Inbound events are dispatched on a single goroutine in delivery order.
type Client struct {
	url    string
	router *Router
	done   chan struct{}
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnectDelay time.Duration

	// Stats
	messagesReceived uint64
	messagesSent     uint64
	errors           uint64
	reconnects       uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a client for the websocket endpoint at wsURL.
func NewClient(wsURL string) *Client {
	return &Client{
		url:            wsURL,
		router:         NewRouter(),
		done:           make(chan struct{}),
		reconnectDelay: initialReconnectDelay,
	}
}

// On registers a handler for an inbound event.
func (c *Client) On(event string, fn func(data json.RawMessage)) {
	c.router.On(event, fn)
}

// Start begins the connection loop in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		logger.Warn("[socket] client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	logger.Info("[socket] client started for %s", c.url)
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()
	logger.Info("[socket] client stopped")
}

// Connected reports whether the channel is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Emit sends an event to the server.
func (c *Client) Emit(event string, payload interface{}) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	atomic.AddUint64(&c.messagesSent, 1)
	return nil
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"url":               c.url,
		"connected":         c.connected.Load(),
		"messages_received": atomic.LoadUint64(&c.messagesReceived),
		"messages_sent":     atomic.LoadUint64(&c.messagesSent),
		"errors":            atomic.LoadUint64(&c.errors),
		"reconnects":        atomic.LoadUint64(&c.reconnects),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := c.reconnectDelay

	for c.running.Load() {
		connected, err := c.connectAndStream()
		if connected {
			// Backoff only grows across consecutive failed dials
			reconnectDelay = c.reconnectDelay
		}
		if err != nil {
			atomic.AddUint64(&c.errors, 1)
			atomic.AddUint64(&c.reconnects, 1)
			logger.Warn("[socket] connection error: %v, reconnecting in %v", err, reconnectDelay)
		}

		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			reconnectDelay = nextReconnectDelay(reconnectDelay)
		}
	}
}

func nextReconnectDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * reconnectBackoff)
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// connectAndStream reports whether the dial succeeded, along with the error
// that ended the stream.
func (c *Client) connectAndStream() (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	logger.Info("[socket] connecting to %s", c.url)
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.connMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.connMu.Unlock()
				if err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || !c.running.Load() {
				return true, nil
			}
			return true, fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		atomic.AddUint64(&c.messagesReceived, 1)

		env, err := ParseMessage(message)
		if err != nil {
			logger.Debug("[socket] parse error: %v", err)
			continue
		}
		c.router.Dispatch(env)
	}
	return true, nil
}
