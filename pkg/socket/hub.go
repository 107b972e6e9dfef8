package socket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	broadcastBuffer = 1000
	pongWait        = 60 * time.Second
)

// conn serialises writes to one websocket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Hub accepts dashboard connections, fans out broadcasts and dispatches
// inbound events.
type Hub struct {
	upgrader   websocket.Upgrader
	maxClients int
	router     *Router

	clients   map[*conn]bool
	clientsMu sync.RWMutex

	broadcast chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool

	// Stats
	messagesSent     uint64
	messagesReceived uint64
	dropped          uint64
}

// NewHub creates a hub accepting up to maxClients connections.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 100
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxClients: maxClients,
		router:     NewRouter(),
		clients:    make(map[*conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// On registers a handler for an inbound event.
func (h *Hub) On(event string, fn func(data json.RawMessage)) {
	h.router.On(event, fn)
}

// Start begins the broadcast worker.
func (h *Hub) Start() {
	if h.running.Swap(true) {
		return
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	logger.Info("[hub] started (max_clients=%d)", h.maxClients)
}

// Stop closes every connection and stops the broadcast worker.
func (h *Hub) Stop() {
	if !h.running.Swap(false) {
		return
	}
	close(h.done)
	h.wg.Wait()

	h.clientsMu.Lock()
	for c := range h.clients {
		c.ws.Close()
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()
	logger.Info("[hub] stopped")
}

// Broadcast queues event for every connected dashboard. It never blocks.
func (h *Hub) Broadcast(event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		logger.Error("[hub] encode %s: %v", event, err)
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		if n := atomic.AddUint64(&h.dropped, 1); n%1000 == 1 {
			logger.Warn("[hub] broadcast queue full, dropped %d frames", n)
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Stats returns current statistics.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"clients":           h.ClientCount(),
		"messages_sent":     atomic.LoadUint64(&h.messagesSent),
		"messages_received": atomic.LoadUint64(&h.messagesReceived),
		"dropped":           atomic.LoadUint64(&h.dropped),
		"queue_len":         len(h.broadcast),
		"queue_cap":         cap(h.broadcast),
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case frame := <-h.broadcast:
			h.clientsMu.RLock()
			for c := range h.clients {
				if err := c.write(websocket.TextMessage, frame); err != nil {
					logger.Debug("[hub] send error: %v", err)
					continue
				}
				atomic.AddUint64(&h.messagesSent, 1)
			}
			h.clientsMu.RUnlock()
		case <-h.done:
			return
		}
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[hub] upgrade error: %v", err)
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()
	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, c)
		h.clientsMu.Unlock()
		logger.Info("[hub] client disconnected: %s", ws.RemoteAddr())
	}()
	logger.Info("[hub] client connected: %s", ws.RemoteAddr())

	if frame, err := Encode(models.EventConnect, nil); err == nil {
		if err := c.write(websocket.TextMessage, frame); err != nil {
			return
		}
	}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-h.done:
				ws.Close()
				return
			}
		}
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("[hub] read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		atomic.AddUint64(&h.messagesReceived, 1)

		env, err := ParseMessage(message)
		if err != nil {
			logger.Debug("[hub] parse error: %v", err)
			continue
		}
		if !h.router.Dispatch(env) {
			logger.Debug("[hub] no handler for %q", env.Event)
		}
	}
}
