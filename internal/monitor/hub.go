package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/batch"
	"github.com/meditrace/phi-sentinel/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Progress events carry no identifier values; origin checks stay
		// permissive for operator tooling.
		return true
	},
}

// Hub maintains the set of connected progress listeners and broadcasts
// batch events to them. Slow clients are dropped rather than allowed to
// block the batch.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan batch.ProgressEvent
	register   chan *client
	unregister chan *client
	config     config.MonitorConfig
	logger     *zap.Logger
	mu         sync.RWMutex
	connected  int64
}

type client struct {
	conn *websocket.Conn
	send chan batch.ProgressEvent
}

// NewHub creates a progress hub.
func NewHub(cfg config.MonitorConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan batch.ProgressEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		config:     cfg,
		logger:     logger,
	}
}

// Run processes hub events until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.connected++
			h.mu.Unlock()
			h.logger.Debug("Progress listener connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- event:
				default:
					// Listener cannot keep up; disconnect it.
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast implements batch.Broadcaster. Never blocks the caller.
func (h *Hub) Broadcast(event batch.ProgressEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Debug("Progress event dropped, broadcast queue full")
	}
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request into a progress stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan batch.ProgressEvent, h.config.WebSocket.SendBuffer),
	}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.WebSocket.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WebSocket.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WebSocket.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
