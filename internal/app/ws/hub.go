// Package ws streams conversation events to connected WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Hub fans conversation events out to the WebSocket clients subscribed to
// them. It implements both the chat publisher and the lifecycle service
// interfaces.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	rooms  map[string]map[*client]bool
	closed bool
}

type client struct {
	hub            *Hub
	conversationID string
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	once           sync.Once
}

// NewHub creates a hub. allowedOrigins mirrors the CORS configuration: "*"
// allows every origin, and requests without an Origin header (non-browser
// clients) are always accepted.
func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("ws")
	}

	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || allowed[origin]
			},
		},
		rooms: make(map[string]map[*client]bool),
	}
}

// Name implements system.Service.
func (h *Hub) Name() string { return "ws-hub" }

// Start implements system.Service. Connections arrive over HTTP, so there is
// nothing to launch.
func (h *Hub) Start(context.Context) error { return nil }

// Stop closes every connection and refuses new ones.
func (h *Hub) Stop(context.Context) error {
	h.mu.Lock()
	h.closed = true
	var clients []*client
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[*client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

// Publish marshals event once and sends it to every client subscribed to the
// conversation. Clients whose send buffer is full are dropped.
func (h *Hub) Publish(conversationID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("dropping unmarshalable event")
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			h.log.WithField("conversation_id", conversationID).Warn("dropping slow websocket client")
			c.close()
		}
	}
}

// Serve upgrades the request and subscribes the connection to the
// conversation's events. The caller authenticates and owner-checks the
// conversation first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, conversationID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		hub:            h,
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*client]bool)
		h.rooms[conversationID] = room
	}
	room[c] = true
	h.mu.Unlock()

	metrics.IncrementWSConnections()
	h.log.WithField("conversation_id", conversationID).Debug("websocket client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[c.conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.conversationID)
		}
	}
}

// close tears the client down exactly once. The send channel is never
// closed; writePump exits via done, and buffered stragglers are left for the
// collector.
func (c *client) close() {
	c.once.Do(func() {
		c.hub.remove(c)
		close(c.done)
		c.conn.Close()
		metrics.DecrementWSConnections()
	})
}

// readPump discards inbound frames; messages enter through the REST API. Its
// job is pong handling and noticing the peer is gone.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
