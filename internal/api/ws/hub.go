package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jkwok/photosense/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one pipeline lifecycle notification. Clients use it to stop
// polling once the photo reaches a terminal state.
type Event struct {
	PhotoID   string      `json:"photo_id"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client is one connected WebSocket subscriber, optionally filtered down
// to a single photo.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	photoID string
}

// Hub fans pipeline events out to connected clients. It satisfies the
// pipeline's notifier contract, so the coordinator publishes straight into it.
type Hub struct {
	clients    map[*Client]bool
	events     chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		events:     make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.events:
			data, err := json.Marshal(event)
			if err != nil {
				logger.CtxError(context.Background(), "Failed to marshal event: event=%s, error=%v", event.Event, err)
				continue
			}
			h.deliver(event, data)
		}
	}
}

func (h *Hub) deliver(event *Event, data []byte) {
	var dropped []*Client
	h.mu.RLock()
	for client := range h.clients {
		if client.photoID != "" && client.photoID != event.PhotoID {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow consumer, disconnect rather than block the hub.
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	if len(dropped) > 0 {
		h.mu.Lock()
		for _, client := range dropped {
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		}
		h.mu.Unlock()
	}
}

// Publish queues a photo-scoped event for broadcast. When the hub's buffer
// is full the event is dropped: notifications are an optimization, clients
// can always fall back to polling the status fields.
func (h *Hub) Publish(photoID, event string, data interface{}) {
	evt := &Event{
		PhotoID:   photoID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case h.events <- evt:
	default:
		logger.CtxWarn(context.Background(), "Event buffer full, dropping: photo_id=%s, event=%s", photoID, event)
	}
}

// HandleWS upgrades GET /ws to a WebSocket subscription. An
// optional photo_id query parameter narrows the stream to one photo.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.CtxError(c.Request.Context(), "WebSocket upgrade failed: error=%v", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 64),
		photoID: c.Query("photo_id"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump discards client messages; the read loop only detects disconnects.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
