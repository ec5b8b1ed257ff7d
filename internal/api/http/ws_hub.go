package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"popcornstream/internal/domain"
	"popcornstream/internal/metrics"
)

const readinessMessage = "readiness"

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

type directMessage struct {
	client  *wsClient
	payload []byte
}

// Hub fans readiness states out to every connected WebSocket client.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				if client.conn != nil {
					_ = client.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(2*time.Second),
					)
				}
				h.drop(client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.payload)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, msg)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(client *wsClient, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.drop(client)
		h.logger.Debug("ws client dropped, send buffer full", slog.Int("total", len(h.clients)))
	}
}

func (h *Hub) drop(client *wsClient) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSClients.Set(float64(len(h.clients)))
}

// Close signals the hub to stop and disconnect all clients.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) add(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastReadiness is used as the coordinator observer.
func (h *Hub) BroadcastReadiness(state domain.ReadinessState) {
	h.Broadcast(readinessMessage, state)
}

// Broadcast sends a typed JSON message to all connected WebSocket clients.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	if h.ClientCount() == 0 {
		return
	}
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		h.logger.Debug("ws broadcast skipped, queue full", slog.String("type", msgType))
	}
}

func (h *Hub) sendTo(client *wsClient, msgType string, data interface{}) {
	payload, ok := h.encode(msgType, data)
	if !ok {
		return
	}
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) encode(msgType string, data interface{}) ([]byte, bool) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return nil, false
	}
	return payload, true
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
