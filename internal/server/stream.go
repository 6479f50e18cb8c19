package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	clientSendSize = 32
)

// Hub fans dispatched events out to connected websocket clients. A
// client that cannot keep up is disconnected rather than allowed to
// block the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish broadcasts ev to every connected client. It never blocks:
// clients with a full send buffer are dropped.
func (h *Hub) Publish(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to encode event for stream", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			h.logger.Warn("dropping slow stream client")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams events
// until the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// writeLoop drains the client's send channel and keeps the connection
// alive with pings.
func (h *Hub) writeLoop(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and unregisters on disconnect. The
// stream is one-way; reads only surface close frames.
func (h *Hub) readLoop(client *wsClient) {
	defer h.unregister(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	client.conn.Close()
}

// Close disconnects every client and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
