// Package websocket pushes pipeline status snapshots to browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"dvfcli/internal/infrastructure"
)

const (
	TypeConnection        = "connection"
	TypeOperationSnapshot = "operation:snapshot"

	broadcastBuffer = 256
)

// Stats are the hub counters.
type Stats struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
// It satisfies the operations package's WebSocketHub.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger
	stats  Stats

	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// NewHub creates a Hub. Start must be called before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in its own goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.stopped {
		return
	}
	h.running = true
	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.stats.TotalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) greet(client *Client) {
	data, err := json.Marshal(map[string]interface{}{
		"type": TypeConnection,
		"data": map[string]interface{}{
			"status":    "connected",
			"client_id": client.id,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("client buffer full, connection message dropped",
			slog.String("client_id", client.id))
	}
}

// deliver sends message to every client, dropping those whose buffer is full.
func (h *Hub) deliver(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
			h.stats.MessagesSent++
		default:
			h.stats.MessagesDropped++
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastUpdate sends an event to all connected clients. Snapshot events carry
// only their data; other events also carry step and status.
func (h *Hub) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	message := map[string]interface{}{
		"type":      eventType,
		"data":      metadata,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if eventType != TypeOperationSnapshot {
		message["step"] = step
		message["status"] = status
	}
	h.BroadcastJSON(message)
}

// BroadcastJSON encodes message and queues it for every client. Messages are
// dropped when the hub is not running or its queue is full.
func (h *Hub) BroadcastJSON(message map[string]interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("error marshaling message",
			slog.String("error", err.Error()),
			slog.Any("message_type", message["type"]))
		return
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.quit:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.Warn("broadcast queue full, message dropped", slog.Int("size", len(data)))
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns a copy of the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.stats
	s.ActiveClients = len(h.clients)
	return s
}

// Stop closes every client and waits for the hub loop to exit.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	wasRunning := h.running
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	if !wasRunning {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
