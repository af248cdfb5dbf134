// Package ws provides a WebSocket hub that fans gateway status, log, and
// error events out to connected dashboard clients.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub tracks connected clients and broadcasts messages to every one of
// them, plus to anyone subscribed to a specific target id channel.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu     sync.RWMutex
	logger *slog.Logger

	done chan struct{}
}

// NewHub creates a new Hub. Call Run to start its event loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "ws_hub"),
		done:       make(chan struct{}),
	}
}

// Run drives the hub's event loop until stopped.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				c.Send(msg)
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts down the hub's event loop and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Register admits a new client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Broadcast sends msg to every connected client, regardless of subscription.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("hub broadcast buffer full, dropping message")
	}
}

// BroadcastToTarget sends msg only to clients subscribed to targetID.
func (h *Hub) BroadcastToTarget(targetID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.IsSubscribed(targetID) {
			c.Send(data)
		}
	}
}

// BroadcastStatus fans one target's connection-status transition out to
// every dashboard client.
func (h *Hub) BroadcastStatus(targetID, status, message string) {
	h.Broadcast(NewStatusUpdate(targetID, status, message))
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
