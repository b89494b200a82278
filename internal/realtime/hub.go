package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types pushed to connected admin clients.
const (
	EventProductCreated   = "product.created"
	EventProductUpdated   = "product.updated"
	EventProductDeleted   = "product.deleted"
	EventStockSynced      = "stock.synced"
	EventProductsImported = "products.imported"
	EventCategoryCreated  = "category.created"
	EventCacheInvalidated = "cache.invalidated"
	EventCacheCleared     = "cache.cleared"
)

// Client represents a single websocket client connection.
// We keep it minimal here; the actual network conn is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// Event is the envelope every broadcast message uses.
type Event struct {
	Type    string    `json:"type"`
	ActorID string    `json:"actorId,omitempty"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
	Version int       `json:"version"`
}

// Hub maintains active user connections and broadcasts events to them.
type Hub struct {
	mu              sync.RWMutex
	userIdToClients map[string]map[Client]struct{}
	now             func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		userIdToClients: make(map[string]map[Client]struct{}),
		now:             time.Now,
	}
}

// Register adds a client under a user ID.
func (h *Hub) Register(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userIdToClients[userID]; !ok {
		h.userIdToClients[userID] = make(map[Client]struct{})
	}
	h.userIdToClients[userID][client] = struct{}{}
}

// Unregister removes a client; if user has no more clients, cleans up map.
func (h *Hub) Unregister(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.userIdToClients[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userIdToClients, userID)
		}
	}
}

// Broadcast sends a message to all clients of a user.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.userIdToClients[userID] {
		// a failed write is cleaned up by the connection's own handler
		c.Send(message)
	}
}

// BroadcastAll sends a message to every connected client and returns how many accepted it.
func (h *Hub) BroadcastAll(message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, clients := range h.userIdToClients {
		for c := range clients {
			if c.Send(message) {
				sent++
			}
		}
	}
	return sent
}

// Publish stamps and encodes an event and sends it to every connected client.
func (h *Hub) Publish(eventType, actorID string, data any) {
	if h == nil {
		return
	}
	evt := Event{Type: eventType, ActorID: actorID, Data: data, At: h.now().UTC(), Version: 1}
	if bytes, err := json.Marshal(evt); err == nil {
		h.BroadcastAll(bytes)
	}
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.userIdToClients {
		n += len(clients)
	}
	return n
}
