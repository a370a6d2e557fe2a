package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event types pushed to terminals.
const (
	EventSyncPending     = "sync.pending"
	EventCatalogProgress = "catalog.progress"
	EventConnectivity    = "connectivity"
	EventOffersState     = "offers.state"
)

// Event is the envelope of every pushed message.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Hub maintains the set of active clients and broadcasts events
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// Last event per type, replayed to new clients
	last map[string][]byte

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
		last:       make(map[string][]byte),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and blocks until ctx is done. Remaining
// clients are disconnected on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// If a terminal connects again, close the old connection
			if old, ok := h.clients[client.ID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.ID] = client
			replay := make([][]byte, 0, len(h.last))
			for _, msg := range h.last {
				replay = append(replay, msg)
			}
			h.mu.Unlock()
			for _, msg := range replay {
				client.trySend(msg)
			}
			log.Printf("📱 Terminal connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Terminal disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if !c.trySend(msg) {
					// Buffer full or client dead
					close(c.send)
					delete(h.clients, id)
					log.Printf("⚠️ Dropping slow terminal: %s", id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Publish broadcasts an event to every connected terminal.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now()})
	if err != nil {
		log.Printf("❌ Error marshaling %s event: %v", eventType, err)
		return
	}
	h.mu.Lock()
	h.last[eventType] = msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		log.Printf("⚠️ Event buffer full, dropping %s", eventType)
	}
}

// SendTo sends an event to one terminal.
func (h *Hub) SendTo(clientID, eventType string, data any) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	msg, err := json.Marshal(Event{Type: eventType, Data: data, At: time.Now()})
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[clientID] != client {
		return false
	}
	return client.trySend(msg)
}

// ClientCount returns the number of connected terminals.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
