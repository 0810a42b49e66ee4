package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
	"github.com/fetchdeck/backend/internal/metrics"
	"github.com/fetchdeck/backend/internal/notify"
)

// Hub maintains the set of connected clients and fans queue events out
// to all of them. Every client sees every event; there is no per-client
// routing.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	metrics *metrics.Metrics
	log     *logger.Logger

	mu sync.RWMutex
}

// Frame is the JSON message pushed to every connected client.
type Frame struct {
	Type string `json:"type"`
	// Job is present for added/updated/completed/canceled events.
	Job *job.Job `json:"job,omitempty"`
	// JobIDs is present for cleared events.
	JobIDs []string `json:"job_ids,omitempty"`
}

// NewHub creates a hub. Call Run in a goroutine to start it.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		metrics:    m,
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.WSClientConnected()
			h.log.Debug(ctx, "client connected", map[string]any{"client_id": client.id})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.WSClientDisconnected()
				h.log.Debug(ctx, "client disconnected", map[string]any{"client_id": client.id})
			}
			h.mu.Unlock()

		case payload := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Client's buffer is full, drop the connection.
					close(client.send)
					delete(h.clients, client)
					h.metrics.WSClientDisconnected()
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				h.metrics.WSClientDisconnected()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Relay subscribes to the notifier and forwards every queue event to all
// connected clients until ctx is done.
func (h *Hub) Relay(ctx context.Context, n *notify.Notifier) {
	events, cancel := n.Subscribe()
	defer cancel()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(frameFor(ev))
		case <-ctx.Done():
			return
		}
	}
}

func frameFor(ev notify.Event) Frame {
	return Frame{
		Type:   string(ev.Type),
		Job:    ev.Job,
		JobIDs: ev.JobIDs,
	}
}

// Broadcast serializes one frame and queues it for every client.
func (h *Hub) Broadcast(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		h.log.Warn(context.Background(), "failed to marshal event frame", map[string]any{"type": f.Type})
		return
	}
	h.broadcast <- payload
}

// TotalClients returns the number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
