package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fetchdeck/backend/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server is meant to sit behind the operator's own proxy.
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		log: logger.Default().WithComponent("websocket"),
	}
}

// ServeWS handles WebSocket requests from clients. No authentication:
// every connecting client observes the full queue.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := NewClient(uuid.New().String(), h.hub, conn)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
