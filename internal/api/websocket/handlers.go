package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Observers authenticate at the gateway; origin is not the trust
		// boundary here.
		return true
	},
}

// Handler upgrades observer connections and attaches them to the hub.
type Handler struct {
	hub      *Hub
	commands CommandHandler
	logger   *zap.Logger
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(hub *Hub, commands CommandHandler, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, commands: commands, logger: logger}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h.hub,
		conn:     conn,
		send:     make(chan []byte, 64),
		commands: h.commands,
		logger:   h.logger,
	}
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	// The request context dies when this handler returns; command
	// execution must outlive it.
	go client.ReadPump(context.Background())
}
