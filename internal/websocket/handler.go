package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens on the first frame, not at upgrade time, so any origin may
	// open the socket. Tighten per deployment if needed.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket connections and hands them to
// the hub.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger.With("component", "websocket"),
	}
}

// ServeHTTP upgrades the connection and runs the client's pumps until it
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.logger)

	// The request context dies when ServeHTTP returns, so the pumps get their
	// own. The cancel is wired before registration: the hub tears the client
	// down through it on unregister.
	ctx, cancel := context.WithCancel(context.Background())
	client.SetCancelFunc(cancel)
	h.hub.Register(client)

	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
