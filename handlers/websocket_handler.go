package handlers

import (
	"log/slog"
	"net/http"

	"festra/realtime"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub *realtime.Hub
}

func NewWebSocketHandler(hub *realtime.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeEventStream upgrades the connection and joins the event's room, a
// live feed of registrations, stock changes and attendance marks for
// organizer dashboards.
func (h *WebSocketHandler) ServeEventStream(w http.ResponseWriter, r *http.Request) {
	eventID, err := idParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "event_id", eventID)
		return
	}
	h.hub.ServeClient(conn, realtime.EventRoom(eventID))
}
