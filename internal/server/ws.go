package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ayusman/steadyshot/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// SnapshotSource publishes session snapshots.
type SnapshotSource interface {
	Subscribe() (<-chan app.Snapshot, func())
}

// EventsHandler pushes session snapshots to WebSocket clients as they change.
type EventsHandler struct {
	source SnapshotSource
}

// NewEventsHandler creates a new EventsHandler fed by source.
func NewEventsHandler(source SnapshotSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// ServeHTTP upgrades the connection and writes the current snapshot, then every change.
// The subscription delivers the current snapshot first.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.source.Subscribe()
	defer cancel()

	// The read loop only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
