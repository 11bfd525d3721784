package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// EventsHandler pushes session snapshots over WebSocket.
type EventsHandler struct {
	session Controller
	log     logrus.FieldLogger
}

// NewEventsHandler creates an EventsHandler for the given session.
func NewEventsHandler(c Controller, log logrus.FieldLogger) *EventsHandler {
	return &EventsHandler{session: c, log: log}
}

// ServeHTTP upgrades the connection and sends the current snapshot, then one
// per session update, until either side closes.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.session.Subscribe()
	defer cancel()

	// The reader only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}

	if !send(h.session.Snapshot()) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if !send(snap) {
				return
			}
		}
	}
}
