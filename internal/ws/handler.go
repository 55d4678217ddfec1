package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler streams hub events to websocket clients.
type Handler struct {
	hub *Hub
	// Hello, when set, produces the first frame for each new client
	// (typically the current session snapshot).
	Hello func() []byte
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, hello func() []byte) *Handler {
	return &Handler{hub: hub, Hello: hello}
}

// ServeHTTP upgrades the connection and forwards events until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	closed := make(chan struct{})
	go readUntilClose(conn, closed)

	if h.Hello != nil {
		if frame := h.Hello(); frame != nil {
			if err = write(conn, websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if err = write(conn, websocket.TextMessage, frame); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err = write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClose discards client frames; the feed is one-way.
func readUntilClose(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func write(conn *websocket.Conn, msgType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(msgType, data)
}
