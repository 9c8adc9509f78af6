package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vodarr/vodarr/internal/bus"
)

const (
	wsPingInterval = 20 * time.Second
	wsPongWait     = 40 * time.Second
	wsWriteWait    = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClientMessage is the only shape clients send: keepalives and
// subscription changes.
type wsClientMessage struct {
	Type   string   `json:"type"`
	JobIDs []string `json:"job_ids,omitempty"`
}

// WSHandler streams progress and status events to websocket clients.
type WSHandler struct {
	bus    *bus.Bus
	logger *slog.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

// NewWSHandler creates a websocket handler.
func NewWSHandler(b *bus.Bus, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		bus:          b,
		logger:       logger,
		pingInterval: wsPingInterval,
		pongWait:     wsPongWait,
		writeWait:    wsWriteWait,
	}
}

// SetIntervals overrides the keepalive timings (for testing).
func (h *WSHandler) SetIntervals(ping, pong, write time.Duration) {
	h.pingInterval = ping
	h.pongWait = pong
	h.writeWait = write
}

// RegisterChiRoutes registers the websocket endpoint as a raw chi route.
func (h *WSHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/ws/progress", h.handleWS)
}

func (h *WSHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}

	sub, err := h.bus.Subscribe()
	if err != nil {
		msg := websocket.FormatCloseMessage(
			websocket.CloseTryAgainLater, "subscriber limit reached")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
		conn.Close()
		return
	}

	logger := h.logger.With(slog.String("subscriber_id", sub.ID().String()))
	logger.Debug("websocket client connected",
		slog.String("remote_addr", r.RemoteAddr))

	done := make(chan struct{})
	replies := make(chan bus.Event, 4)

	go h.writeLoop(conn, sub, replies, done)

	h.readLoop(conn, sub, replies, logger)

	close(done)
	h.bus.Unsubscribe(sub)
	conn.Close()
	logger.Debug("websocket client disconnected",
		slog.Int64("dropped_events", sub.Dropped()))
}

// readLoop consumes client messages until the connection dies. Every
// inbound message refreshes the read deadline, so both pong replies
// and subscription changes count as liveness.
func (h *WSHandler) readLoop(conn *websocket.Conn, sub *bus.Subscriber, replies chan<- bus.Event, logger *slog.Logger) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case bus.EventPing:
			select {
			case replies <- bus.Event{Type: bus.EventPong}:
			default:
			}
		case bus.EventPong:
			// Deadline already refreshed above.
		case "subscribe":
			sub.SubscribeJobs(msg.JobIDs...)
		case "unsubscribe":
			sub.UnsubscribeJobs(msg.JobIDs...)
		case "subscribe_all":
			sub.SubscribeAll()
		}
	}
}

// writeLoop is the only goroutine writing to the connection. Status
// events drain ahead of progress so terminal transitions are never
// buried behind a backlog of progress frames.
func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *bus.Subscriber, replies <-chan bus.Event, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub.Status():
			if !h.writeEvent(conn, ev) {
				return
			}
			continue
		default:
		}

		select {
		case ev := <-sub.Status():
			if !h.writeEvent(conn, ev) {
				return
			}
		case ev := <-sub.Progress():
			if !h.writeEvent(conn, ev) {
				return
			}
		case ev := <-replies:
			if !h.writeEvent(conn, ev) {
				return
			}
		case <-ticker.C:
			if !h.writeEvent(conn, bus.NewPingEvent()) {
				return
			}
		case <-sub.Closed():
			msg := websocket.FormatCloseMessage(
				websocket.CloseTryAgainLater, sub.CloseReason())
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
			return
		case <-done:
			return
		}
	}
}

func (h *WSHandler) writeEvent(conn *websocket.Conn, ev bus.Event) bool {
	conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	return conn.WriteJSON(ev) == nil
}
