package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
)

const (
	writeWait       = 5 * time.Second
	maxMessageSize  = 8 << 10
	defaultSendSize = 64
	eventTimeout    = 10 * time.Second
)

type WSHandler struct {
	coord    *app.Coordinator
	logger   *slog.Logger
	sendSize int
	upgrader websocket.Upgrader
}

func NewWSHandler(coord *app.Coordinator, sendSize int, logger *slog.Logger) *WSHandler {
	if sendSize <= 0 {
		sendSize = defaultSendSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		coord:    coord,
		logger:   logger,
		sendSize: sendSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts a gorilla connection to app.Conn.
// All data frames go through one writer goroutine so per-connection order is preserved.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	send      chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, sendSize int) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan domain.Event, sendSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues ev; false means the connection is closed or its queue is full.
func (c *wsConn) Send(ev domain.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsConn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ForceReconnect tells the client to reconnect, then the writer closes with a service restart code.
func (c *wsConn) ForceReconnect() {
	if !c.Send(domain.Event{Type: domain.EventForcedReconnect}) {
		c.Close()
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writePump(logger *slog.Logger) {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				logger.Debug("ws write failed", "conn_id", c.id, "error", err)
				return
			}
			if ev.Type == domain.EventForcedReconnect {
				msg := websocket.FormatCloseMessage(websocket.CloseServiceRestart, "reconnect")
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		}
	}
}

// ServeWS upgrades the request and feeds inbound events to the coordinator until the
// transport goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	conn := newWSConn(ws, h.sendSize)
	if err := h.coord.Connect(conn); err != nil {
		h.logger.Error("register connection failed", "error", err)
		_ = ws.Close()
		return
	}
	logger := h.logger.With("conn_id", conn.id)
	logger.Debug("ws connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump(logger)
	}()
	defer func() {
		h.coord.Disconnect(context.Background(), conn.id)
		conn.Close()
		<-writerDone
		logger.Debug("ws disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		h.coord.Touch(conn.id)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseServiceRestart) {
				logger.Debug("ws read failed", "error", err)
			}
			return
		}
		h.coord.Touch(conn.id)

		var inbound domain.InboundEvent
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.reject(conn, "", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
		err = h.dispatch(ctx, conn, inbound)
		cancel()
		if err != nil {
			logger.Debug("event rejected", "event", inbound.Type, "error", err)
			h.reject(conn, inbound.Type, err)
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *wsConn, ev domain.InboundEvent) error {
	switch ev.Type {
	case domain.EventJoin:
		req, err := decode[domain.JoinRequest](ev.Payload)
		if err != nil {
			return err
		}
		_, err = h.coord.Join(ctx, conn.id, req)
		return err
	case domain.EventStartSession:
		req, err := decode[domain.PinRequest](ev.Payload)
		if err != nil {
			return err
		}
		return h.coord.Start(ctx, conn.id, req.Pin)
	case domain.EventAdvanceQuestion:
		req, err := decode[domain.PinRequest](ev.Payload)
		if err != nil {
			return err
		}
		return h.coord.Advance(ctx, conn.id, req.Pin)
	case domain.EventSubmitAnswer:
		req, err := decode[domain.SubmitRequest](ev.Payload)
		if err != nil {
			return err
		}
		_, err = h.coord.Submit(ctx, conn.id, req)
		return err
	case domain.EventRevealQuestion:
		req, err := decode[domain.RevealRequest](ev.Payload)
		if err != nil {
			return err
		}
		_, err = h.coord.Reveal(ctx, conn.id, req)
		return err
	case domain.EventRequestLeaderboard:
		req, err := decode[domain.PinRequest](ev.Payload)
		if err != nil {
			return err
		}
		_, err = h.coord.Leaderboard(ctx, conn.id, req.Pin)
		return err
	case domain.EventEndSession:
		req, err := decode[domain.PinRequest](ev.Payload)
		if err != nil {
			return err
		}
		return h.coord.End(ctx, conn.id, req.Pin)
	case domain.EventPing:
		conn.Send(domain.Event{Type: domain.EventPong})
		return nil
	default:
		return fmt.Errorf("%w: unsupported event %q", domain.ErrInvalidPayload, ev.Type)
	}
}

func (h *WSHandler) reject(conn *wsConn, event string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = domain.Transient(event, err)
	}
	conn.Send(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{
		Code:    domain.Code(err),
		Message: err.Error(),
		Event:   event,
	}})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return v, nil
}
