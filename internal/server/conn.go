package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/signaling"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// conn is one participant's server-side signaling connection.
type conn struct {
	ws            *websocket.Conn
	server        *Server
	send          chan signaling.Envelope
	mu            sync.Mutex
	closed        bool
	participantID string
	roomName      string
}

func newConn(ws *websocket.Conn, s *Server) *conn {
	return &conn{ws: ws, server: s, send: make(chan signaling.Envelope, 64)}
}

func (c *conn) sendEvent(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.enqueue(signaling.Envelope{Event: event, Payload: data})
}

func (c *conn) reply(correlationID string, payload interface{}, replyErr error) {
	var data json.RawMessage
	if payload != nil {
		d, err := json.Marshal(payload)
		if err == nil {
			data = d
		}
	}
	env := signaling.Envelope{ReplyTo: correlationID, IsReply: true, Payload: data}
	if replyErr != nil {
		env.Error = replyErr.Error()
		var e *errs.Error
		if errors.As(replyErr, &e) {
			env.ErrorKind = string(e.Kind)
		}
	}
	c.enqueue(env)
}

func (c *conn) enqueue(env signaling.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		netplaylog.Warn(context.Background(), "connection send buffer full, dropping message",
			zap.String("participant", c.participantID))
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for env := range c.send {
		if err := c.ws.WriteJSON(env); err != nil {
			return
		}
	}
}

func (c *conn) readPump() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.ws.Close()
		c.server.handleDisconnect(c)
	}()

	for {
		var env signaling.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				netplaylog.Warn(context.Background(), "websocket read error", zap.Error(err))
			}
			return
		}
		c.server.dispatch(c, env)
	}
}

// handleWebSocket upgrades the connection and binds it to the room named by
// the "room" query parameter; open-room and join-room both act on this
// room, since a connection serves exactly one room for its lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		netplaylog.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(ws, s)
	c.roomName = r.URL.Query().Get("room")
	go c.writePump()
	c.readPump()
}
