// Package signaling implements a duplex channel over a persistent
// websocket connection: request/response with correlation ids plus event
// pub/sub. Connect carries a hard timeout, and emits and subscriptions
// registered before the handshake completes are queued and flushed once it
// does. The transport does not redial on its own when the socket drops; a
// later Connect opens a new socket and keeps every subscription already
// registered.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/netplaylog"
)

// ConnectTimeout is the hard timeout for Connect.
const ConnectTimeout = 10 * time.Second

// Envelope is the wire frame every message travels in: a named event with a
// JSON payload and an optional correlation id used to route replies back to
// the caller that emitted with a reply channel.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	IsReply bool            `json:"is_reply,omitempty"`
	Error   string          `json:"error,omitempty"`
	// ErrorKind carries the errs.Kind of Error across the wire, so a
	// reply's error classifies the same way on either side of the
	// connection instead of collapsing to a generic protocol error.
	ErrorKind string `json:"error_kind,omitempty"`
}

// Handler processes an incoming event payload.
type Handler func(payload json.RawMessage)

type pendingReply struct {
	ch chan Envelope
}

type queuedEmit struct {
	event   string
	payload json.RawMessage
	replyTo string
}

// Transport is a client-side signaling connection.
type Transport struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	handlers    map[string][]Handler
	pending     map[string]pendingReply
	queuedEmits []queuedEmit
	queuedSubs  []struct {
		event   string
		handler Handler
	}
	sendMu sync.Mutex
	dialer *websocket.Dialer
}

// New constructs a disconnected Transport.
func New() *Transport {
	return &Transport{
		handlers: make(map[string][]Handler),
		pending:  make(map[string]pendingReply),
		dialer:   websocket.DefaultDialer,
	}
}

// Connect dials url, optionally carrying a bearer token, and blocks until
// the handshake completes or ConnectTimeout elapses.
func (t *Transport) Connect(ctx context.Context, url string, token string) error {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	header := make(map[string][]string)
	if token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}

	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, _, err := t.dialer.Dial(url, header)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return errs.New(errs.Timeout, "signaling connect timed out")
	case res := <-resultCh:
		if res.err != nil {
			return errs.Wrap(errs.NotConnected, "signaling connect failed", res.err)
		}
		t.mu.Lock()
		t.conn = res.conn
		t.connected = true
		toEmit := t.queuedEmits
		t.queuedEmits = nil
		subs := t.queuedSubs
		t.queuedSubs = nil
		for _, s := range subs {
			t.handlers[s.event] = append(t.handlers[s.event], s.handler)
		}
		t.mu.Unlock()

		go t.readLoop()

		for _, qe := range toEmit {
			_ = t.writeEnvelope(Envelope{Event: qe.event, Payload: qe.payload, ReplyTo: qe.replyTo})
		}
		return nil
	}
}

// IsConnected reports true only after a successful handshake, dropping to
// false on any disconnect.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// On subscribes handler to event. Subscriptions survive reconnects;
// handlers registered before Connect are queued.
func (t *Transport) On(event string, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		t.queuedSubs = append(t.queuedSubs, struct {
			event   string
			handler Handler
		}{event, handler})
		return
	}
	t.handlers[event] = append(t.handlers[event], handler)
}

// Emit sends an event with payload. Emits before connect are queued and
// flushed after connect. When reply is true, Emit blocks for one response
// (success or error reply).
func (t *Transport) Emit(ctx context.Context, event string, payload interface{}, reply bool) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "marshal emit payload", err)
	}

	var correlationID string
	var waitCh chan Envelope
	if reply {
		correlationID = uuid.New().String()
		waitCh = make(chan Envelope, 1)
		t.mu.Lock()
		t.pending[correlationID] = pendingReply{ch: waitCh}
		t.mu.Unlock()
	}

	t.mu.Lock()
	connected := t.connected
	if !connected {
		t.queuedEmits = append(t.queuedEmits, queuedEmit{event: event, payload: data, replyTo: correlationID})
		t.mu.Unlock()
		if !reply {
			return nil, nil
		}
		// Nothing to wait on yet; the emit flushes on Connect, and the
		// reply (if any) arrives afterward on waitCh.
	} else {
		t.mu.Unlock()
		if err := t.writeEnvelope(Envelope{Event: event, Payload: data, ReplyTo: correlationID}); err != nil {
			return nil, errs.Wrap(errs.NotConnected, "emit failed", err)
		}
	}

	if !reply {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, correlationID)
		t.mu.Unlock()
		return nil, errs.New(errs.Timeout, "emit reply timed out")
	case env := <-waitCh:
		if env.Error != "" {
			kind := errs.ProtocolError
			if env.ErrorKind != "" {
				kind = errs.Kind(env.ErrorKind)
			}
			return nil, errs.New(kind, env.Error)
		}
		return env.Payload, nil
	}
}

func (t *Transport) writeEnvelope(env Envelope) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errs.New(errs.NotConnected, "not connected")
	}
	return conn.WriteJSON(env)
}

func (t *Transport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			t.connected = false
			t.conn = nil
			t.mu.Unlock()
			netplaylog.Warn(context.Background(), "signaling transport disconnected")
			return
		}

		if env.IsReply && env.ReplyTo != "" {
			t.mu.Lock()
			pr, ok := t.pending[env.ReplyTo]
			if ok {
				delete(t.pending, env.ReplyTo)
			}
			t.mu.Unlock()
			if ok {
				pr.ch <- env
			}
			continue
		}

		t.mu.Lock()
		handlers := append([]Handler(nil), t.handlers[env.Event]...)
		t.mu.Unlock()
		for _, h := range handlers {
			h(env.Payload)
		}
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.connected = false
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reply sends a correlated reply envelope back over this transport; used
// on the server side of the duplex (the daemon) to answer a request
// emitted with reply=true.
func (t *Transport) Reply(correlationID string, payload interface{}, replyErr error) error {
	var data json.RawMessage
	if payload != nil {
		d, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("signaling: marshal reply: %w", err)
		}
		data = d
	}
	env := Envelope{ReplyTo: correlationID, IsReply: true, Payload: data}
	if replyErr != nil {
		env.Error = replyErr.Error()
		var e *errs.Error
		if errors.As(replyErr, &e) {
			env.ErrorKind = string(e.Kind)
		}
	}
	return t.writeEnvelope(env)
}
