package room

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/signaling"
)

// responder maps an event name to the payload (or error) it replies with.
type responder func(env signaling.Envelope) (interface{}, error)

// newFakeSignalingServer starts a websocket server that answers requests
// according to fns, keyed by event name, and replies {} for anything else.
// Errors are carried the same way conn.reply carries them in production:
// the message in Error, and the errs.Kind (if any) in ErrorKind.
func newFakeSignalingServer(t *testing.T, fns map[string]responder) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			var env signaling.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.ReplyTo == "" {
				continue
			}
			reply := signaling.Envelope{ReplyTo: env.ReplyTo, IsReply: true}
			if fn, ok := fns[env.Event]; ok {
				payload, replyErr := fn(env)
				if replyErr != nil {
					reply.Error = replyErr.Error()
					var e *errs.Error
					if errors.As(replyErr, &e) {
						reply.ErrorKind = string(e.Kind)
					}
				} else {
					data, _ := json.Marshal(payload)
					reply.Payload = data
				}
			} else {
				reply.Payload = json.RawMessage(`{}`)
			}
			_ = conn.WriteJSON(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func connectedManager(t *testing.T, fns map[string]responder) (*Manager, *session.State) {
	t.Helper()
	srv := newFakeSignalingServer(t, fns)
	tr := signaling.New()
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Connect(context.Background(), wsURL(srv.URL), ""))

	state := session.NewState()
	m := New(tr, state, nil)
	return m, state
}

func TestOpenSeatsLocalHost(t *testing.T) {
	m, state := connectedManager(t, nil)

	name, err := m.Open(context.Background(), "my-room", 4, "", PlayerInfo{Name: "host"})
	assert.NoError(t, err)
	assert.Equal(t, "my-room", name)

	r := state.Room()
	require.NotNil(t, r)
	assert.Equal(t, session.RoleHost, state.Role())
}

func TestOpenPropagatesServerError(t *testing.T) {
	m, state := connectedManager(t, map[string]responder{
		"open-room": func(signaling.Envelope) (interface{}, error) {
			return nil, errs.New(errs.ProtocolError, "room name taken")
		},
	})

	_, err := m.Open(context.Background(), "taken", 4, "", PlayerInfo{Name: "host"})
	assert.Error(t, err)
	assert.Nil(t, state.Room())
}

func TestJoinSeatsLocalParticipantFromServerUsers(t *testing.T) {
	m, state := connectedManager(t, map[string]responder{
		"join-room": func(signaling.Envelope) (interface{}, error) {
			return RoomJoinResult{Users: map[string]session.Participant{
				"host-1": {ID: "host-1", Name: "host"},
			}}, nil
		},
	})

	result, err := m.Join(context.Background(), "existing-room", "", PlayerInfo{Name: "guest"})
	assert.NoError(t, err)
	assert.Len(t, result.Users, 1)
	assert.Equal(t, session.RoleClient, state.Role())
	assert.NotNil(t, state.Room())
}

func TestLeaveResetsLocalStateImmediately(t *testing.T) {
	left := make(chan struct{}, 1)
	m, state := connectedManager(t, map[string]responder{
		"leave-room": func(signaling.Envelope) (interface{}, error) {
			left <- struct{}{}
			return map[string]bool{"ok": true}, nil
		},
	})
	_, err := m.Open(context.Background(), "leave-me", 4, "", PlayerInfo{Name: "host"})
	require.NoError(t, err)

	m.Leave("done")
	assert.Nil(t, state.Room())

	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("server never received leave-room")
	}
}

func TestLeaveWithoutRoomIsNoop(t *testing.T) {
	m, state := connectedManager(t, nil)
	assert.NotPanics(t, func() { m.Leave("bye") })
	assert.Nil(t, state.Room())
}

func TestStartGameRejectsNonHostLocally(t *testing.T) {
	m, state := connectedManager(t, map[string]responder{
		"join-room": func(signaling.Envelope) (interface{}, error) {
			return RoomJoinResult{Users: map[string]session.Participant{}}, nil
		},
	})
	_, err := m.Join(context.Background(), "room", "", PlayerInfo{Name: "guest"})
	require.NoError(t, err)
	require.Equal(t, session.RoleClient, state.Role())

	err = m.StartGame(context.Background())
	assert.Error(t, err)
}

func TestToggleReadyRequiresRoom(t *testing.T) {
	m, _ := connectedManager(t, nil)
	err := m.ToggleReady(context.Background())
	assert.Error(t, err)
}

func TestUpdateSlotSendsRoomName(t *testing.T) {
	var gotRoom string
	m, _ := connectedManager(t, map[string]responder{
		"update-player-slot": func(env signaling.Envelope) (interface{}, error) {
			var body struct {
				RoomName string `json:"roomName"`
			}
			_ = json.Unmarshal(env.Payload, &body)
			gotRoom = body.RoomName
			return map[string]bool{"ok": true}, nil
		},
	})
	_, err := m.Open(context.Background(), "slot-room", 4, "", PlayerInfo{Name: "host"})
	require.NoError(t, err)

	slotIdx := 2
	assert.NoError(t, m.UpdateSlot(context.Background(), &slotIdx))
	assert.Equal(t, "slot-room", gotRoom)
}

// A server reply tagged errs.AuthRequired routes through the credential
// refresher before exactly one retry, which then succeeds.
func TestEmitWithAuthRetryRefreshesAndRetriesOnAuthRequired(t *testing.T) {
	calls := 0
	m, _ := connectedManager(t, map[string]responder{
		"toggle-ready": func(signaling.Envelope) (interface{}, error) {
			calls++
			if calls == 1 {
				return nil, errs.New(errs.AuthRequired, "token expired")
			}
			return map[string]bool{"ok": true}, nil
		},
	})
	_, err := m.Open(context.Background(), "auth-room", 4, "", PlayerInfo{Name: "host"})
	require.NoError(t, err)

	refreshed := false
	m.refresher = refresherFunc(func(context.Context) error {
		refreshed = true
		return nil
	})

	err = m.ToggleReady(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, refreshed)
}

// A non-auth-kind server error never reaches the refresher and is not
// retried.
func TestEmitWithAuthRetryDoesNotRetryOtherKinds(t *testing.T) {
	calls := 0
	m, _ := connectedManager(t, map[string]responder{
		"toggle-ready": func(signaling.Envelope) (interface{}, error) {
			calls++
			return nil, errs.New(errs.ProtocolError, "not ready")
		},
	})
	_, err := m.Open(context.Background(), "non-auth-room", 4, "", PlayerInfo{Name: "host"})
	require.NoError(t, err)

	refreshed := false
	m.refresher = refresherFunc(func(context.Context) error {
		refreshed = true
		return nil
	})

	err = m.ToggleReady(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, refreshed)
}

// When the refresher itself fails, emitWithAuthRetry surfaces that failure
// instead of retrying the original request.
func TestEmitWithAuthRetrySurfacesRefreshFailure(t *testing.T) {
	calls := 0
	m, _ := connectedManager(t, map[string]responder{
		"toggle-ready": func(signaling.Envelope) (interface{}, error) {
			calls++
			return nil, errs.New(errs.AuthRequired, "token expired")
		},
	})
	_, err := m.Open(context.Background(), "auth-fail-room", 4, "", PlayerInfo{Name: "host"})
	require.NoError(t, err)

	m.refresher = refresherFunc(func(context.Context) error {
		return errors.New("refresh denied")
	})

	err = m.ToggleReady(context.Background())
	assert.Error(t, err)
	assert.True(t, errs.IsAuthKind(err))
	assert.Equal(t, 1, calls)
}

type refresherFunc func(ctx context.Context) error

func (f refresherFunc) Refresh(ctx context.Context) error { return f(ctx) }
