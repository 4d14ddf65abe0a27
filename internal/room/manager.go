// Package room implements RoomManager: the client-side control surface for
// opening, joining, and operating a room over a signaling.Transport. Every
// mutating call is a request/response round trip correlated by the
// transport's reply mechanism; server-pushed events are mirrored into the
// local session.State/Room so reads never block on the network.
package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zalo/netplaycore/internal/clock"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/signaling"
	"github.com/zalo/netplaycore/internal/wire"
	"go.uber.org/zap"
)

// leaveTimeout bounds how long Leave waits for the server's acknowledgement
// once the local state has already transitioned to disconnected.
const leaveTimeout = 2 * time.Second

// CredentialRefresher re-authenticates and supplies a fresh token after a
// signaling call fails with an auth-tagged error.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// PlayerInfo is what a participant presents when opening or joining a room.
type PlayerInfo struct {
	Name  string                 `json:"name"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// RoomJoinResult is the response to a join request.
type RoomJoinResult struct {
	Users map[string]session.Participant `json:"users"`
}

// Manager is the client-side room control surface.
type Manager struct {
	transport *signaling.Transport
	state     *session.State
	refresher CredentialRefresher

	onUsersUpdated       func(map[string]session.Participant)
	onPlayerSlotUpdated  func(participantID string, slot *int)
	onPlayerReadyUpdated func(participantID string, ready bool)
	onValidationUpdated  func(participantID string, valid bool, reason string)
	onPrepareStart       func()
	onStartGame          func()
	onRoomClosed         func(reason string)
	onChatMessage        func(from, text string)
	onHostPaused         func()
	onHostResumed        func()
	onNewProducer        func(producerID, kind string)
}

// New constructs a Manager bound to transport and state, and subscribes to
// every server-to-client event the protocol defines.
func New(transport *signaling.Transport, state *session.State, refresher CredentialRefresher) *Manager {
	m := &Manager{transport: transport, state: state, refresher: refresher}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	m.transport.On("users-updated", m.handleUsersUpdated)
	m.transport.On("player-slot-updated", m.handlePlayerSlotUpdated)
	m.transport.On("player-ready-updated", m.handlePlayerReadyUpdated)
	m.transport.On("player-validation-updated", m.handleValidationUpdated)
	m.transport.On("prepare-start", m.handlePrepareStart)
	m.transport.On("start-game", m.handleStartGame)
	m.transport.On("room-closed", m.handleRoomClosed)
	m.transport.On("chat-message", m.handleChatMessage)
	m.transport.On("netplay-host-paused", m.handleHostPaused)
	m.transport.On("netplay-host-resumed", m.handleHostResumed)
	m.transport.On("new-producer", m.handleNewProducer)
}

// Open creates a room, returning the session id (the room name) on success.
func (m *Manager) Open(ctx context.Context, name string, maxPlayers int, password string, info PlayerInfo) (string, error) {
	payload := struct {
		Extra      PlayerInfo `json:"extra"`
		MaxPlayers int        `json:"maxPlayers"`
		Password   string     `json:"password"`
	}{info, maxPlayers, password}

	if _, err := m.emitWithAuthRetry(ctx, "open-room", payload); err != nil {
		return "", err
	}

	local := session.NewRoom(name, maxPlayers, passwordHashOf(password), session.ModeDescriptor{})
	host, err := local.AddHost(info.Name)
	if err != nil {
		return "", err
	}
	m.state.SetRoom(local, host.ID, session.RoleHost)
	m.markJoined(ctx, "open-room")
	return name, nil
}

// Join joins an existing room by session id (room name), returning the
// current participant map.
func (m *Manager) Join(ctx context.Context, sessionID string, password string, info PlayerInfo) (RoomJoinResult, error) {
	payload := struct {
		Extra    PlayerInfo `json:"extra"`
		Password string     `json:"password"`
	}{info, password}

	raw, err := m.emitWithAuthRetry(ctx, "join-room", payload)
	if err != nil {
		return RoomJoinResult{}, err
	}

	var result RoomJoinResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return RoomJoinResult{}, errs.Wrap(errs.ProtocolError, "decode join-room response", err)
	}

	local := session.NewRoom(sessionID, len(result.Users)+1, passwordHashOf(password), session.ModeDescriptor{})
	self, err := local.AddParticipant(info.Name)
	if err != nil {
		return RoomJoinResult{}, err
	}
	m.state.SetRoom(local, self.ID, session.RoleClient)
	m.markJoined(ctx, "join-room")
	return result, nil
}

// markJoined drives the connection state machine through its full
// Connecting->Connected->Joining->Joined sequence, so a successful
// open/join leaves Conn() consistent with Room() instead of attempting an
// invalid Disconnected->Joined hop directly.
func (m *Manager) markJoined(ctx context.Context, who string) {
	for _, to := range []session.ConnState{session.StateConnecting, session.StateConnected, session.StateJoining, session.StateJoined} {
		if err := m.state.Transition(to); err != nil {
			netplaylog.Warn(ctx, "local state transition after "+who+" failed", zap.Error(err), zap.String("target", string(to)))
			return
		}
	}
}

// Leave proceeds locally immediately, resetting all local room state, and
// then makes a best-effort attempt to notify the server within
// leaveTimeout; a missing or late server acknowledgement is logged, not
// surfaced, since the local state has already moved on.
func (m *Manager) Leave(reason string) {
	r := m.state.Room()
	m.state.Reset()

	if r == nil || !m.transport.IsConnected() {
		return
	}

	roomName := r.Name
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		payload := struct {
			RoomName string `json:"roomName"`
			Reason   string `json:"reason,omitempty"`
		}{roomName, reason}
		if _, err := m.transport.Emit(ctx, "leave-room", payload, true); err != nil {
			netplaylog.Warn(ctx, "leave-room not acknowledged by server", zap.String("room", roomName), zap.Error(err))
		}
	}()
}

// ToggleReady flips the local participant's ready flag on the server.
func (m *Manager) ToggleReady(ctx context.Context) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	_, err = m.emitWithAuthRetry(ctx, "toggle-ready", map[string]string{"roomName": roomName})
	return err
}

// StartGame requests the transition to running. Host-only: the server is
// the authority, but failing fast locally avoids a round trip for a
// request that can never succeed.
func (m *Manager) StartGame(ctx context.Context) error {
	if m.state.Role() != session.RoleHost {
		return errs.New(errs.ProtocolError, "only the host may start the game")
	}
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	_, err = m.emitWithAuthRetry(ctx, "start-game", map[string]string{"roomName": roomName})
	return err
}

// AnnounceReadyAtFrame1 tells the server the local simulator reached frame
// 1 of the running phase, used to align the host-authoritative frame clock
// across participants at game start.
func (m *Manager) AnnounceReadyAtFrame1(ctx context.Context, frame clock.Frame) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName string      `json:"roomName"`
		Frame    clock.Frame `json:"frame"`
	}{roomName, frame}
	_, err = m.emitWithAuthRetry(ctx, "ready-at-frame-1", payload)
	return err
}

// UpdateSlot requests a slot change; nil means spectator.
func (m *Manager) UpdateSlot(ctx context.Context, slot *int) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName   string `json:"roomName"`
		PlayerSlot *int   `json:"playerSlot"`
	}{roomName, slot}
	_, err = m.emitWithAuthRetry(ctx, "update-player-slot", payload)
	return err
}

// UpdateRoomMetadata replaces the room-level metadata blob. Host-only by
// server-side policy; this call does not pre-check locally since
// metadata authority rules vary by mode.
func (m *Manager) UpdateRoomMetadata(ctx context.Context, metadata interface{}) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName string      `json:"roomName"`
		Metadata interface{} `json:"metadata"`
	}{roomName, metadata}
	_, err = m.emitWithAuthRetry(ctx, "update-room-metadata", payload)
	return err
}

// UpdatePlayerMetadata replaces the local participant's metadata blob.
func (m *Manager) UpdatePlayerMetadata(ctx context.Context, metadata interface{}) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName string      `json:"roomName"`
		Metadata interface{} `json:"metadata"`
	}{roomName, metadata}
	_, err = m.emitWithAuthRetry(ctx, "update-player-metadata", payload)
	return err
}

// SendChatMessage broadcasts a chat entry to the room.
func (m *Manager) SendChatMessage(ctx context.Context, text string) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName string `json:"roomName"`
		Text     string `json:"text"`
	}{roomName, text}
	_, err = m.transport.Emit(ctx, "chat-message", payload, false)
	return err
}

// SendSyncControl implements inputsync.SignalingFallback: it relays input
// payloads that every configured data channel failed to deliver over the
// signaling connection itself, as a last resort.
func (m *Manager) SendSyncControl(payloads []wire.InputPayload) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName    string              `json:"roomName"`
		SyncControl []wire.InputPayload `json:"sync-control"`
	}{roomName, payloads}
	_, err = m.transport.Emit(context.Background(), "data-message", payload, false)
	return err
}

// Acknowledge implements inputsync.SignalingFallback: it relays an
// acknowledgement for frame back to toParticipant over the same fallback
// path.
func (m *Manager) Acknowledge(frame clock.Frame, toParticipant string) error {
	roomName, err := m.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName string      `json:"roomName"`
		To       string      `json:"to"`
		Ack      clock.Frame `json:"ack"`
	}{roomName, toParticipant, frame}
	_, err = m.transport.Emit(context.Background(), "data-message", payload, false)
	return err
}

func (m *Manager) requireRoom() (string, error) {
	r := m.state.Room()
	if r == nil {
		return "", errs.New(errs.ProtocolError, "not in a room")
	}
	return r.Name, nil
}

// emitWithAuthRetry performs a correlated request, routing an auth-tagged
// failure to the credential-refresh collaborator before retrying exactly
// once. Every other error propagates directly to the caller.
func (m *Manager) emitWithAuthRetry(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	resp, err := m.transport.Emit(ctx, event, payload, true)
	if err == nil || !errs.IsAuthKind(err) || m.refresher == nil {
		return resp, err
	}
	if rerr := m.refresher.Refresh(ctx); rerr != nil {
		return nil, errs.Wrap(errs.AuthRequired, "credential refresh failed", rerr)
	}
	return m.transport.Emit(ctx, event, payload, true)
}

func passwordHashOf(password string) *string {
	if password == "" {
		return nil
	}
	return &password
}
