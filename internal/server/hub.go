package server

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/zalo/netplaycore/internal/clock"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/gamemode"
	"github.com/zalo/netplaycore/internal/metrics"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/room"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/signaling"
	"github.com/zalo/netplaycore/internal/spectator"
	"go.uber.org/zap"
)

var errRoomNotTracked = errs.New(errs.NoSuchRoom, "room is not tracked by the session manager")

// dispatch routes one inbound envelope to its handler by event name. Reply
// envelopes (responses to server-initiated requests) never arrive here
// since this daemon never emits with reply=true to a client.
func (s *Server) dispatch(c *conn, env signaling.Envelope) {
	ctx := netplaylog.WithRoom(context.Background(), c.roomName)
	if c.participantID != "" {
		ctx = netplaylog.WithParticipant(ctx, c.participantID)
	}

	switch env.Event {
	case "open-room":
		s.handleOpenRoom(ctx, c, env)
	case "join-room":
		s.handleJoinRoom(ctx, c, env)
	case "leave-room":
		s.handleLeaveRoom(ctx, c, env)
	case "toggle-ready":
		s.handleToggleReady(ctx, c, env)
	case "start-game":
		s.handleStartGame(ctx, c, env)
	case "ready-at-frame-1":
		s.handleReadyAtFrame1(ctx, c, env)
	case "update-player-slot":
		s.handleUpdateSlot(ctx, c, env)
	case "update-room-metadata":
		s.handleUpdateRoomMetadata(ctx, c, env)
	case "update-player-metadata":
		s.handleUpdatePlayerMetadata(ctx, c, env)
	case "chat-message":
		s.handleChatMessage(ctx, c, env)
	case "data-message":
		s.handleDataMessage(ctx, c, env)
	case "sfu-connect-transport", "sfu-produce", "produce-data", "sfu-consume", "consume-data", "sfu-restart-ice":
		s.dispatchSFU(ctx, c, env)
	default:
		netplaylog.Warn(ctx, "unknown signaling event", zap.String("event", env.Event))
	}
}

func (s *Server) handleOpenRoom(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Extra      room.PlayerInfo `json:"extra"`
		MaxPlayers int             `json:"maxPlayers"`
		Password   string          `json:"password"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode open-room", err))
		return
	}
	if c.roomName == "" {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "missing room name"))
		return
	}

	modeID := gamemode.ModeStreamParty
	if m, ok := body.Extra.Extra["mode"].(string); ok && m != "" {
		modeID = m
	}
	mode, ok := s.modes.Get(modeID)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "unknown game mode"))
		return
	}
	maxParticipants := mode.MaxPlayers
	if body.MaxPlayers > 0 {
		mode.MaxPlayers = body.MaxPlayers
		maxParticipants = body.MaxPlayers
	}

	var passwordHash *string
	if body.Password != "" {
		passwordHash = &body.Password
	}

	sessRoom, err := s.sessions.Create(c.roomName, maxParticipants, passwordHash, mode)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	host, err := sessRoom.AddHost(body.Extra.Name)
	if err != nil {
		s.sessions.Remove(c.roomName)
		c.reply(env.ReplyTo, nil, err)
		return
	}

	rs, err := s.getOrCreateRoomState(c.roomName, mode)
	if err != nil {
		s.sessions.Remove(c.roomName)
		c.reply(env.ReplyTo, nil, err)
		return
	}
	if _, err := rs.exec.Slots.Assign(host.ID, nil); err != nil {
		netplaylog.Warn(ctx, "host slot auto-assign failed", zap.Error(err))
	}

	c.participantID = host.ID
	rs.register(host.ID, c)
	metrics.RoomParticipants.WithLabelValues(c.roomName).Set(float64(sessRoom.Count()))
	netplaylog.Info(ctx, "room opened", zap.String("host", host.ID))
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
}

func (s *Server) handleJoinRoom(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Extra    room.PlayerInfo `json:"extra"`
		Password string          `json:"password"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode join-room", err))
		return
	}

	sessRoom, ok := s.sessions.Get(c.roomName)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.NoSuchRoom, "no such room"))
		return
	}
	if sessRoom.PasswordHash != nil && *sessRoom.PasswordHash != body.Password {
		c.reply(env.ReplyTo, nil, errs.New(errs.BadPassword, "incorrect password"))
		return
	}

	participant, err := sessRoom.AddParticipant(body.Extra.Name)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}

	rs, ok := s.roomStateFor(c.roomName)
	if !ok {
		c.reply(env.ReplyTo, nil, errRoomNotTracked)
		return
	}

	c.participantID = participant.ID
	rs.register(participant.ID, c)
	metrics.RoomParticipants.WithLabelValues(c.roomName).Set(float64(sessRoom.Count()))

	users := make(map[string]session.Participant)
	for _, p := range sessRoom.All() {
		users[p.ID] = *p
	}
	c.reply(env.ReplyTo, map[string]interface{}{"users": users}, nil)
	rs.broadcast("users-updated", map[string]interface{}{"users": users}, participant.ID)
}

func (s *Server) handleLeaveRoom(ctx context.Context, c *conn, env signaling.Envelope) {
	s.removeParticipant(ctx, c)
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
}

// handleDisconnect is invoked when a connection's read loop exits for any
// reason, including a clean close the client never explicitly
// acknowledged with leave-room.
func (s *Server) handleDisconnect(c *conn) {
	if c.participantID == "" {
		return
	}
	s.removeParticipant(context.Background(), c)
}

func (s *Server) removeParticipant(ctx context.Context, c *conn) {
	if c.participantID == "" || c.roomName == "" {
		return
	}
	rs, ok := s.roomStateFor(c.roomName)
	if !ok {
		return
	}
	sessRoom, ok := s.sessions.Get(c.roomName)
	if !ok {
		return
	}

	wasHost := false
	if host := sessRoom.Host(); host != nil && host.ID == c.participantID {
		wasHost = true
	}

	sessRoom.RemoveParticipant(c.participantID)
	rs.exec.Slots.Release(c.participantID)
	rs.unregister(c.participantID)

	if wasHost {
		rs.broadcast("room-closed", map[string]string{"reason": "host left"}, "")
		s.closeRoomState(c.roomName)
		return
	}
	metrics.RoomParticipants.WithLabelValues(c.roomName).Set(float64(sessRoom.Count()))
	rs.broadcast("users-updated", map[string]interface{}{"users": snapshotUsers(sessRoom)}, "")
}

func snapshotUsers(r *session.Room) map[string]session.Participant {
	users := make(map[string]session.Participant)
	for _, p := range r.All() {
		users[p.ID] = *p
	}
	return users
}

func (s *Server) handleToggleReady(ctx context.Context, c *conn, env signaling.Envelope) {
	sessRoom, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	p, ok := sessRoom.Get(c.participantID)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "unknown participant"))
		return
	}
	sessRoom.SetReady(c.participantID, !p.Ready)
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
	rs.broadcast("player-ready-updated", map[string]interface{}{"participantId": c.participantID, "ready": !p.Ready}, "")
}

func (s *Server) handleStartGame(ctx context.Context, c *conn, env signaling.Envelope) {
	sessRoom, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	if host := sessRoom.Host(); host == nil || host.ID != c.participantID {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "only the host may start the game"))
		return
	}
	if err := rs.exec.TryStart(); err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
	rs.broadcast("prepare-start", nil, "")
	rs.broadcast("start-game", nil, "")
}

func (s *Server) handleReadyAtFrame1(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Frame clock.Frame `json:"frame"`
	}
	_ = json.Unmarshal(env.Payload, &body)
	_, _, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
}

func (s *Server) handleUpdateSlot(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		PlayerSlot *int `json:"playerSlot"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode update-player-slot", err))
		return
	}
	sessRoom, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}

	if body.PlayerSlot == nil {
		rs.exec.Slots.Release(c.participantID)
		rs.exec.Spectators.MarkSpectator(c.participantID)
	} else if _, aerr := rs.exec.Slots.Assign(c.participantID, body.PlayerSlot); aerr != nil {
		c.reply(env.ReplyTo, nil, aerr)
		return
	} else {
		rs.exec.Spectators.UnmarkSpectator(c.participantID)
	}
	if err := sessRoom.SetSlot(c.participantID, body.PlayerSlot); err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	if body.PlayerSlot != nil {
		metrics.SlotOccupancy.WithLabelValues(c.roomName, strconv.Itoa(*body.PlayerSlot)).Set(1)
	}
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
	rs.broadcast("player-slot-updated", map[string]interface{}{"participantId": c.participantID, "slot": body.PlayerSlot}, "")
}

func (s *Server) handleUpdateRoomMetadata(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	_ = json.Unmarshal(env.Payload, &body)
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
	rs.broadcast("room-metadata-updated", body.Metadata, c.participantID)
}

func (s *Server) handleUpdatePlayerMetadata(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	_ = json.Unmarshal(env.Payload, &body)
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	c.reply(env.ReplyTo, map[string]bool{"ok": true}, nil)
	rs.broadcast("player-metadata-updated", map[string]interface{}{"participantId": c.participantID, "metadata": body.Metadata}, c.participantID)
}

func (s *Server) handleChatMessage(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return
	}
	sessRoom, rs, err := s.requireRoom(c)
	if err != nil {
		return
	}
	name := c.participantID
	if p, ok := sessRoom.Get(c.participantID); ok {
		name = p.Name
	}
	msg := spectator.ChatMessage{SenderID: c.participantID, Name: name, Text: body.Text, Timestamp: time.Now()}
	rs.exec.Spectators.AppendReceived(msg)
	rs.broadcast("chat-message", msg, "")
}

// handleDataMessage relays the sync-control fallback payload between
// participants when every data channel between them failed to deliver it.
func (s *Server) handleDataMessage(ctx context.Context, c *conn, env signaling.Envelope) {
	_, rs, err := s.requireRoom(c)
	if err != nil {
		return
	}
	metrics.InputRetriesTotal.WithLabelValues(c.roomName).Inc()
	rs.broadcast("data-message", env.Payload, c.participantID)
}

func (s *Server) requireRoom(c *conn) (*session.Room, *roomState, error) {
	if c.participantID == "" || c.roomName == "" {
		return nil, nil, errs.New(errs.ProtocolError, "not in a room")
	}
	sessRoom, ok := s.sessions.Get(c.roomName)
	if !ok {
		return nil, nil, errs.New(errs.NoSuchRoom, "no such room")
	}
	rs, ok := s.roomStateFor(c.roomName)
	if !ok {
		return nil, nil, errRoomNotTracked
	}
	return sessRoom, rs, nil
}
