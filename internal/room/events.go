package room

import (
	"context"
	"encoding/json"

	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/session"
	"go.uber.org/zap"
)

// OnUsersUpdated registers the callback fired when the full participant map
// changes.
func (m *Manager) OnUsersUpdated(fn func(map[string]session.Participant)) { m.onUsersUpdated = fn }

// OnPlayerSlotUpdated registers the callback fired when any participant's
// slot changes.
func (m *Manager) OnPlayerSlotUpdated(fn func(participantID string, slot *int)) {
	m.onPlayerSlotUpdated = fn
}

// OnPlayerReadyUpdated registers the callback fired when any participant's
// ready flag changes.
func (m *Manager) OnPlayerReadyUpdated(fn func(participantID string, ready bool)) {
	m.onPlayerReadyUpdated = fn
}

// OnValidationUpdated registers the callback fired when any participant's
// compatibility validation result changes.
func (m *Manager) OnValidationUpdated(fn func(participantID string, valid bool, reason string)) {
	m.onValidationUpdated = fn
}

// OnPrepareStart registers the callback fired when the host signals an
// imminent transition to running, ahead of the authoritative start-game.
func (m *Manager) OnPrepareStart(fn func()) { m.onPrepareStart = fn }

// OnStartGame registers the callback fired when the room transitions to
// running.
func (m *Manager) OnStartGame(fn func()) { m.onStartGame = fn }

// OnRoomClosed registers the callback fired when the room closes, carrying
// the close reason.
func (m *Manager) OnRoomClosed(fn func(reason string)) { m.onRoomClosed = fn }

// OnChatMessage registers the callback fired for every incoming chat entry.
func (m *Manager) OnChatMessage(fn func(from, text string)) { m.onChatMessage = fn }

// OnHostPaused registers the callback fired when the host pauses streaming.
func (m *Manager) OnHostPaused(fn func()) { m.onHostPaused = fn }

// OnHostResumed registers the callback fired when the host resumes
// streaming.
func (m *Manager) OnHostResumed(fn func()) { m.onHostResumed = fn }

// OnNewProducer registers the callback fired when a new SFU producer
// becomes available to consume.
func (m *Manager) OnNewProducer(fn func(producerID, kind string)) { m.onNewProducer = fn }

func (m *Manager) handleUsersUpdated(payload json.RawMessage) {
	var body struct {
		Users map[string]session.Participant `json:"users"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed users-updated event", zap.Error(err))
		return
	}
	if m.onUsersUpdated != nil {
		m.onUsersUpdated(body.Users)
	}
}

func (m *Manager) handlePlayerSlotUpdated(payload json.RawMessage) {
	var body struct {
		ParticipantID string `json:"participantId"`
		Slot          *int   `json:"slot"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed player-slot-updated event", zap.Error(err))
		return
	}
	if r := m.state.Room(); r != nil {
		if err := r.SetSlot(body.ParticipantID, body.Slot); err != nil {
			netplaylog.Warn(context.Background(), "player-slot-updated for unknown participant",
				zap.String("participant_id", body.ParticipantID))
		}
	}
	if m.onPlayerSlotUpdated != nil {
		m.onPlayerSlotUpdated(body.ParticipantID, body.Slot)
	}
}

func (m *Manager) handlePlayerReadyUpdated(payload json.RawMessage) {
	var body struct {
		ParticipantID string `json:"participantId"`
		Ready         bool   `json:"ready"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed player-ready-updated event", zap.Error(err))
		return
	}
	if r := m.state.Room(); r != nil {
		r.SetReady(body.ParticipantID, body.Ready)
	}
	if m.onPlayerReadyUpdated != nil {
		m.onPlayerReadyUpdated(body.ParticipantID, body.Ready)
	}
}

func (m *Manager) handleValidationUpdated(payload json.RawMessage) {
	var body struct {
		ParticipantID string `json:"participantId"`
		Valid         bool   `json:"valid"`
		Reason        string `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed player-validation-updated event", zap.Error(err))
		return
	}
	if r := m.state.Room(); r != nil {
		r.SetValidated(body.ParticipantID, body.Valid)
	}
	if m.onValidationUpdated != nil {
		m.onValidationUpdated(body.ParticipantID, body.Valid, body.Reason)
	}
}

func (m *Manager) handlePrepareStart(payload json.RawMessage) {
	if m.onPrepareStart != nil {
		m.onPrepareStart()
	}
}

func (m *Manager) handleStartGame(payload json.RawMessage) {
	if r := m.state.Room(); r != nil {
		r.TransitionToRunning()
	}
	if m.onStartGame != nil {
		m.onStartGame()
	}
}

func (m *Manager) handleRoomClosed(payload json.RawMessage) {
	var body struct {
		Reason string `json:"reason,omitempty"`
	}
	_ = json.Unmarshal(payload, &body)
	m.state.Reset()
	if m.onRoomClosed != nil {
		m.onRoomClosed(body.Reason)
	}
}

func (m *Manager) handleChatMessage(payload json.RawMessage) {
	var body struct {
		From string `json:"from"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed chat-message event", zap.Error(err))
		return
	}
	if m.onChatMessage != nil {
		m.onChatMessage(body.From, body.Text)
	}
}

func (m *Manager) handleHostPaused(payload json.RawMessage) {
	if m.onHostPaused != nil {
		m.onHostPaused()
	}
}

func (m *Manager) handleHostResumed(payload json.RawMessage) {
	if m.onHostResumed != nil {
		m.onHostResumed()
	}
}

func (m *Manager) handleNewProducer(payload json.RawMessage) {
	var body struct {
		ProducerID string `json:"producerId"`
		Kind       string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		netplaylog.Warn(context.Background(), "discarding malformed new-producer event", zap.Error(err))
		return
	}
	if m.onNewProducer != nil {
		m.onNewProducer(body.ProducerID, body.Kind)
	}
}
