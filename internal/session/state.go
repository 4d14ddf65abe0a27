package session

import (
	"sync"

	"github.com/zalo/netplaycore/internal/errs"
)

// ConnState is the local connection/membership state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Joining -> Joined
//	Joined -> Disconnected     (leave or disconnect)
//	Connecting -> Disconnected (connect error)
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateJoining      ConnState = "joining"
	StateJoined       ConnState = "joined"
)

var validTransitions = map[ConnState]map[ConnState]bool{
	StateDisconnected: {StateConnecting: true},
	StateConnecting:   {StateConnected: true, StateDisconnected: true},
	StateConnected:    {StateJoining: true, StateDisconnected: true},
	StateJoining:      {StateJoined: true, StateDisconnected: true},
	StateJoined:       {StateDisconnected: true},
}

// State is the per-membership connection state machine: transitions are
// driven exclusively by RoomManager, signaling connection events, and
// explicit Reset() — never called ad hoc from arbitrary call sites, so the
// state machine's invariants hold.
type State struct {
	mu sync.Mutex

	conn              ConnState
	role              Role
	room              *Room
	localParticipant  string
}

// NewState creates a State in the Disconnected/Spectator zero state.
func NewState() *State {
	return &State{conn: StateDisconnected, role: RoleSpectator}
}

// Transition attempts to move to `to`, failing if the edge isn't in the
// state machine above.
func (s *State) Transition(to ConnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransitions[s.conn][to] {
		return errs.New(errs.ProtocolError, "invalid session state transition")
	}
	s.conn = to
	return nil
}

// Conn returns the current connection state.
func (s *State) Conn() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// SetRoom records the room handle and local participant id once joined.
func (s *State) SetRoom(room *Room, localParticipantID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	s.localParticipant = localParticipantID
	s.role = role
}

// Room returns the current room handle, or nil.
func (s *State) Room() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// LocalParticipantID returns the local participant's id within Room().
func (s *State) LocalParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localParticipant
}

// Role returns the local participant's role.
func (s *State) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Reset returns the state machine to Disconnected and clears room
// membership, regardless of the current state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = StateDisconnected
	s.role = RoleSpectator
	s.room = nil
	s.localParticipant = ""
}
