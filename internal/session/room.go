// Package session implements the Room/Participant data model: a
// multi-room, multi-participant model with an explicit lifecycle phase
// and a host-leaves-closes-room invariant.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zalo/netplaycore/internal/errs"
)

// Role is a participant's role within a room.
type Role string

const (
	RoleHost      Role = "host"
	RoleClient    Role = "client"
	RoleSpectator Role = "spectator"
)

// Phase is the room's lifecycle phase.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseRunning Phase = "running"
	PhaseClosed  Phase = "closed"
)

// CompatManifest is the optional compatibility manifest carried by a
// participant: emulator core id/version, ROM hash/size.
type CompatManifest struct {
	EmulatorCore    string
	EmulatorVersion string
	RomHash         string
	RomSize         int64
}

// ModeDescriptor is the immutable per-room mode descriptor.
type ModeDescriptor struct {
	ID                    string
	RequiresEmulatorMatch bool
	RequiresRomMatch      bool
	AllowsPassController  bool
	HostStreamsOnly       bool
	SupportsRollback      bool
	MaxPlayers            int
}

// Participant is a stable, opaque-ID'd member of a room.
type Participant struct {
	ID            string
	Name          string
	Slot          *int // nil => spectator
	Host          bool
	Ready         bool
	Validated     bool
	PreferredSlot *int // explicit field, not a global
	Manifest      *CompatManifest
	JoinedAt      time.Time
}

func (p *Participant) roleOf() Role {
	switch {
	case p.Host:
		return RoleHost
	case p.Slot != nil:
		return RoleClient
	default:
		return RoleSpectator
	}
}

// Room holds membership, role, and room metadata. Its invariants
// are enforced here and documented per method:
//   - exactly one participant is host while the room is not closed; when
//     the host leaves, the room closes and every participant is detached.
//   - |participants| <= MaxParticipants.
//   - exclusive-slot exclusivity is enforced by the slot.Manager the room
//     owns (component 3), not duplicated here.
type Room struct {
	mu sync.RWMutex

	Name            string
	PasswordHash    *string
	MaxParticipants int
	Mode            ModeDescriptor
	Phase           Phase
	CreatedAt       time.Time
	ClosedAt        *time.Time

	participants map[string]*Participant
	host         *Participant

	onPeerJoined  func(*Participant)
	onPeerLeft    func(*Participant)
	onRoleChanged func(*Participant, Role)
	onClosed      func()
}

// NewRoom creates an empty room in the lobby phase.
func NewRoom(name string, maxParticipants int, passwordHash *string, mode ModeDescriptor) *Room {
	return &Room{
		Name:            name,
		PasswordHash:    passwordHash,
		MaxParticipants: maxParticipants,
		Mode:            mode,
		Phase:           PhaseLobby,
		CreatedAt:       time.Now(),
		participants:    make(map[string]*Participant),
	}
}

// AddHost seats the first participant as host. Fails if the room already
// has a host or is closed.
func (r *Room) AddHost(name string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Phase == PhaseClosed {
		return nil, errs.New(errs.NoSuchRoom, "room is closed")
	}
	if r.host != nil {
		return nil, errs.New(errs.ProtocolError, "room already has a host")
	}
	if len(r.participants) >= r.MaxParticipants {
		return nil, errs.New(errs.RoomFull, "room is full")
	}

	p := &Participant{ID: uuid.New().String(), Name: name, Host: true, JoinedAt: time.Now()}
	r.participants[p.ID] = p
	r.host = p

	if r.onPeerJoined != nil {
		go r.onPeerJoined(p)
	}
	return p, nil
}

// AddParticipant joins a non-host participant, defaulting to spectator
// (callers seat them via SlotManager.Assign separately).
func (r *Room) AddParticipant(name string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Phase == PhaseClosed {
		return nil, errs.New(errs.NoSuchRoom, "room is closed")
	}
	if len(r.participants) >= r.MaxParticipants {
		return nil, errs.New(errs.RoomFull, "room is full")
	}

	p := &Participant{ID: uuid.New().String(), Name: name, JoinedAt: time.Now()}
	r.participants[p.ID] = p

	if r.onPeerJoined != nil {
		go r.onPeerJoined(p)
	}
	return p, nil
}

// RemoveParticipant detaches a participant. If the departing participant
// was host, the room transitions to closed and every remaining
// participant is detached. Idempotent: removing an
// unknown ID is a no-op.
func (r *Room) RemoveParticipant(id string) {
	r.mu.Lock()

	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, id)
	wasHost := p.Host

	if wasHost {
		r.host = nil
		r.Phase = PhaseClosed
		now := time.Now()
		r.ClosedAt = &now
		remaining := make([]*Participant, 0, len(r.participants))
		for _, other := range r.participants {
			remaining = append(remaining, other)
		}
		r.participants = make(map[string]*Participant)
		cb := r.onPeerLeft
		closedCb := r.onClosed
		r.mu.Unlock()

		if cb != nil {
			go cb(p)
			for _, other := range remaining {
				go cb(other)
			}
		}
		if closedCb != nil {
			go closedCb()
		}
		return
	}

	cb := r.onPeerLeft
	r.mu.Unlock()
	if cb != nil {
		go cb(p)
	}
}

// SetSlot records which slot a participant holds, or nil for spectator.
// Slot allocation itself is owned by slot.Manager; Room only mirrors the
// assignment onto the Participant record.
func (r *Room) SetSlot(id string, slotValue *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return errs.New(errs.ProtocolError, "no such participant")
	}
	before := p.roleOf()
	p.Slot = slotValue
	after := p.roleOf()
	if after != before && r.onRoleChanged != nil {
		go r.onRoleChanged(p, after)
	}
	return nil
}

// SetReady toggles a participant's ready flag.
func (r *Room) SetReady(id string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Ready = ready
	}
}

// SetValidated records whether a participant passed compatibility
// validation.
func (r *Room) SetValidated(id string, validated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Validated = validated
	}
}

// SetManifest attaches a compatibility manifest to a participant.
func (r *Room) SetManifest(id string, m *CompatManifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Manifest = m
	}
}

// SetPreferredSlot records the explicit preferredSlot field.
func (r *Room) SetPreferredSlot(id string, slot *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.PreferredSlot = slot
	}
}

// Get returns a participant by ID.
func (r *Room) Get(id string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return p, ok
}

// Host returns the room's host, or nil if closed/hostless.
func (r *Room) Host() *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host
}

// All returns every participant currently in the room.
func (r *Room) All() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Count returns the current participant count.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// AllReadyAndValidated is the host-side predicate gating the lobby-to-
// running transition: true iff every non-spectator participant is ready
// and, when the mode requires compatibility validation, validated.
func (r *Room) AllReadyAndValidated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requireValidation := r.Mode.RequiresEmulatorMatch || r.Mode.RequiresRomMatch
	for _, p := range r.participants {
		if p.Slot == nil && !p.Host {
			continue // spectators don't gate start
		}
		if !p.Ready {
			return false
		}
		if requireValidation && !p.Validated {
			return false
		}
	}
	return true
}

// TransitionToRunning moves the room from lobby to running, if the
// all-ready-and-validated predicate holds. Returns false if the
// precondition isn't met or the room isn't in lobby.
func (r *Room) TransitionToRunning() bool {
	if !r.AllReadyAndValidated() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase != PhaseLobby {
		return false
	}
	r.Phase = PhaseRunning
	return true
}

// OnPeerJoined registers a join callback.
func (r *Room) OnPeerJoined(fn func(*Participant)) { r.onPeerJoined = fn }

// OnPeerLeft registers a leave callback.
func (r *Room) OnPeerLeft(fn func(*Participant)) { r.onPeerLeft = fn }

// OnRoleChanged registers a role-change callback.
func (r *Room) OnRoleChanged(fn func(*Participant, Role)) { r.onRoleChanged = fn }

// OnClosed registers a room-closed callback.
func (r *Room) OnClosed(fn func()) { r.onClosed = fn }
