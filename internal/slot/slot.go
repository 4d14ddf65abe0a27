// Package slot implements SlotManager: assigns players to slots 0..N-1,
// in either exclusive (one occupant per slot) or co-op (many occupants
// per slot) mode, and handles pass-controller handoff requests between a
// spectator and a seated player.
package slot

import (
	"sync"

	"github.com/google/uuid"
	"github.com/zalo/netplaycore/internal/errs"
)

// Spectator is the sentinel "no slot" value.
const Spectator = -1

// PassRequest is a pending controller-pass handoff.
type PassRequest struct {
	ID   string
	From string
	To   string
	Slot int
}

// Manager owns the playerId -> slotIndex mapping, the slotIndex ->
// participantIds mapping, and pending pass-controller requests.
type Manager struct {
	mu           sync.Mutex
	maxPlayers   int
	exclusive    bool
	slotToPlayer map[int]string   // exclusive mode: at most one per slot
	slotToMany   map[int][]string // co-op mode: many per slot
	playerToSlot map[string]int
	pending      map[string]PassRequest
}

// New creates a SlotManager for maxPlayers slots. When exclusive is true, a
// slot holds at most one participant.
func New(maxPlayers int, exclusive bool) *Manager {
	return &Manager{
		maxPlayers:   maxPlayers,
		exclusive:    exclusive,
		slotToPlayer: make(map[int]string),
		slotToMany:   make(map[int][]string),
		playerToSlot: make(map[string]int),
		pending:      make(map[string]PassRequest),
	}
}

// Assign maps playerID to a slot. If the player already holds a slot and no
// preferred slot is given, it returns that slot unchanged; otherwise it
// auto-assigns the lowest free slot in 0..N-1, or honors preferred if given
// and free. Fails with NoSlot when exclusive mode is on and all slots are
// occupied.
func (m *Manager) Assign(playerID string, preferred *int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.playerToSlot[playerID]; ok && preferred == nil {
		return existing, nil
	}

	if preferred != nil {
		if *preferred < 0 || *preferred >= m.maxPlayers {
			return 0, errs.New(errs.NoSlot, "preferred slot out of range")
		}
		if m.exclusive && m.slotOccupied(*preferred) && m.slotToPlayer[*preferred] != playerID {
			return 0, errs.New(errs.NoSlot, "preferred slot occupied")
		}
		m.unassignLocked(playerID)
		m.occupyLocked(*preferred, playerID)
		return *preferred, nil
	}

	for s := 0; s < m.maxPlayers; s++ {
		if !m.exclusive || !m.slotOccupied(s) {
			m.unassignLocked(playerID)
			m.occupyLocked(s, playerID)
			return s, nil
		}
	}
	return 0, errs.New(errs.NoSlot, "all slots occupied")
}

func (m *Manager) slotOccupied(s int) bool {
	if m.exclusive {
		_, ok := m.slotToPlayer[s]
		return ok
	}
	return false
}

func (m *Manager) occupyLocked(s int, playerID string) {
	m.playerToSlot[playerID] = s
	if m.exclusive {
		m.slotToPlayer[s] = playerID
	} else {
		m.slotToMany[s] = append(m.slotToMany[s], playerID)
	}
}

func (m *Manager) unassignLocked(playerID string) {
	s, ok := m.playerToSlot[playerID]
	if !ok {
		return
	}
	delete(m.playerToSlot, playerID)
	if m.exclusive {
		if m.slotToPlayer[s] == playerID {
			delete(m.slotToPlayer, s)
		}
		return
	}
	list := m.slotToMany[s]
	for i, id := range list {
		if id == playerID {
			m.slotToMany[s] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Release frees playerID's slot, if any.
func (m *Manager) Release(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unassignLocked(playerID)
}

// SlotOf returns the slot held by playerID, or (Spectator, false).
func (m *Manager) SlotOf(playerID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.playerToSlot[playerID]
	return s, ok
}

// OccupantsOf returns the participant IDs currently holding slot s.
func (m *Manager) OccupantsOf(s int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exclusive {
		if id, ok := m.slotToPlayer[s]; ok {
			return []string{id}
		}
		return nil
	}
	out := make([]string, len(m.slotToMany[s]))
	copy(out, m.slotToMany[s])
	return out
}

// RequestPass files a pass-controller request from `from` (typically a
// spectator) to `to` (typically a seated player) for the given slot, and
// returns a fresh requestId.
func (m *Manager) RequestPass(from, to string, s int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s < 0 || s >= m.maxPlayers {
		return "", errs.New(errs.NoSlot, "slot out of range")
	}
	id := uuid.New().String()
	m.pending[id] = PassRequest{ID: id, From: from, To: to, Slot: s}
	return id, nil
}

// AcceptPass swaps `from` and `to` atomically on the request's slot: it
// releases both, then re-assigns from into to's former slot.
//
// Atomicity here means: as observed through this Manager's exported
// methods (which all take the same lock), there is no call that can
// observe both participants holding the same slot, nor can it observe the
// swap half-applied, because the entire operation executes under a single
// critical section.
func (m *Manager) AcceptPass(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[requestID]
	if !ok {
		return errs.New(errs.ProtocolError, "no such pass request")
	}
	delete(m.pending, requestID)

	toSlot, toHadSlot := m.playerToSlot[req.To]
	m.unassignLocked(req.From)
	m.unassignLocked(req.To)
	m.occupyLocked(req.Slot, req.From)
	if toHadSlot && toSlot != req.Slot {
		m.occupyLocked(toSlot, req.To)
	}
	return nil
}

// RejectPass drops the request without mutating any slot assignment.
func (m *Manager) RejectPass(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[requestID]; !ok {
		return errs.New(errs.ProtocolError, "no such pass request")
	}
	delete(m.pending, requestID)
	return nil
}

// PendingRequest returns a pass request by ID, for tests/diagnostics.
func (m *Manager) PendingRequest(requestID string) (PassRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pending[requestID]
	return r, ok
}
