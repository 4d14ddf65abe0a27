package session

import (
	"sync"

	"github.com/zalo/netplaycore/internal/errs"
)

// Manager owns every open room and backs the room-discovery listing.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates an empty room manager.
func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*Room)}
}

// Create registers a new room under name. Fails if the name is already
// taken: room names are unique within the signaling realm.
func (m *Manager) Create(name string, maxParticipants int, passwordHash *string, mode ModeDescriptor) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[name]; exists {
		return nil, errs.New(errs.ProtocolError, "room name already in use")
	}
	room := NewRoom(name, maxParticipants, passwordHash, mode)
	m.rooms[name] = room
	return room, nil
}

// Get returns a room by name.
func (m *Manager) Get(name string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	return r, ok
}

// Remove closes out bookkeeping for a room (the caller is responsible for
// having already transitioned it to PhaseClosed).
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, name)
}

// List returns every currently tracked room, for open-room discovery.
func (m *Manager) List() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}
