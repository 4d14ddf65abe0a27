// Package gamemode implements a registry of mode descriptors and the
// join-compatibility check between a local and a remote participant's
// emulator/ROM manifest.
package gamemode

import (
	"github.com/zalo/netplaycore/internal/session"
)

// Built-in mode IDs, named after the modes a netplay session can run in.
const (
	ModeLiveStream   = "live-stream"
	ModeStreamParty  = "stream-party"
	ModeSyncRollback = "sync-rollback"
	ModeLinkCable    = "link-cable"
)

// Manager holds the registry of mode descriptors.
type Manager struct {
	modes map[string]session.ModeDescriptor
}

// NewManager creates a Manager pre-registered with the four built-in
// modes. Callers may Register additional implementer-added modes.
func NewManager() *Manager {
	m := &Manager{modes: make(map[string]session.ModeDescriptor)}
	m.Register(session.ModeDescriptor{ID: ModeLiveStream, HostStreamsOnly: true, MaxPlayers: 4})
	m.Register(session.ModeDescriptor{ID: ModeStreamParty, AllowsPassController: true, MaxPlayers: 4})
	m.Register(session.ModeDescriptor{
		ID: ModeSyncRollback, RequiresEmulatorMatch: true, RequiresRomMatch: true,
		SupportsRollback: true, MaxPlayers: 2,
	})
	m.Register(session.ModeDescriptor{
		ID: ModeLinkCable, RequiresEmulatorMatch: true, RequiresRomMatch: true, MaxPlayers: 2,
	})
	return m
}

// Register adds or replaces a mode descriptor in the registry.
func (m *Manager) Register(desc session.ModeDescriptor) {
	m.modes[desc.ID] = desc
}

// Get returns a mode descriptor by ID.
func (m *Manager) Get(modeID string) (session.ModeDescriptor, bool) {
	d, ok := m.modes[modeID]
	return d, ok
}

// JoinValidation is the result of validate_join_requirements.
type JoinValidation struct {
	Valid       bool
	Reason      string
	CanSpectate bool
}

// ValidateJoinRequirements checks a joining participant's manifest against
// the mode's requirements; spectating is always allowed regardless of
// mismatch.
func ValidateJoinRequirements(mode session.ModeDescriptor, localEmu, remoteEmu EmulatorInfo, localRom, remoteRom RomInfo) JoinValidation {
	if mode.RequiresEmulatorMatch && (localEmu.Core != remoteEmu.Core || localEmu.Version != remoteEmu.Version) {
		return JoinValidation{Valid: false, Reason: "emulator core/version mismatch", CanSpectate: true}
	}
	if mode.RequiresRomMatch && localRom.Hash != remoteRom.Hash {
		return JoinValidation{Valid: false, Reason: "rom hash mismatch", CanSpectate: true}
	}
	return JoinValidation{Valid: true, CanSpectate: true}
}

// EmulatorInfo is the emulator half of a compatibility manifest.
type EmulatorInfo struct {
	Core    string
	Version string
}

// RomInfo is the ROM half of a compatibility manifest.
type RomInfo struct {
	Hash string
	Size int64
}
