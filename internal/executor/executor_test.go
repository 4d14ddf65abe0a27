package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/slot"
	"github.com/zalo/netplaycore/internal/spectator"
)

func newTestRoom(t *testing.T, mode session.ModeDescriptor) (*Room, *session.Room) {
	t.Helper()
	sessRoom := session.NewRoom("room1", mode.MaxPlayers, nil, mode)
	slots := slot.New(mode.MaxPlayers, true)
	spectators := spectator.NewManager(nil)
	r := New(sessRoom, slots, spectators, mode)
	t.Cleanup(r.Stop)
	return r, sessRoom
}

func TestSubmitRunsOnExecutorGoroutine(t *testing.T) {
	r, _ := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4})

	ran := false
	r.Submit(func(room *Room) { ran = true })
	assert.True(t, ran)
}

func TestSubmitBlocksUntilDone(t *testing.T) {
	r, _ := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4})

	var results []int
	for i := 0; i < 10; i++ {
		n := i
		r.Submit(func(room *Room) { results = append(results, n) })
	}
	assert.Len(t, results, 10)
}

func TestValidateJoinNilManifestsAlwaysValid(t *testing.T) {
	r, _ := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4, RequiresRomMatch: true})
	result, err := r.ValidateJoin(nil, nil)
	assert.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.CanSpectate)
}

func TestValidateJoinMismatchedManifests(t *testing.T) {
	r, _ := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4, RequiresRomMatch: true})
	host := &session.CompatManifest{RomHash: "abc"}
	joiner := &session.CompatManifest{RomHash: "def"}

	result, err := r.ValidateJoin(host, joiner)
	assert.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.CanSpectate)
}

func TestTryStartFailsUntilEveryoneReady(t *testing.T) {
	r, sessRoom := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4})
	host, err := sessRoom.AddHost("alice")
	assert.NoError(t, err)
	slotIdx := 0
	assert.NoError(t, sessRoom.SetSlot(host.ID, &slotIdx))

	assert.Error(t, r.TryStart())

	sessRoom.SetReady(host.ID, true)
	assert.NoError(t, r.TryStart())
}

func TestLogCloseDoesNotPanicWithoutInit(t *testing.T) {
	r, _ := newTestRoom(t, session.ModeDescriptor{MaxPlayers: 4})
	assert.NotPanics(t, func() { r.LogClose(context.Background(), "room1") })
}
