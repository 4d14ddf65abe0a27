// Package executor implements the per-room command loop: one goroutine per
// room runs the commands handed to Submit through its buffered channel.
// ValidateJoin and TryStart use it; the room's session.Room, slot.Manager
// and spectator.Manager are also reachable through the exported fields and
// guard their own state with their own locks.
package executor

import (
	"context"

	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/gamemode"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/session"
	"github.com/zalo/netplaycore/internal/slot"
	"github.com/zalo/netplaycore/internal/spectator"
	"go.uber.org/zap"
)

// commandQueueDepth bounds how many pending commands a room's executor will
// buffer before Submit blocks the caller.
const commandQueueDepth = 64

// command is a unit of work run exclusively by the room's executor
// goroutine; fn receives the room's owned state and reports its result on
// done.
type command struct {
	fn   func(*Room)
	done chan struct{}
}

// Room bundles one room's authoritative state: the membership model, slot
// assignment, and the spectator/chat subset. Commands passed to Submit run
// on the executor goroutine; callers may also use the exported fields
// directly.
type Room struct {
	Session    *session.Room
	Slots      *slot.Manager
	Spectators *spectator.Manager
	Mode       session.ModeDescriptor

	queue  chan command
	cancel context.CancelFunc
}

// New starts a room's executor goroutine and returns the handle used to
// submit commands to it. Stop must be called once the room closes.
func New(roomSession *session.Room, slots *slot.Manager, spectators *spectator.Manager, mode session.ModeDescriptor) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		Session:    roomSession,
		Slots:      slots,
		Spectators: spectators,
		Mode:       mode,
		queue:      make(chan command, commandQueueDepth),
		cancel:     cancel,
	}
	go r.run(ctx)
	return r
}

func (r *Room) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.queue:
			cmd.fn(r)
			close(cmd.done)
		}
	}
}

// Submit runs fn on the executor goroutine and blocks until it completes.
func (r *Room) Submit(fn func(*Room)) {
	done := make(chan struct{})
	r.queue <- command{fn: fn, done: done}
	<-done
}

// Stop halts the executor goroutine. Queued commands that have not yet run
// are dropped.
func (r *Room) Stop() {
	r.cancel()
}

// ValidateJoin runs the join-compatibility check against the room's mode
// on the executor goroutine, since it reads participant manifests that
// only the executor mutates.
func (r *Room) ValidateJoin(hostManifest, joinerManifest *session.CompatManifest) (gamemode.JoinValidation, error) {
	var result gamemode.JoinValidation
	r.Submit(func(room *Room) {
		if hostManifest == nil || joinerManifest == nil {
			result = gamemode.JoinValidation{Valid: true, CanSpectate: true}
			return
		}
		result = gamemode.ValidateJoinRequirements(
			room.Mode,
			gamemode.EmulatorInfo{Core: hostManifest.EmulatorCore, Version: hostManifest.EmulatorVersion},
			gamemode.EmulatorInfo{Core: joinerManifest.EmulatorCore, Version: joinerManifest.EmulatorVersion},
			gamemode.RomInfo{Hash: hostManifest.RomHash, Size: hostManifest.RomSize},
			gamemode.RomInfo{Hash: joinerManifest.RomHash, Size: joinerManifest.RomSize},
		)
	})
	return result, nil
}

// TryStart attempts the lobby-to-running transition, returning an error if
// the all-ready-and-validated precondition does not hold.
func (r *Room) TryStart() error {
	var ok bool
	r.Submit(func(room *Room) {
		ok = room.Session.TransitionToRunning()
	})
	if !ok {
		return errs.New(errs.ProtocolError, "not every participant is ready and validated")
	}
	return nil
}

// LogClose records a room closing; called by the owner once every
// participant has been detached.
func (r *Room) LogClose(ctx context.Context, name string) {
	netplaylog.Info(ctx, "room closed", zap.String("room", name))
}
