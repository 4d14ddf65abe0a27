// Package inputsync implements InputSync, the central hard part of the
// netplay core: it buffers, transmits, and applies per-frame controller
// inputs across peers under either a delay-based (host-authoritative) or
// rollback-capable policy, with edge-triggered sends and explicit
// slot-enforcement on outgoing player indices.
package inputsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/zalo/netplaycore/internal/clock"
	"github.com/zalo/netplaycore/internal/controller"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/inputqueue"
	"github.com/zalo/netplaycore/internal/metrics"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/wire"
	"go.uber.org/zap"
)

// Role distinguishes the host-authoritative simulator from a client.
type Role int

const (
	RoleHost Role = iota
	RoleClient
)

// DefaultRetainWindow is the memory-hygiene default retain window, in
// frames, for the pending-input queue and the receive dedup set.
const DefaultRetainWindow = 120

// Emulator is the frame-clock-external collaborator that actually applies
// an input to the emulated console. The emulator runtime itself is out of
// scope; this is its interface boundary.
type Emulator interface {
	ApplyInput(ev controller.Event)
}

// Transport is the outbound channel InputSync hands wire payloads to. In
// production this is DataChannelCore; tests supply a fake.
type Transport interface {
	Send(payload wire.InputPayload) error
}

// SignalingFallback is the signaling-channel sync-control fallback used
// when every configured data channel fails to send.
type SignalingFallback interface {
	SendSyncControl(payloads []wire.InputPayload) error
	Acknowledge(frame clock.Frame, toParticipant string) error
}

// RollbackStrategy is the save-state collaborator: InputSync never
// implements rollback itself, it only calls out to one supplied by the
// embedder.
type RollbackStrategy interface {
	SaveState(frame clock.Frame)
	Restore(frame clock.Frame)
	Replay(from, to clock.Frame)
}

// NullRollback is used whenever supportsRollback is false.
type NullRollback struct{}

func (NullRollback) SaveState(clock.Frame)    {}
func (NullRollback) Restore(clock.Frame)      {}
func (NullRollback) Replay(_, _ clock.Frame) {}

type cacheKey struct {
	player uint8
	input  uint16
}

type dedupKey struct {
	frame  clock.Frame
	slot   uint8
	player uint8
	input  uint16
}

// Config bundles InputSync's construction-time policy knobs.
type Config struct {
	Role              Role
	Framework         controller.Framework
	Clock             *clock.FrameClock
	Emulator          Emulator
	Transport         Transport
	Fallback          SignalingFallback
	Rollback          RollbackStrategy
	SupportsRollback  bool
	RetainWindow      uint32
	MaxRetryAge       uint32
	UnorderedRetries  int
	RelayMode         bool
	LocalSlot         uint8
	// RoomName labels the send_failures_total metric; optional.
	RoomName string
}

// InputSync buffers, transmits, and applies per-frame controller inputs.
type InputSync struct {
	mu sync.Mutex

	role      Role
	framework controller.Framework
	clk       *clock.FrameClock
	queue     *inputqueue.Queue
	emulator  Emulator
	transport Transport
	fallback  SignalingFallback
	rollback  RollbackStrategy

	supportsRollback bool
	retainWindow     uint32
	maxRetryAge      uint32
	unorderedRetries int
	relayMode        bool

	localSlot  uint8
	roomName   string
	lastValue  map[cacheKey]int32
	dedupSeen  map[dedupKey]clock.Frame
}

// New constructs an InputSync from Config, filling in defaults.
func New(cfg Config) *InputSync {
	if cfg.RetainWindow == 0 {
		cfg.RetainWindow = DefaultRetainWindow
	}
	if cfg.Rollback == nil {
		cfg.Rollback = NullRollback{}
	}
	return &InputSync{
		role:             cfg.Role,
		framework:        cfg.Framework,
		clk:              cfg.Clock,
		queue:            inputqueue.New(),
		emulator:         cfg.Emulator,
		transport:        cfg.Transport,
		fallback:         cfg.Fallback,
		rollback:         cfg.Rollback,
		supportsRollback: cfg.SupportsRollback,
		retainWindow:     cfg.RetainWindow,
		maxRetryAge:      cfg.MaxRetryAge,
		unorderedRetries: cfg.UnorderedRetries,
		relayMode:        cfg.RelayMode,
		localSlot:        cfg.LocalSlot,
		roomName:         cfg.RoomName,
		lastValue:        make(map[cacheKey]int32),
		dedupSeen:        make(map[dedupKey]clock.Frame),
	}
}

// SetLocalSlot updates the local participant's assigned slot and fully
// invalidates the edge-trigger cache, since cached "last value" entries
// are keyed by the outgoing player index and a slot change remaps it.
func (s *InputSync) SetLocalSlot(slot uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localSlot == slot {
		return
	}
	s.localSlot = slot
	s.lastValue = make(map[cacheKey]int32)
}

// InvalidateCache clears the edge-trigger cache without changing the slot,
// for callers that manage slot state externally (e.g. SlotManager).
func (s *InputSync) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastValue = make(map[cacheKey]int32)
}

// edgeTriggered reports whether value differs from the cached last value
// for key, updating the cache as a side effect. Must be called with s.mu
// held.
func (s *InputSync) edgeTriggeredLocked(key cacheKey, value int32) bool {
	last, ok := s.lastValue[key]
	s.lastValue[key] = value
	return !ok || last != value
}

// SendLocal is the entry point for a locally produced input.
//
// On the client role, the outbound playerIndex is rewritten to the local
// participant's assigned slot before the edge-trigger check runs, so
// moving between slots forces re-emission. On the host role, SendLocal
// enqueues under the current frame instead of sending over the wire; the
// host simulates its own local inputs via ProcessFrameInputs, never by
// receiving its own wire payload back.
func (s *InputSync) SendLocal(player uint8, input uint16, value int32) error {
	s.mu.Lock()
	effectivePlayer := player
	if s.role == RoleClient {
		effectivePlayer = s.localSlot
	}
	key := cacheKey{player: effectivePlayer, input: input}
	if !s.edgeTriggeredLocked(key, value) {
		s.mu.Unlock()
		return nil
	}
	localSlot := s.localSlot
	s.mu.Unlock()

	ev := controller.Event{PlayerIndex: effectivePlayer, InputIndex: input, Value: value}
	if err := s.framework.Validate(ev); err != nil {
		netplaylog.Warn(context.Background(), "dropping invalid local input",
			zap.Uint8("player", effectivePlayer), zap.Uint16("input", input), zap.Int32("value", value))
		return nil
	}

	if s.role == RoleHost {
		s.queue.Enqueue(inputqueue.Event{
			Frame:       s.clk.Current(),
			Slot:        localSlot,
			PlayerIndex: effectivePlayer,
			InputIndex:  input,
			Value:       value,
		})
		return nil
	}

	// Client: bypass the local queue entirely; clients do not simulate
	// their own inputs.
	targetFrame := s.clk.Current() + clock.Frame(s.clk.Delay())
	payload := wire.NewInputPayload(targetFrame, localSlot, effectivePlayer, input, value)
	if err := s.transport.Send(payload); err != nil {
		return s.handleSendFailure(payload, err)
	}
	return nil
}

func (s *InputSync) handleSendFailure(payload wire.InputPayload, sendErr error) error {
	if s.relayMode && s.fallback != nil {
		if err := s.fallback.SendSyncControl([]wire.InputPayload{payload}); err != nil {
			metrics.InputSendFailures.WithLabelValues(s.roomName).Inc()
			return errs.Wrap(errs.TransportUnavailable, "sync-control fallback failed", err)
		}
		return nil
	}
	// In P2P modes the transport itself is responsible for buffering up
	// to max_pending; surface the original error.
	metrics.InputSendFailures.WithLabelValues(s.roomName).Inc()
	return fmt.Errorf("inputsync: send: %w", sendErr)
}

// ProcessFrameInputs drains the queue for the current frame, applies each
// event to the emulator, and — on the host role — emits an outgoing batch
// targeted at current_frame+frame_delay toward every client.
//
// When supportsRollback is set it additionally saves a predicted-input
// stamp for the current frame via the RollbackStrategy collaborator.
//
// After processing, events older than retainWindow are evicted.
func (s *InputSync) ProcessFrameInputs() []wire.InputPayload {
	frame := s.clk.Current()
	events := s.queue.Drain(frame)

	for _, ev := range events {
		s.emulator.ApplyInput(controller.Event{
			PlayerIndex: ev.PlayerIndex,
			InputIndex:  ev.InputIndex,
			Value:       ev.Value,
		})
	}

	if s.supportsRollback {
		s.rollback.SaveState(frame)
	}

	var outgoing []wire.InputPayload
	if s.role == RoleHost && len(events) > 0 {
		delay := clock.Frame(s.clk.Delay())
		target := frame + delay
		outgoing = make([]wire.InputPayload, 0, len(events))
		for _, ev := range events {
			outgoing = append(outgoing, wire.NewInputPayload(target, ev.Slot, ev.PlayerIndex, ev.InputIndex, ev.Value))
		}
		for _, payload := range outgoing {
			if err := s.transport.Send(payload); err != nil {
				_ = s.handleSendFailure(payload, err)
			}
		}
	}

	s.queue.EvictOlderThan(frame, s.retainWindow)
	s.pruneDedup(frame)
	return outgoing
}

// ReceiveRemote validates and applies (delay-sync) or buffers for replay
// (rollback) an input received from a peer.
func (s *InputSync) ReceiveRemote(payload wire.InputPayload, fromID string) error {
	ev := controller.Event{PlayerIndex: payload.Player, InputIndex: payload.Key, Value: payload.Value}
	if err := s.framework.Validate(ev); err != nil {
		netplaylog.Warn(context.Background(), "dropping invalid remote input",
			zap.Uint8("player", payload.Player), zap.Uint16("input", payload.Key), zap.Int32("value", payload.Value))
		return nil
	}

	dk := dedupKey{frame: payload.Frame, slot: payload.Slot, player: payload.Player, input: payload.Key}
	s.mu.Lock()
	if _, seen := s.dedupSeen[dk]; seen {
		s.mu.Unlock()
		return nil
	}
	s.dedupSeen[dk] = payload.Frame
	s.mu.Unlock()

	current := s.clk.Current()

	switch {
	case s.supportsRollback && payload.Frame < current:
		// Late remote input: re-simulate from frame..current by
		// replaying queued predicted inputs with this one substituted in.
		s.queue.Enqueue(inputqueue.Event{
			Frame:       payload.Frame,
			Slot:        payload.Slot,
			PlayerIndex: payload.Player,
			InputIndex:  payload.Key,
			Value:       payload.Value,
			FromRemote:  true,
		})
		s.rollback.Restore(payload.Frame)
		s.emulator.ApplyInput(ev)
		s.rollback.Replay(payload.Frame, current)
	case s.supportsRollback:
		// Buffer for replay once that frame becomes current.
		s.queue.Enqueue(inputqueue.Event{
			Frame:       payload.Frame,
			Slot:        payload.Slot,
			PlayerIndex: payload.Player,
			InputIndex:  payload.Key,
			Value:       payload.Value,
			FromRemote:  true,
		})
	default:
		// Delay-sync: apply immediately; the host already chose
		// payload.Frame == frame it wants this applied at, and the
		// frame driver calling ProcessFrameInputs keeps pace.
		s.emulator.ApplyInput(ev)
	}

	if s.relayMode && s.fallback != nil {
		_ = s.fallback.Acknowledge(payload.Frame, fromID)
	}
	return nil
}

// RetryPending marks retried every event eligible for resend under the
// unordered-retry policy and sends each over the transport, counting each
// successful resend in metrics.InputRetriesTotal.
func (s *InputSync) RetryPending() {
	current := s.clk.Current()
	candidates := s.queue.RetryCandidates(current, s.maxRetryAge, s.unorderedRetries)
	for _, ev := range candidates {
		payload := wire.NewInputPayload(ev.Frame, ev.Slot, ev.PlayerIndex, ev.InputIndex, ev.Value)
		if err := s.transport.Send(payload); err == nil {
			metrics.InputRetriesTotal.WithLabelValues(s.roomName).Inc()
		}
	}
}

// Acknowledge marks frame's queued events as ACK'd, removing them from
// retry candidacy.
func (s *InputSync) Acknowledge(frame clock.Frame) {
	s.queue.Acknowledge(frame)
}

func (s *InputSync) pruneDedup(current clock.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := int64(current) - int64(s.retainWindow)
	for k, frame := range s.dedupSeen {
		if int64(frame) <= cutoff {
			delete(s.dedupSeen, k)
		}
	}
}

