package inputsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/clock"
	"github.com/zalo/netplaycore/internal/controller"
	"github.com/zalo/netplaycore/internal/wire"
)

type fakeEmulator struct {
	applied []controller.Event
}

func (f *fakeEmulator) ApplyInput(ev controller.Event) { f.applied = append(f.applied, ev) }

type fakeTransport struct {
	sent  []wire.InputPayload
	failN int // fail the next N sends
}

func (f *fakeTransport) Send(p wire.InputPayload) error {
	if f.failN > 0 {
		f.failN--
		return assert.AnError
	}
	f.sent = append(f.sent, p)
	return nil
}

type fakeFallback struct {
	syncControl []wire.InputPayload
	acked       []clock.Frame
}

func (f *fakeFallback) SendSyncControl(payloads []wire.InputPayload) error {
	f.syncControl = append(f.syncControl, payloads...)
	return nil
}

func (f *fakeFallback) Acknowledge(frame clock.Frame, toParticipant string) error {
	f.acked = append(f.acked, frame)
	return nil
}

type fakeRollback struct {
	saved    []clock.Frame
	restored []clock.Frame
	replayed [][2]clock.Frame
}

func (f *fakeRollback) SaveState(frame clock.Frame) { f.saved = append(f.saved, frame) }
func (f *fakeRollback) Restore(frame clock.Frame)   { f.restored = append(f.restored, frame) }
func (f *fakeRollback) Replay(from, to clock.Frame) {
	f.replayed = append(f.replayed, [2]clock.Frame{from, to})
}

func newHostSync(clk *clock.FrameClock, emu *fakeEmulator, tr *fakeTransport) *InputSync {
	return New(Config{
		Role:      RoleHost,
		Framework: controller.NewSimple(),
		Clock:     clk,
		Emulator:  emu,
		Transport: tr,
	})
}

func newClientSync(clk *clock.FrameClock, emu *fakeEmulator, tr *fakeTransport, localSlot uint8) *InputSync {
	return New(Config{
		Role:      RoleClient,
		Framework: controller.NewSimple(),
		Clock:     clk,
		Emulator:  emu,
		Transport: tr,
		LocalSlot: localSlot,
	})
}

func TestSendLocalIsEdgeTriggered(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	s := newHostSync(clk, emu, &fakeTransport{})

	assert.NoError(t, s.SendLocal(0, 1, 1))

	// sending the same value again should not enqueue a duplicate.
	assert.NoError(t, s.SendLocal(0, 1, 1))
	out := s.ProcessFrameInputs()
	assert.Len(t, out, 1)
	assert.Len(t, emu.applied, 1)
}

func TestSendLocalChangedValueReTriggers(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	s := newHostSync(clk, emu, &fakeTransport{})

	assert.NoError(t, s.SendLocal(0, 1, 1))
	assert.NoError(t, s.SendLocal(0, 1, 0))

	s.ProcessFrameInputs()
	assert.Len(t, emu.applied, 2)
}

func TestSendLocalDropsInvalidInput(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	s := newHostSync(clk, emu, &fakeTransport{})

	err := s.SendLocal(0, 1, 99999)
	assert.NoError(t, err)
	s.ProcessFrameInputs()
	assert.Empty(t, emu.applied)
}

func TestSendLocalClientRewritesPlayerIndexToLocalSlot(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{}
	s := newClientSync(clk, emu, tr, 2)

	assert.NoError(t, s.SendLocal(0, 5, 1))
	assert.Len(t, tr.sent, 1)
	assert.Equal(t, uint8(2), tr.sent[0].Player)
}

func TestSetLocalSlotInvalidatesCache(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{}
	s := newClientSync(clk, emu, tr, 0)

	assert.NoError(t, s.SendLocal(0, 1, 1))
	assert.Len(t, tr.sent, 1)

	s.SetLocalSlot(1)
	assert.NoError(t, s.SendLocal(0, 1, 1))
	assert.Len(t, tr.sent, 2)
}

func TestHostProcessFrameInputsBroadcastsAtFrameDelay(t *testing.T) {
	clk := clock.New()
	clk.SetDelay(3)
	emu := &fakeEmulator{}
	tr := &fakeTransport{}
	s := newHostSync(clk, emu, tr)

	assert.NoError(t, s.SendLocal(0, 1, 1))
	out := s.ProcessFrameInputs()

	assert.Len(t, out, 1)
	assert.Equal(t, clock.Frame(3), out[0].Frame)
	assert.Len(t, tr.sent, 1)
}

func TestSendFailureRoutesThroughFallbackInRelayMode(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{failN: 1}
	fb := &fakeFallback{}
	s := New(Config{
		Role:      RoleClient,
		Framework: controller.NewSimple(),
		Clock:     clk,
		Emulator:  emu,
		Transport: tr,
		Fallback:  fb,
		RelayMode: true,
	})

	err := s.SendLocal(0, 1, 1)
	assert.NoError(t, err)
	assert.Len(t, fb.syncControl, 1)
}

func TestSendFailureSurfacesErrorInP2PMode(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{failN: 1}
	s := New(Config{
		Role:      RoleClient,
		Framework: controller.NewSimple(),
		Clock:     clk,
		Emulator:  emu,
		Transport: tr,
		RelayMode: false,
	})

	err := s.SendLocal(0, 1, 1)
	assert.Error(t, err)
}

func TestReceiveRemoteDeduplicatesByFrameSlotPlayerInput(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	s := newHostSync(clk, emu, &fakeTransport{})

	payload := wire.NewInputPayload(0, 0, 0, 1, 1)
	assert.NoError(t, s.ReceiveRemote(payload, "peer1"))
	assert.NoError(t, s.ReceiveRemote(payload, "peer1"))

	assert.Len(t, emu.applied, 1)
}

func TestReceiveRemoteDropsInvalidInput(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	s := newHostSync(clk, emu, &fakeTransport{})

	payload := wire.NewInputPayload(0, 0, 0, 1, 99999)
	assert.NoError(t, s.ReceiveRemote(payload, "peer1"))
	assert.Empty(t, emu.applied)
}

func TestReceiveRemoteRollbackLateInputTriggersReplay(t *testing.T) {
	clk := clock.New()
	clk.AdvanceTo(10)
	emu := &fakeEmulator{}
	rb := &fakeRollback{}
	s := New(Config{
		Role:             RoleHost,
		Framework:        controller.NewSimple(),
		Clock:            clk,
		Emulator:         emu,
		Transport:        &fakeTransport{},
		Rollback:         rb,
		SupportsRollback: true,
	})

	payload := wire.NewInputPayload(5, 0, 0, 1, 1)
	assert.NoError(t, s.ReceiveRemote(payload, "peer1"))

	assert.Equal(t, []clock.Frame{5}, rb.restored)
	assert.Equal(t, [][2]clock.Frame{{5, 10}}, rb.replayed)
}

func TestReceiveRemoteRelayModeAcknowledgesThroughFallback(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	fb := &fakeFallback{}
	s := New(Config{
		Role:      RoleHost,
		Framework: controller.NewSimple(),
		Clock:     clk,
		Emulator:  emu,
		Transport: &fakeTransport{},
		Fallback:  fb,
		RelayMode: true,
	})

	payload := wire.NewInputPayload(0, 0, 0, 1, 1)
	assert.NoError(t, s.ReceiveRemote(payload, "peer1"))
	assert.Equal(t, []clock.Frame{0}, fb.acked)
}

func TestRetryPendingResendsEligibleEvents(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{}
	s := New(Config{
		Role:             RoleHost,
		Framework:        controller.NewSimple(),
		Clock:            clk,
		Emulator:         emu,
		Transport:        tr,
		MaxRetryAge:      10,
		UnorderedRetries: 2,
	})

	assert.NoError(t, s.SendLocal(0, 1, 1))
	clk.AdvanceTo(1)
	s.RetryPending()

	assert.NotEmpty(t, tr.sent)
}

func TestAcknowledgeStopsRetry(t *testing.T) {
	clk := clock.New()
	emu := &fakeEmulator{}
	tr := &fakeTransport{}
	s := newHostSync(clk, emu, tr)

	assert.NoError(t, s.SendLocal(0, 1, 1))
	s.Acknowledge(0)
	clk.AdvanceTo(1)
	s.RetryPending()

	assert.Empty(t, tr.sent)
}
