package datachannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/netplaycfg"
	"github.com/zalo/netplaycore/internal/wire"
)

type fakeSender struct {
	open bool
	sent [][]byte
	err  error
}

func (f *fakeSender) Send(data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) IsOpen() bool { return f.open }

func TestSendRelayModeUsesProducerWhenOpen(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	producer := &fakeSender{open: true}
	c.SetProducer(producer)

	assert.NoError(t, c.Send([]byte("payload")))
	assert.Len(t, producer.sent, 1)
	assert.Equal(t, 0, c.PendingLen())
}

func TestSendRelayModeBuffersWhenProducerClosed(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	c.SetProducer(&fakeSender{open: false})

	assert.NoError(t, c.Send([]byte("payload")))
	assert.Equal(t, 1, c.PendingLen())
}

func TestSendP2POrderedPrefersOrderedChannel(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedP2P, 10)
	ordered := &fakeSender{open: true}
	unordered := &fakeSender{open: true}
	c.SetPeerChannels("peer1", PeerChannels{Ordered: ordered, Unordered: unordered})

	assert.NoError(t, c.Send([]byte("x")))
	assert.Len(t, ordered.sent, 1)
	assert.Empty(t, unordered.sent)
}

func TestSendP2PUnorderedPrefersUnorderedChannel(t *testing.T) {
	c := New(netplaycfg.InputModeUnorderedP2P, 10)
	ordered := &fakeSender{open: true}
	unordered := &fakeSender{open: true}
	c.SetPeerChannels("peer1", PeerChannels{Ordered: ordered, Unordered: unordered})

	assert.NoError(t, c.Send([]byte("x")))
	assert.Len(t, unordered.sent, 1)
	assert.Empty(t, ordered.sent)
}

func TestSendP2PFallsBackToSecondChannelWhenPreferredClosed(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedP2P, 10)
	ordered := &fakeSender{open: false}
	unordered := &fakeSender{open: true}
	c.SetPeerChannels("peer1", PeerChannels{Ordered: ordered, Unordered: unordered})

	assert.NoError(t, c.Send([]byte("x")))
	assert.Len(t, unordered.sent, 1)
}

func TestBufferBoundDropsOldestWhenFull(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 2)
	c.SetProducer(&fakeSender{open: false})

	assert.NoError(t, c.Send([]byte("1")))
	assert.NoError(t, c.Send([]byte("2")))
	assert.NoError(t, c.Send([]byte("3")))

	assert.Equal(t, 2, c.PendingLen())
}

func TestFlushPendingSendsInArrivalOrder(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	producer := &fakeSender{open: false}
	c.SetProducer(producer)

	assert.NoError(t, c.Send([]byte("1")))
	assert.NoError(t, c.Send([]byte("2")))

	producer.open = true
	c.FlushPending()

	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, producer.sent)
	assert.Equal(t, 0, c.PendingLen())
}

func TestFlushPendingStopsAndReinsertsOnFailure(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	producer := &fakeSender{open: false}
	c.SetProducer(producer)

	assert.NoError(t, c.Send([]byte("1")))
	assert.NoError(t, c.Send([]byte("2")))

	producer.open = true
	producer.err = assert.AnError
	c.FlushPending()

	assert.Equal(t, 2, c.PendingLen())
}

func TestOnIncomingDispatchesInputPayload(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	var got wire.InputPayload
	var gotPeer string
	c.OnInput(func(p wire.InputPayload, fromPeer string) {
		got = p
		gotPeer = fromPeer
	})

	payload := wire.NewInputPayload(1, 0, 0, 1, 1)
	data, _ := wire.Encode(payload)
	c.OnIncoming(data, "peer1")

	assert.Equal(t, payload, got)
	assert.Equal(t, "peer1", gotPeer)
}

func TestOnIncomingDiscardsMalformedPayload(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	called := false
	c.OnInput(func(wire.InputPayload, string) { called = true })

	c.OnIncoming([]byte("not json"), "peer1")
	assert.False(t, called)
}

func TestOnIncomingDiscardsUnknownType(t *testing.T) {
	c := New(netplaycfg.InputModeOrderedRelay, 10)
	called := false
	c.OnInput(func(wire.InputPayload, string) { called = true })

	c.OnIncoming([]byte(`{"t":"chat"}`), "peer1")
	assert.False(t, called)
}
