// Package datachannel implements DataChannelCore: the transport-agnostic
// send/receive path layered over either one SFU data producer or a set of
// direct peer-to-peer data channels. Supports the full
// {orderedRelay, unorderedRelay, orderedP2P, unorderedP2P} mode matrix
// with a bounded pending buffer and flush-on-open semantics.
package datachannel

import (
	"context"
	"sync"

	"github.com/zalo/netplaycore/internal/netplaycfg"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/wire"
	"go.uber.org/zap"
)

// DefaultMaxPending is the default pending-buffer bound.
const DefaultMaxPending = 100

// PeerChannels is the pair of P2P data channels (ordered, unordered) a
// peer may have open.
type PeerChannels struct {
	Ordered   Sender
	Unordered Sender
}

// Sender is anything that can carry a byte payload; satisfied by
// *webrtc.DataChannel and, in tests, a fake.
type Sender interface {
	Send(data []byte) error
	IsOpen() bool
}

// Producer is the optional SFU data producer used in relay modes.
type Producer interface {
	Send(data []byte) error
	IsOpen() bool
}

// InputCallback is invoked for every decoded "i" payload.
type InputCallback func(payload wire.InputPayload, fromPeer string)

// Core owns one optional SFU data producer and a map of per-peer P2P
// channel pairs; its operating mode is one of the four InputMode values.
type Core struct {
	mu sync.Mutex

	mode       netplaycfg.InputMode
	maxPending int

	producer Producer
	peers    map[string]PeerChannels

	pending [][]byte

	onInput InputCallback
}

// New constructs a Core in the given mode.
func New(mode netplaycfg.InputMode, maxPending int) *Core {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Core{
		mode:       mode,
		maxPending: maxPending,
		peers:      make(map[string]PeerChannels),
	}
}

// SetProducer attaches (or clears, with nil) the SFU data producer used by
// relay modes.
func (c *Core) SetProducer(p Producer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producer = p
}

// SetPeerChannels attaches (or clears, with the zero value) a peer's P2P
// channel pair.
func (c *Core) SetPeerChannels(peerID string, ch PeerChannels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[peerID] = ch
}

// OnInput registers the callback invoked for every decoded "i" payload.
func (c *Core) OnInput(fn InputCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInput = fn
}

// Send dispatches a payload per the configured mode: relay modes write to
// the SFU producer; P2P modes write to the first open channel of the
// preferred ordering across all peers. If nothing is open, the payload is
// buffered.
func (c *Core) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case netplaycfg.InputModeOrderedRelay, netplaycfg.InputModeUnorderedRelay:
		if c.producer != nil && c.producer.IsOpen() {
			return c.producer.Send(payload)
		}
	case netplaycfg.InputModeOrderedP2P:
		if ch, ok := c.firstOpen(true); ok {
			return ch.Send(payload)
		}
	case netplaycfg.InputModeUnorderedP2P:
		if ch, ok := c.firstOpen(false); ok {
			return ch.Send(payload)
		}
	}

	c.bufferLocked(payload)
	return nil
}

// firstOpen scans peers for the first channel open in the preferred
// ordering: ordered-first when preferOrdered is true, unordered-first
// otherwise. Must be called with c.mu held.
func (c *Core) firstOpen(preferOrdered bool) (Sender, bool) {
	for _, pc := range c.peers {
		first, second := pc.Ordered, pc.Unordered
		if !preferOrdered {
			first, second = pc.Unordered, pc.Ordered
		}
		if first != nil && first.IsOpen() {
			return first, true
		}
		if second != nil && second.IsOpen() {
			return second, true
		}
	}
	return nil, false
}

func (c *Core) bufferLocked(payload []byte) {
	if len(c.pending) >= c.maxPending {
		netplaylog.Warn(context.Background(), "data channel pending buffer full, dropping oldest", zap.Int("max_pending", c.maxPending))
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, payload)
}

// FlushPending sends every buffered payload in arrival order once a P2P
// channel transitions to open. A send failure reinserts the payload at
// the head to preserve order and stops the flush.
func (c *Core) FlushPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for i, payload := range pending {
		if err := c.Send(payload); err != nil {
			c.mu.Lock()
			c.pending = append(pending[i:], c.pending...)
			c.mu.Unlock()
			return
		}
	}
}

// PendingLen returns the number of currently buffered payloads, for tests.
func (c *Core) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OnIncoming decodes an inbound payload and dispatches it: "i" payloads
// invoke the input callback; any other tag, or a malformed/stray payload,
// is discarded with a warning.
func (c *Core) OnIncoming(data []byte, fromPeer string) {
	typ, ok := wire.PayloadType(data)
	if !ok {
		netplaylog.Warn(context.Background(), "discarding malformed data channel payload", zap.String("from", fromPeer))
		return
	}
	if typ != wire.TypeInput {
		netplaylog.Warn(context.Background(), "discarding unknown data channel payload type", zap.String("type", typ), zap.String("from", fromPeer))
		return
	}

	payload, err := wire.Decode(data)
	if err != nil {
		netplaylog.Warn(context.Background(), "discarding undecodable input payload", zap.String("from", fromPeer))
		return
	}

	c.mu.Lock()
	cb := c.onInput
	c.mu.Unlock()
	if cb != nil {
		cb(payload, fromPeer)
	}
}
