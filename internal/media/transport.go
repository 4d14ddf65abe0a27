// Package media implements MediaTransport, the SFU client wrapper around
// pion/webrtc: per-(direction, mediaKind) transports, codec-selecting
// producers/consumers, a rate-limited ICE-restart lifecycle, and a drift
// monitor reporting to metrics.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/metrics"
	"github.com/zalo/netplaycore/internal/netplaycfg"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"go.uber.org/zap"
)

// Direction of a transport, relative to this process.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Kind is the media kind a transport is dedicated to. Separate transports
// per kind prevent head-of-line blocking between video, audio, and data.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindData  Kind = "data"
)

// iceRestartRateLimit is the minimum spacing between successful restarts
// on a single transport.
const iceRestartRateLimit = 3 * time.Second

// IceRestarter requests fresh ICE parameters from the signaling peer and
// applies them to the local transport; supplied by the embedder since the
// actual renegotiation round-trip goes over SignalingTransport.
type IceRestarter interface {
	RequestIceRestart(ctx context.Context, transportID string) (webrtc.SessionDescription, error)
}

// Transport wraps one peer connection dedicated to a single
// (direction, kind) pair.
type Transport struct {
	ID        string
	RoomID    string
	Direction Direction
	Kind      Kind

	pc *webrtc.PeerConnection

	mu                sync.Mutex
	restartInProgress bool
	lastRestart       time.Time
	restartTimer      *time.Timer

	restarter IceRestarter
}

// Manager creates and tracks Transports, backed by one pion API instance
// configured with the codecs the host announces.
type Manager struct {
	mu                sync.RWMutex
	api               *webrtc.API
	config            webrtc.Configuration
	transports        map[string]*Transport
	retryTimerSeconds int
	restarter         IceRestarter
}

// NewManager builds a Manager with H.264, VP8 and VP9 video and Opus audio
// registered, matching the codec set the host negotiates against.
func NewManager(iceServers []string, turnUsername, turnCredential string, retryTimerSeconds int, restarter IceRestarter) (*Manager, error) {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		server := webrtc.ICEServer{URLs: []string{url}}
		if turnUsername != "" && len(url) > 4 && url[:4] == "turn" {
			server.Username = turnUsername
			server.Credential = turnCredential
		}
		servers = append(servers, server)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("media: register h264: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        97,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("media: register vp8: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
		PayloadType:        98,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("media: register vp9: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("media: register opus: %w", err)
	}

	return &Manager{
		api:               webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		config:            webrtc.Configuration{ICEServers: servers},
		transports:        make(map[string]*Transport),
		retryTimerSeconds: retryTimerSeconds,
		restarter:         restarter,
	}, nil
}

// CreateTransport opens a new peer connection dedicated to one
// (direction, kind) pair.
func (m *Manager) CreateTransport(roomID, transportID string, direction Direction, kind Kind) (*Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "create peer connection", err)
	}

	t := &Transport{ID: transportID, RoomID: roomID, Direction: direction, Kind: kind, pc: pc, restarter: m.restarter}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		netplaylog.Info(context.Background(), "transport ICE state changed",
			zap.String("transport", transportID), zap.String("state", state.String()))
		switch state {
		case webrtc.ICEConnectionStateFailed:
			go t.restart(context.Background(), m.retryTimerSeconds, true)
		case webrtc.ICEConnectionStateDisconnected:
			go t.restart(context.Background(), m.retryTimerSeconds, false)
		}
	})

	m.transports[transportID] = t
	return t, nil
}

// Connect applies the remote offer and returns the local answer, completing
// the DTLS/ICE handshake for this transport.
func (t *Transport) Connect(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.TransportUnavailable, "set remote description", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.TransportUnavailable, "create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.TransportUnavailable, "set local description", err)
	}
	return answer, nil
}

// AddICECandidate applies a trickled remote ICE candidate.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.pc.AddICECandidate(candidate); err != nil {
		return errs.Wrap(errs.TransportUnavailable, "add ice candidate", err)
	}
	return nil
}

// OnICECandidate registers a callback fired for every local candidate
// gathered, for the caller to trickle over signaling.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// GetTransport returns a tracked transport by id.
func (m *Manager) GetTransport(transportID string) (*Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[transportID]
	return t, ok
}

// CloseTransport closes and forgets a transport.
func (m *Manager) CloseTransport(transportID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transports[transportID]; ok {
		_ = t.pc.Close()
		delete(m.transports, transportID)
	}
}

// CloseAll tears down every transport the manager tracks, for use when a
// room closes.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.transports {
		_ = t.pc.Close()
		delete(m.transports, id)
	}
}

// CreateVideoProducer adds a local video track to a send/video transport,
// selecting a codec per the host's announced preference.
func (t *Transport) CreateVideoProducer(preference netplaycfg.HostCodec, routerCodecs []string, localSupported []string) (*webrtc.TrackLocalStaticRTP, error) {
	codec, err := selectCodec(preference, routerCodecs, localSupported)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: codec}, "video", "netplay-video")
	if err != nil {
		return nil, errs.Wrap(errs.CodecUnavailable, "create video track", err)
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "add video track", err)
	}
	return track, nil
}

// CreateAudioProducer adds a dedicated stereo Opus audio track with FEC,
// DTX disabled, 20ms ptime — the fixed audio producer profile.
func (t *Transport) CreateAudioProducer() (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "useinbandfec=1;usedtx=0;ptime=20"},
		"audio", "netplay-audio")
	if err != nil {
		return nil, errs.Wrap(errs.CodecUnavailable, "create audio track", err)
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "add audio track", err)
	}
	return track, nil
}

// CreateDataProducer opens the unordered, 3s-lifetime data channel
// carrying input payloads.
func (t *Transport) CreateDataProducer() (*webrtc.DataChannel, error) {
	lifetime := uint16(3000)
	dc, err := t.pc.CreateDataChannel("netplay-input", &webrtc.DataChannelInit{
		Ordered:           boolPtr(false),
		MaxPacketLifeTime: &lifetime,
	})
	if err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "create data producer", err)
	}
	return dc, nil
}

// CreateConsumer negotiates a consumer for a remote producer. Data
// consumers must be explicitly resumed by the caller after creation;
// audio consumers should request ignoreDtx at the signaling layer to
// suppress sync drift — both are caller responsibilities once the
// consumer's SDP is applied, since pion models them as ordinary
// transceivers rather than a distinct consumer object.
func (t *Transport) CreateConsumer(kind Kind) (*webrtc.RTPTransceiver, error) {
	direction := webrtc.RTPTransceiverDirectionRecvonly
	var codecType webrtc.RTPCodecType
	switch kind {
	case KindVideo:
		codecType = webrtc.RTPCodecTypeVideo
	case KindAudio:
		codecType = webrtc.RTPCodecTypeAudio
	default:
		return nil, errs.New(errs.ProtocolError, "data consumers use the data channel path, not AddTransceiverFromKind")
	}
	tr, err := t.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{Direction: direction})
	if err != nil {
		return nil, errs.Wrap(errs.TransportUnavailable, "create consumer", err)
	}
	return tr, nil
}

// restart schedules (or, on immediate=true, performs right away) an ICE
// restart, subject to the 3s rate limit and in-progress coalescing.
func (t *Transport) restart(ctx context.Context, retryTimerSeconds int, immediate bool) {
	t.mu.Lock()
	if t.restartInProgress {
		t.mu.Unlock()
		return
	}
	if retryTimerSeconds == 0 && !immediate {
		t.mu.Unlock()
		return
	}
	sinceLast := time.Since(t.lastRestart)
	if sinceLast < iceRestartRateLimit {
		t.mu.Unlock()
		metrics.IceRestartRateLimited.WithLabelValues(t.RoomID).Inc()
		return
	}
	t.restartInProgress = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.restartInProgress = false
		t.mu.Unlock()
	}()

	if !immediate {
		select {
		case <-time.After(time.Duration(retryTimerSeconds) * time.Second):
		case <-ctx.Done():
			return
		}
	}

	if t.restarter == nil {
		return
	}
	if _, err := t.restarter.RequestIceRestart(ctx, t.ID); err != nil {
		metrics.IceRestartsTotal.WithLabelValues(t.RoomID, "failed").Inc()
		netplaylog.Warn(ctx, "ICE restart failed", zap.String("transport", t.ID), zap.Error(err))
		return
	}

	t.mu.Lock()
	t.lastRestart = time.Now()
	t.mu.Unlock()
	metrics.IceRestartsTotal.WithLabelValues(t.RoomID, "succeeded").Inc()
}

// Close tears down the underlying peer connection.
func (t *Transport) Close() error {
	return t.pc.Close()
}

// RestartICE performs a local ICE restart and returns the renegotiation
// offer for the caller to push to the remote side. Used on the SFU side of
// a transport, where restart is driven locally rather than requested over
// signaling.
func (t *Transport) RestartICE(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.IceRestartFailed, "create ICE restart offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.IceRestartFailed, "set local description for ICE restart", err)
	}
	return offer, nil
}

func selectCodec(preference netplaycfg.HostCodec, routerCodecs, localSupported []string) (string, error) {
	supported := make(map[string]bool, len(localSupported))
	for _, c := range localSupported {
		supported[c] = true
	}

	if preference != netplaycfg.CodecAuto {
		want := codecMimeType(preference)
		if supported[want] && contains(routerCodecs, want) {
			return want, nil
		}
	}

	for _, c := range routerCodecs {
		if supported[c] {
			return c, nil
		}
	}
	return "", errs.New(errs.CodecUnavailable, "no mutually supported codec")
}

func codecMimeType(c netplaycfg.HostCodec) string {
	switch c {
	case netplaycfg.CodecH264:
		return webrtc.MimeTypeH264
	case netplaycfg.CodecVP8:
		return webrtc.MimeTypeVP8
	case netplaycfg.CodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return ""
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
