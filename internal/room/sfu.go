package room

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/zalo/netplaycore/internal/errs"
)

// SFU is the glue between signaling.Transport and media.Manager: each
// media.Transport lifecycle call below is a correlated request over
// signaling, decoded into the shape media.Manager's callers need. It has no
// calls for sfu-available, sfu-get-router-rtp-capabilities or
// sfu-create-transport.
type SFU struct {
	manager *Manager
}

// NewSFU wraps an already-constructed room Manager with the SFU signaling
// calls. Kept as a distinct type so embedders that don't need media can
// skip importing it.
func NewSFU(m *Manager) *SFU { return &SFU{manager: m} }

// ConnectTransport completes DTLS parameter exchange for a transport
// created locally via media.Manager.CreateTransport.
func (s *SFU) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	roomName, err := s.manager.requireRoom()
	if err != nil {
		return err
	}
	payload := struct {
		RoomName        string          `json:"roomName"`
		TransportID     string          `json:"transportId"`
		DtlsParameters  json.RawMessage `json:"dtlsParameters"`
	}{roomName, transportID, dtlsParameters}
	_, err = s.manager.emitWithAuthRetry(ctx, "sfu-connect-transport", payload)
	return err
}

// Produce registers a local media track as a producer, returning the
// server-assigned producer id.
func (s *SFU) Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage, appData interface{}) (string, error) {
	payload := struct {
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RtpParameters json.RawMessage `json:"rtpParameters"`
		AppData       interface{}     `json:"appData,omitempty"`
	}{transportID, kind, rtpParameters, appData}

	raw, err := s.manager.emitWithAuthRetry(ctx, "sfu-produce", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errs.Wrap(errs.ProtocolError, "decode sfu-produce response", err)
	}
	return resp.ID, nil
}

// ProduceData registers the input data channel as a data producer.
func (s *SFU) ProduceData(ctx context.Context, transportID string, sctpStreamParameters json.RawMessage, label, protocol string, appData interface{}) (string, error) {
	payload := struct {
		TransportID           string          `json:"transportId"`
		SctpStreamParameters  json.RawMessage `json:"sctpStreamParameters"`
		Label                 string          `json:"label"`
		Protocol              string          `json:"protocol,omitempty"`
		AppData               interface{}     `json:"appData,omitempty"`
	}{transportID, sctpStreamParameters, label, protocol, appData}

	raw, err := s.manager.emitWithAuthRetry(ctx, "produce-data", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", errs.Wrap(errs.ProtocolError, "decode produce-data response", err)
	}
	return resp.ID, nil
}

// Consume negotiates a consumer for a remote producer, returning the raw
// consumer parameters for the caller to apply to its media.Transport.
func (s *SFU) Consume(ctx context.Context, producerID, transportID string, rtpCapabilities json.RawMessage, ignoreDtx bool) (json.RawMessage, error) {
	payload := struct {
		ProducerID      string          `json:"producerId"`
		TransportID     string          `json:"transportId"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
		IgnoreDtx       bool            `json:"ignoreDtx,omitempty"`
	}{producerID, transportID, rtpCapabilities, ignoreDtx}
	return s.manager.emitWithAuthRetry(ctx, "sfu-consume", payload)
}

// ConsumeData negotiates a data consumer for a remote data producer.
func (s *SFU) ConsumeData(ctx context.Context, dataProducerID, transportID string) (json.RawMessage, error) {
	payload := struct {
		DataProducerID string `json:"dataProducerId"`
		TransportID    string `json:"transportId"`
	}{dataProducerID, transportID}
	return s.manager.emitWithAuthRetry(ctx, "consume-data", payload)
}

// RequestIceRestart implements media.IceRestarter: it asks the server for
// fresh ICE parameters for transportID and returns them as a
// SessionDescription the caller applies via SetLocalDescription/
// SetRemoteDescription, per the pion ICE-restart recipe.
func (s *SFU) RequestIceRestart(ctx context.Context, transportID string) (webrtc.SessionDescription, error) {
	roomName, err := s.manager.requireRoom()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	payload := struct {
		RoomName    string `json:"roomName"`
		TransportID string `json:"transportId"`
	}{roomName, transportID}

	raw, err := s.manager.emitWithAuthRetry(ctx, "sfu-restart-ice", payload)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	var resp struct {
		IceParameters string `json:"iceParameters"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return webrtc.SessionDescription{}, errs.Wrap(errs.ProtocolError, "decode sfu-restart-ice response", err)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: resp.IceParameters}, nil
}
