package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/zalo/netplaycore/internal/errs"
	"github.com/zalo/netplaycore/internal/media"
	"github.com/zalo/netplaycore/internal/netplaylog"
	"github.com/zalo/netplaycore/internal/signaling"
	"go.uber.org/zap"
)

// producerRecord is what a produce/produce-data call registers: enough for
// a later consume/consume-data call to hand the same parameters to a
// different transport. This daemon brokers producer metadata between
// participants; it does not itself forward RTP/SCTP payloads.
type producerRecord struct {
	OwnerID     string
	TransportID string
	Kind        string
	Parameters  json.RawMessage
	Label       string
	Protocol    string
	AppData     interface{}
}

// sfuState is the per-room producer/consumer registry layered on top of
// media.Manager's transport bookkeeping.
type sfuState struct {
	mu        sync.Mutex
	producers map[string]producerRecord
}

func newSFUState() *sfuState {
	return &sfuState{producers: make(map[string]producerRecord)}
}

func (s *sfuState) register(rec producerRecord) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.producers[id] = rec
	s.mu.Unlock()
	return id
}

func (s *sfuState) get(id string) (producerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.producers[id]
	return rec, ok
}

func (s *Server) dispatchSFU(ctx context.Context, c *conn, env signaling.Envelope) {
	switch env.Event {
	case "sfu-connect-transport":
		s.handleConnectTransport(ctx, c, env)
	case "sfu-produce":
		s.handleProduce(ctx, c, env)
	case "produce-data":
		s.handleProduceData(ctx, c, env)
	case "sfu-consume":
		s.handleConsume(ctx, c, env)
	case "consume-data":
		s.handleConsumeData(ctx, c, env)
	case "sfu-restart-ice":
		s.handleRestartIce(ctx, c, env)
	}
}

func (s *Server) transportFor(c *conn, rs *roomState, transportID string) (*media.Transport, error) {
	if t, ok := rs.media.GetTransport(transportID); ok {
		return t, nil
	}
	return rs.media.CreateTransport(c.roomName, transportID, media.DirectionSend, media.KindData)
}

func (s *Server) handleConnectTransport(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		TransportID    string `json:"transportId"`
		DtlsParameters struct {
			SDP string `json:"sdp"`
		} `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode sfu-connect-transport", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	t, err := s.transportFor(c, rs, body.TransportID)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	answer, err := t.Connect(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: body.DtlsParameters.SDP})
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	c.reply(env.ReplyTo, map[string]string{"sdp": answer.SDP}, nil)
}

func (s *Server) handleProduce(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RtpParameters json.RawMessage `json:"rtpParameters"`
		AppData       interface{}     `json:"appData"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode sfu-produce", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	id := rs.sfu.register(producerRecord{
		OwnerID: c.participantID, TransportID: body.TransportID,
		Kind: body.Kind, Parameters: body.RtpParameters, AppData: body.AppData,
	})
	c.reply(env.ReplyTo, map[string]string{"id": id}, nil)
	rs.broadcast("new-producer", map[string]interface{}{
		"producerId": id, "participantId": c.participantID, "kind": body.Kind,
	}, c.participantID)
}

func (s *Server) handleProduceData(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		TransportID          string          `json:"transportId"`
		SctpStreamParameters json.RawMessage `json:"sctpStreamParameters"`
		Label                string          `json:"label"`
		Protocol             string          `json:"protocol"`
		AppData              interface{}     `json:"appData"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode produce-data", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	id := rs.sfu.register(producerRecord{
		OwnerID: c.participantID, TransportID: body.TransportID, Kind: "data",
		Parameters: body.SctpStreamParameters, Label: body.Label, Protocol: body.Protocol, AppData: body.AppData,
	})
	c.reply(env.ReplyTo, map[string]string{"id": id}, nil)
}

func (s *Server) handleConsume(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		ProducerID      string          `json:"producerId"`
		TransportID     string          `json:"transportId"`
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
		IgnoreDtx       bool            `json:"ignoreDtx"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode sfu-consume", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	rec, ok := rs.sfu.get(body.ProducerID)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "no such producer"))
		return
	}
	c.reply(env.ReplyTo, map[string]interface{}{
		"id":            uuid.New().String(),
		"producerId":    body.ProducerID,
		"kind":          rec.Kind,
		"rtpParameters": rec.Parameters,
	}, nil)
}

func (s *Server) handleConsumeData(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		DataProducerID string `json:"dataProducerId"`
		TransportID    string `json:"transportId"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode consume-data", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	rec, ok := rs.sfu.get(body.DataProducerID)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.ProtocolError, "no such data producer"))
		return
	}
	c.reply(env.ReplyTo, map[string]interface{}{
		"id":                    uuid.New().String(),
		"dataProducerId":        body.DataProducerID,
		"label":                 rec.Label,
		"protocol":              rec.Protocol,
		"sctpStreamParameters":  rec.Parameters,
	}, nil)
}

func (s *Server) handleRestartIce(ctx context.Context, c *conn, env signaling.Envelope) {
	var body struct {
		TransportID string `json:"transportId"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		c.reply(env.ReplyTo, nil, errs.Wrap(errs.ProtocolError, "decode sfu-restart-ice", err))
		return
	}
	_, rs, err := s.requireRoom(c)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	t, ok := rs.media.GetTransport(body.TransportID)
	if !ok {
		c.reply(env.ReplyTo, nil, errs.New(errs.TransportUnavailable, "no such transport"))
		return
	}
	offer, err := t.RestartICE(ctx)
	if err != nil {
		c.reply(env.ReplyTo, nil, err)
		return
	}
	netplaylog.Info(ctx, "ICE restart served", zap.String("transport", body.TransportID))
	c.reply(env.ReplyTo, map[string]string{"iceParameters": offer.SDP}, nil)
}
