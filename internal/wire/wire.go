// Package wire implements the canonical InputPayload wire format: a
// compact tagged record {t:"i", f, s, p, k, v}, JSON by default.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/zalo/netplaycore/internal/clock"
)

// TypeInput is the wire type marker for input payloads.
const TypeInput = "i"

// InputPayload is the canonical wire record for a single input event.
type InputPayload struct {
	Type  string      `json:"t"`
	Frame clock.Frame `json:"f"`
	Slot  uint8       `json:"s"`
	Player uint8      `json:"p"`
	Key   uint16      `json:"k"`
	Value int32       `json:"v"`
}

// NewInputPayload builds a tagged InputPayload from its fields.
func NewInputPayload(frame clock.Frame, slot, player uint8, key uint16, value int32) InputPayload {
	return InputPayload{Type: TypeInput, Frame: frame, Slot: slot, Player: player, Key: key, Value: value}
}

// Encode serializes an InputPayload as UTF-8 JSON. Over SFU data channels
// this is sent as a byte buffer, because server-side SCTP framing corrupts
// structured objects.
func Encode(p InputPayload) ([]byte, error) {
	p.Type = TypeInput
	return json.Marshal(p)
}

// Decode parses bytes previously produced by Encode. decode(encode(ev)) ==
// ev for every InputPayload.
func Decode(data []byte) (InputPayload, error) {
	var p InputPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return InputPayload{}, fmt.Errorf("wire: decode: %w", err)
	}
	return p, nil
}

// PayloadType peeks at the "t" field of an arbitrary wire message without
// fully decoding it, so DataChannelCore can dispatch by tag.
// Malformed or stray payloads (e.g. "[object Object]") return ("", false).
func PayloadType(data []byte) (string, bool) {
	var envelope struct {
		Type string `json:"t"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", false
	}
	if envelope.Type == "" {
		return "", false
	}
	return envelope.Type, true
}
