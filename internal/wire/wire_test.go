package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := NewInputPayload(42, 1, 2, 7, -5)

	data, err := Encode(p)
	assert.NoError(t, err)

	got, err := Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestEncodeAlwaysTagsType(t *testing.T) {
	p := InputPayload{Frame: 1}
	data, err := Encode(p)
	assert.NoError(t, err)

	typ, ok := PayloadType(data)
	assert.True(t, ok)
	assert.Equal(t, TypeInput, typ)
}

func TestDecodeMalformedData(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}

func TestPayloadTypeMalformed(t *testing.T) {
	_, ok := PayloadType([]byte("[object Object]"))
	assert.False(t, ok)
}

func TestPayloadTypeMissingTag(t *testing.T) {
	_, ok := PayloadType([]byte(`{"f":1}`))
	assert.False(t, ok)
}
