package netplaylog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLFallsBackWhenInitNeverCalled(t *testing.T) {
	assert.NotNil(t, L())
}

func TestWithRoomAndParticipantEnrichFields(t *testing.T) {
	ctx := context.Background()
	ctx = WithRoom(ctx, "room-1")
	ctx = WithParticipant(ctx, "p-1")

	f := fields(ctx, nil)
	assert.Len(t, f, 2)
}

func TestFieldsNilContextReturnsExtraUnchanged(t *testing.T) {
	got := fields(nil, nil)
	assert.Empty(t, got)
}

func TestFieldsIgnoresContextWithoutKnownKeys(t *testing.T) {
	got := fields(context.Background(), nil)
	assert.Empty(t, got)
}

func TestInitIsIdempotent(t *testing.T) {
	assert.NoError(t, Init(true))
	first := L()
	assert.NoError(t, Init(false))
	assert.Same(t, first, L())
}
