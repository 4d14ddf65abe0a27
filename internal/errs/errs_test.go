package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorMessage(t *testing.T) {
	e := New(NoSlot, "all slots occupied")
	assert.Equal(t, "no_slot: all slots occupied", e.Error())
}

func TestNewErrorMessageEmptyMsg(t *testing.T) {
	e := New(Timeout, "")
	assert.Equal(t, "timeout", e.Error())
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("boom")
	e := Wrap(TransportUnavailable, "connect", inner)
	assert.ErrorIs(t, e, inner)
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := New(NoSlot, "all slots occupied")
	b := New(NoSlot, "a different message")
	c := New(RoomFull, "all slots occupied")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestMismatchCarriesCanSpectate(t *testing.T) {
	e := Mismatch("rom hash differs", true)
	assert.Equal(t, CompatibilityMismatch, e.Kind)
	assert.True(t, e.CanSpectate)
}

func TestIsAuthKind(t *testing.T) {
	assert.True(t, IsAuthKind(New(AuthRequired, "token expired")))
	assert.False(t, IsAuthKind(New(NoSlot, "full")))
	assert.False(t, IsAuthKind(errors.New("plain error")))
}
