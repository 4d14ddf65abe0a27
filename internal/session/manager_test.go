package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/errs"
)

func TestCreateRejectsDuplicateName(t *testing.T) {
	m := NewManager()
	_, err := m.Create("room1", 4, nil, ModeDescriptor{})
	assert.NoError(t, err)

	_, err = m.Create("room1", 4, nil, ModeDescriptor{})
	assert.ErrorIs(t, err, errs.New(errs.ProtocolError, ""))
}

func TestGetReturnsTrackedRoom(t *testing.T) {
	m := NewManager()
	created, _ := m.Create("room1", 4, nil, ModeDescriptor{})

	got, ok := m.Get("room1")
	assert.True(t, ok)
	assert.Same(t, created, got)
}

func TestRemoveUntracksRoom(t *testing.T) {
	m := NewManager()
	_, _ = m.Create("room1", 4, nil, ModeDescriptor{})
	m.Remove("room1")

	_, ok := m.Get("room1")
	assert.False(t, ok)
}

func TestListReturnsEveryRoom(t *testing.T) {
	m := NewManager()
	_, _ = m.Create("room1", 4, nil, ModeDescriptor{})
	_, _ = m.Create("room2", 4, nil, ModeDescriptor{})

	assert.Len(t, m.List(), 2)
}
