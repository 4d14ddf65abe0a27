package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/errs"
)

func TestSimpleValidateAcceptsButtonValues(t *testing.T) {
	s := NewSimple()
	assert.NoError(t, s.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: 0}))
	assert.NoError(t, s.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: 1}))
}

func TestSimpleValidateAcceptsAnalogRange(t *testing.T) {
	s := NewSimple()
	assert.NoError(t, s.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: 32767}))
	assert.NoError(t, s.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: -32767}))
}

func TestSimpleValidateRejectsOutOfRangeValue(t *testing.T) {
	s := NewSimple()
	err := s.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: 40000})
	assert.ErrorIs(t, err, errs.New(errs.InvalidInput, ""))
}

func TestSimpleValidateRejectsOutOfRangePlayer(t *testing.T) {
	s := NewSimple()
	err := s.Validate(Event{PlayerIndex: 4, InputIndex: 0, Value: 0})
	assert.ErrorIs(t, err, errs.New(errs.InvalidInput, ""))
}

func TestSimpleValidateRejectsOutOfRangeInput(t *testing.T) {
	s := NewSimple()
	err := s.Validate(Event{PlayerIndex: 0, InputIndex: 30, Value: 0})
	assert.ErrorIs(t, err, errs.New(errs.InvalidInput, ""))
}

func TestSimpleCreateInputStateSize(t *testing.T) {
	s := NewSimple()
	assert.Len(t, s.CreateInputState(), simpleMaxInputs)
}

func TestComplexValidateRespectsDescriptor(t *testing.T) {
	c := NewComplex(ControllerType{Name: "wheel", MaxPlayers: 2, MaxInputs: 8, ValueMin: -100, ValueMax: 100})

	assert.NoError(t, c.Validate(Event{PlayerIndex: 1, InputIndex: 7, Value: 100}))
	assert.Error(t, c.Validate(Event{PlayerIndex: 2, InputIndex: 0, Value: 0}))
	assert.Error(t, c.Validate(Event{PlayerIndex: 0, InputIndex: 8, Value: 0}))
	assert.Error(t, c.Validate(Event{PlayerIndex: 0, InputIndex: 0, Value: 101}))
}

func TestComplexCreateInputStateSize(t *testing.T) {
	c := NewComplex(ControllerType{MaxInputs: 16})
	assert.Len(t, c.CreateInputState(), 16)
}

func TestKindReportsVariant(t *testing.T) {
	assert.Equal(t, KindSimple, NewSimple().Kind())
	assert.Equal(t, KindComplex, NewComplex(ControllerType{}).Kind())
}
