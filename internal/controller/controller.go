// Package controller implements the two controller frameworks, Simple and
// Complex, as a tagged union dispatched by Kind rather than subclassing.
package controller

import "github.com/zalo/netplaycore/internal/errs"

// Kind discriminates the controller framework variant.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindComplex Kind = "complex"
)

// Event is a (playerIndex, inputIndex) => value observation, trimmed to
// the fields validation needs.
type Event struct {
	PlayerIndex uint8
	InputIndex  uint16
	Value       int32
}

// Framework is the capability set every controller variant implements:
// validate, createInputState, maxPlayers, maxInputs.
type Framework interface {
	Kind() Kind
	MaxPlayers() uint8
	MaxInputs() uint16
	Validate(ev Event) error
	CreateInputState() []int32
}

// Simple is the fixed 4-player, 30-input controller framework. Button
// inputs take {0,1}; analog inputs take [-32767, 32767]. Simple does not
// distinguish buttons from analog by index, so it treats any value in
// {0,1} as valid for every input (a button observation) and any value in
// the wider analog range as valid too — validation rejects only values
// outside [-32767, 32767].
type Simple struct{}

const (
	simpleMaxPlayers = 4
	simpleMaxInputs  = 30
	analogMin        = -32767
	analogMax        = 32767
)

func NewSimple() *Simple { return &Simple{} }

func (s *Simple) Kind() Kind        { return KindSimple }
func (s *Simple) MaxPlayers() uint8 { return simpleMaxPlayers }
func (s *Simple) MaxInputs() uint16 { return simpleMaxInputs }

func (s *Simple) Validate(ev Event) error {
	if ev.PlayerIndex >= simpleMaxPlayers {
		return errs.New(errs.InvalidInput, "player index out of range")
	}
	if ev.InputIndex >= simpleMaxInputs {
		return errs.New(errs.InvalidInput, "input index out of range")
	}
	if ev.Value == 0 || ev.Value == 1 {
		return nil
	}
	if ev.Value < analogMin || ev.Value > analogMax {
		return errs.New(errs.InvalidInput, "value out of analog range")
	}
	return nil
}

func (s *Simple) CreateInputState() []int32 {
	return make([]int32, simpleMaxInputs)
}

// ControllerType describes a parameterized complex controller layout:
// fixed player/input counts and an explicit allowed value range.
type ControllerType struct {
	Name       string
	MaxPlayers uint8
	MaxInputs  uint16
	ValueMin   int32
	ValueMax   int32
}

// Complex is the variable controller framework, parameterized by a
// ControllerType descriptor.
type Complex struct {
	desc ControllerType
}

// NewComplex constructs a Complex framework from a descriptor.
func NewComplex(desc ControllerType) *Complex {
	return &Complex{desc: desc}
}

func (c *Complex) Kind() Kind        { return KindComplex }
func (c *Complex) MaxPlayers() uint8 { return c.desc.MaxPlayers }
func (c *Complex) MaxInputs() uint16 { return c.desc.MaxInputs }

func (c *Complex) Validate(ev Event) error {
	if ev.PlayerIndex >= c.desc.MaxPlayers {
		return errs.New(errs.InvalidInput, "player index out of range")
	}
	if ev.InputIndex >= c.desc.MaxInputs {
		return errs.New(errs.InvalidInput, "input index out of range")
	}
	if ev.Value < c.desc.ValueMin || ev.Value > c.desc.ValueMax {
		return errs.New(errs.InvalidInput, "value out of range")
	}
	return nil
}

func (c *Complex) CreateInputState() []int32 {
	return make([]int32, c.desc.MaxInputs)
}
