// Package errs defines the closed error-kind enumeration used across the
// netplay core: a tagged kind that collaborators can compare with
// errors.Is instead of matching on message strings.
package errs

import "fmt"

// Kind is one of the error kinds enumerated in the design.
type Kind string

const (
	NotConnected          Kind = "not_connected"
	Timeout               Kind = "timeout"
	AuthRequired          Kind = "auth_required"
	InvalidInput          Kind = "invalid_input"
	NoSlot                Kind = "no_slot"
	RoomFull              Kind = "room_full"
	BadPassword           Kind = "bad_password"
	NoSuchRoom            Kind = "no_such_room"
	CompatibilityMismatch Kind = "compatibility_mismatch"
	TransportUnavailable  Kind = "transport_unavailable"
	CodecUnavailable      Kind = "codec_unavailable"
	IceRestartFailed      Kind = "ice_restart_failed"
	ProtocolError         Kind = "protocol_error"
)

// Error is a netplay-core error carrying a Kind so callers can branch on it
// with errors.Is / errors.As instead of string matching.
type Error struct {
	Kind Kind
	// CanSpectate is only meaningful when Kind == CompatibilityMismatch.
	CanSpectate bool
	Msg         string
	Wrapped     error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, errs.New(Kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error that wraps another error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Wrapped: err}
}

// Mismatch builds the CompatibilityMismatch error carrying CanSpectate.
func Mismatch(reason string, canSpectate bool) *Error {
	return &Error{Kind: CompatibilityMismatch, Msg: reason, CanSpectate: canSpectate}
}

// IsAuthKind reports whether an error's kind looks like an auth failure that
// should route to the credential-refresh collaborator before any retry.
func IsAuthKind(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == AuthRequired
}
