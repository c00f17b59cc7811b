// Package fault defines the error taxonomy shared by the control plane.
// Every externally visible failure carries a stable kind plus a
// human-readable message so callers can branch without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are stable; messages are not.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidArgument    Kind = "invalid_argument"
	KindProviderError      Kind = "provider_error"
	KindChannelUnavailable Kind = "channel_unavailable"
	KindTimeout            Kind = "timeout"
	KindCommandFailed      Kind = "command_failed"
	KindUnsupportedCommand Kind = "unsupported_command_type"
)

// Error is a classified failure. It wraps an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) matches any
// fault of that kind regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind with an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound builds a KindNotFound fault.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InvalidState builds a KindInvalidState fault.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// InvalidArgument builds a KindInvalidArgument fault.
func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Provider wraps a gateway failure, preserving its message.
func Provider(cause error, format string, args ...any) *Error {
	return Wrap(KindProviderError, cause, format, args...)
}

// ChannelUnavailable builds a KindChannelUnavailable fault.
func ChannelUnavailable(format string, args ...any) *Error {
	return New(KindChannelUnavailable, format, args...)
}

// Timeout builds a KindTimeout fault.
func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// KindOf returns the kind of err if it is (or wraps) a fault, or "" otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err is (or wraps) a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
