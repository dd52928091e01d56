package websocket

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the controller surfaces.
type ErrorKind string

const (
	// KindSend means a command could not be enqueued or written.
	KindSend ErrorKind = "SEND"
	// KindConnection means the handshake failed.
	KindConnection ErrorKind = "CONNECTION"
	// KindDisconnected means the transport is (or just became) closed.
	KindDisconnected ErrorKind = "DISCONNECTED"
	// KindDeserialization means an inbound frame could not be decoded.
	KindDeserialization ErrorKind = "DESERIALIZATION"
	// KindSerialization means a command could not be encoded.
	KindSerialization ErrorKind = "SERIALIZATION"
	// KindUnknown covers unexpected transport failures.
	KindUnknown ErrorKind = "UNKNOWN"

	KindUserNotFound    ErrorKind = "USER_NOT_FOUND"
	KindAccessDenied    ErrorKind = "ACCESS_DENIED"
	KindInvalidToken    ErrorKind = "INVALID_TOKEN"
	KindNotMemberOfRoom ErrorKind = "NOT_MEMBER_OF_ROOM"
	KindMessageNotFound ErrorKind = "MESSAGE_NOT_FOUND"
)

// Wire codes carried by error frames and API error bodies.
const (
	CodeUserNotFound    = "user_not_found"
	CodeAccessDenied    = "access_denied"
	CodeInvalidToken    = "invalid_token"
	CodeNotMemberOfRoom = "not_member_of_room"
	CodeMessageNotFound = "message_not_found"
)

var protocolKinds = map[string]ErrorKind{
	CodeUserNotFound:    KindUserNotFound,
	CodeAccessDenied:    KindAccessDenied,
	CodeInvalidToken:    KindInvalidToken,
	CodeNotMemberOfRoom: KindNotMemberOfRoom,
	CodeMessageNotFound: KindMessageNotFound,
}

// KindFromCode maps a wire error code to its kind; unknown codes map to
// KindUnknown.
func KindFromCode(code string) ErrorKind {
	if kind, ok := protocolKinds[code]; ok {
		return kind
	}
	return KindUnknown
}

// IsProtocol reports whether the kind originates from a structured error
// sent by the server rather than from the transport.
func (k ErrorKind) IsProtocol() bool {
	switch k {
	case KindUserNotFound, KindAccessDenied, KindInvalidToken, KindNotMemberOfRoom, KindMessageNotFound:
		return true
	default:
		return false
	}
}

// Error is a classified failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel comparisons such
// as errors.Is(err, ErrDisconnected) work on wrapped values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is; they carry only a kind.
var (
	ErrDisconnected    = &Error{Kind: KindDisconnected}
	ErrDeserialization = &Error{Kind: KindDeserialization}
	ErrSerialization   = &Error{Kind: KindSerialization}
)

func errDisconnected(message string, err error) *Error {
	return NewError(KindDisconnected, message, err)
}

func errUnknown(message string, err error) *Error {
	return NewError(KindUnknown, message, err)
}

// KindOf extracts the ErrorKind from err, defaulting to KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError converts any error into an *Error, wrapping unclassified errors
// as KindUnknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return errUnknown("unexpected error", err)
}
