package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the RCON client can surface.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationFailed
	KindInvalidPacketType
	KindInvalidResponseTypeCode
	KindUnsupportedResponseType
	KindConnectionClosed
	KindReadTimeout
	KindWriteTimeout
	KindNotAuthenticated
	KindEncoding
	KindMalformedPacket
	KindUnexpectedResponse
	KindSessionState
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindAuthenticationFailed:    "authentication_failed",
	KindInvalidPacketType:       "invalid_packet_type",
	KindInvalidResponseTypeCode: "invalid_response_type_code",
	KindUnsupportedResponseType: "unsupported_response_type",
	KindConnectionClosed:        "connection_closed",
	KindReadTimeout:             "read_timeout",
	KindWriteTimeout:            "write_timeout",
	KindNotAuthenticated:        "not_authenticated",
	KindEncoding:                "encoding",
	KindMalformedPacket:         "malformed_packet",
	KindUnexpectedResponse:      "unexpected_response",
	KindSessionState:            "session_state",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the single error type returned by the codec, the channel and
// the session. Code carries the offending type tag for the type errors.
type Error struct {
	Kind   Kind
	Code   int32
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.message()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return "rcon: " + msg
}

func (e *Error) message() string {
	switch e.Kind {
	case KindAuthenticationFailed:
		return "error authenticating with server. is your password correct?"
	case KindInvalidPacketType:
		return fmt.Sprintf("invalid packet type: %s", RequestType(e.Code))
	case KindInvalidResponseTypeCode:
		return fmt.Sprintf("invalid response packet type code: %d", e.Code)
	case KindUnsupportedResponseType:
		return fmt.Sprintf("unsupported response type: %s", ResponseType(e.Code))
	case KindConnectionClosed:
		return "the server closed the connection. Do you have too many concurrent connections open?"
	case KindReadTimeout:
		return "timed out waiting for socket to be read-ready"
	case KindWriteTimeout:
		return "timed out waiting for socket to be write-ready"
	case KindNotAuthenticated:
		return "session is not authenticated"
	case KindEncoding:
		return "body is not ASCII"
	case KindMalformedPacket:
		return "malformed packet"
	case KindUnexpectedResponse:
		return "unexpected response"
	case KindSessionState:
		return "invalid session state"
	default:
		return "unknown error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// non-zero Code additionally has to match the code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAuthenticationFailed    = &Error{Kind: KindAuthenticationFailed}
	ErrInvalidPacketType       = &Error{Kind: KindInvalidPacketType}
	ErrInvalidResponseTypeCode = &Error{Kind: KindInvalidResponseTypeCode}
	ErrUnsupportedResponseType = &Error{Kind: KindUnsupportedResponseType}
	ErrConnectionClosed        = &Error{Kind: KindConnectionClosed}
	ErrReadTimeout             = &Error{Kind: KindReadTimeout}
	ErrWriteTimeout            = &Error{Kind: KindWriteTimeout}
	ErrNotAuthenticated        = &Error{Kind: KindNotAuthenticated}
	ErrEncoding                = &Error{Kind: KindEncoding}
	ErrMalformedPacket         = &Error{Kind: KindMalformedPacket}
	ErrUnexpectedResponse      = &Error{Kind: KindUnexpectedResponse}
	ErrSessionState            = &Error{Kind: KindSessionState}
)

// InvalidPacketType reports a request type with no wire code.
func InvalidPacketType(t RequestType) *Error {
	return &Error{Kind: KindInvalidPacketType, Code: int32(t)}
}

// InvalidResponseTypeCode reports an undecodable response type code.
func InvalidResponseTypeCode(code int32) *Error {
	return &Error{Kind: KindInvalidResponseTypeCode, Code: code}
}

// UnsupportedResponseType reports a response type the classifier cannot map.
func UnsupportedResponseType(t ResponseType) *Error {
	return &Error{Kind: KindUnsupportedResponseType, Code: int32(t)}
}

// NewError builds an *Error of the given kind wrapping cause.
func NewError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
