// Package protocol implements the Source RCON wire format: packet type
// tables, the binary codec and response classification. All integers are
// little-endian signed 32-bit values and every frame carries a 4-byte
// length prefix.
package protocol

import "fmt"

// Frame layout sizes.
const (
	// SizeFieldLen is the length of the leading size prefix.
	SizeFieldLen = 4
	// HeaderLen covers the id and type fields.
	HeaderLen = 8
	// TrailerLen is the body NUL terminator plus the empty-string NUL.
	TrailerLen = 2
	// MinPacketSize is the smallest legal value of the size field (empty body).
	MinPacketSize = HeaderLen + TrailerLen
	// MaxPacketSize bounds the size field accepted from a peer.
	MaxPacketSize = 1 << 20
)

// AuthFailureID is the id a server puts in an auth response when the
// password was rejected.
const AuthFailureID int32 = -1

// RequestType is the type tag of a packet sent by the client.
type RequestType int32

const (
	// RequestSentinel is not a canonical request type. Servers answer it
	// with an empty response value, which makes its echo a reliable
	// end-of-response marker.
	RequestSentinel    RequestType = 0
	RequestExecCommand RequestType = 2
	RequestAuth        RequestType = 3
)

var requestTypeNames = map[RequestType]string{
	RequestSentinel:    "SENTINEL",
	RequestExecCommand: "SERVERDATA_EXECCOMMAND",
	RequestAuth:        "SERVERDATA_AUTH",
}

// String returns the protocol name of the request type.
func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(%d)", int32(t))
}

// Code returns the wire integer for t, or InvalidPacketType if t is not a
// known request type.
func (t RequestType) Code() (int32, error) {
	switch t {
	case RequestSentinel, RequestExecCommand, RequestAuth:
		return int32(t), nil
	default:
		return 0, InvalidPacketType(t)
	}
}

// ResponseType is the type tag of a packet received from the server.
type ResponseType int32

const (
	ResponseValue ResponseType = 0
	ResponseAuth  ResponseType = 2
)

var responseTypeNames = map[ResponseType]string{
	ResponseValue: "SERVERDATA_RESPONSE_VALUE",
	ResponseAuth:  "SERVERDATA_AUTH_RESPONSE",
}

// String returns the protocol name of the response type.
func (t ResponseType) String() string {
	if name, ok := responseTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ResponseType(%d)", int32(t))
}

// ParseResponseType maps a decoded wire integer to a ResponseType.
func ParseResponseType(code int32) (ResponseType, error) {
	switch ResponseType(code) {
	case ResponseValue, ResponseAuth:
		return ResponseType(code), nil
	default:
		return 0, InvalidResponseTypeCode(code)
	}
}

// Packet is a decoded response packet.
type Packet struct {
	ID   int32
	Type ResponseType
	Body string
}
