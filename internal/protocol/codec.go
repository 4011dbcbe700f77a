package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode produces the wire frame for a request:
//
//	[size:4][id:4][type:4][body][0x00][0x00]
//
// where size counts everything after the size field.
func Encode(id int32, t RequestType, body string) ([]byte, error) {
	code, err := t.Code()
	if err != nil {
		return nil, err
	}
	if i := nonASCIIIndex(body); i >= 0 {
		return nil, &Error{Kind: KindEncoding, Detail: fmt.Sprintf("byte 0x%02x at offset %d", body[i], i)}
	}
	if HeaderLen+len(body)+TrailerLen > MaxPacketSize {
		return nil, &Error{Kind: KindMalformedPacket, Detail: fmt.Sprintf("body too large: %d bytes", len(body))}
	}

	b := NewPacketBuilder()
	b.WriteInt32(id)
	b.WriteInt32(code)
	b.WriteNullString(body)
	b.WriteBytes([]byte{0})
	return b.BuildWithLength(), nil
}

// Decode splits a frame (without its size prefix) into a response packet.
// size is the value read from the size prefix.
func Decode(frame []byte, size int32) (Packet, error) {
	if err := checkSize(size); err != nil {
		return Packet{}, err
	}
	if len(frame) < int(size) {
		return Packet{}, &Error{
			Kind:   KindMalformedPacket,
			Detail: fmt.Sprintf("frame holds %d bytes, size field says %d", len(frame), size),
		}
	}

	id := int32(binary.LittleEndian.Uint32(frame[0:4]))
	code := int32(binary.LittleEndian.Uint32(frame[4:8]))
	t, err := ParseResponseType(code)
	if err != nil {
		return Packet{}, err
	}

	bodyLen := int(size) - MinPacketSize
	body := string(frame[HeaderLen : HeaderLen+bodyLen])
	return Packet{ID: id, Type: t, Body: body}, nil
}

// DecodeSize reads the size prefix and validates it.
func DecodeSize(prefix []byte) (int32, error) {
	if len(prefix) < SizeFieldLen {
		return 0, &Error{Kind: KindMalformedPacket, Detail: "short size prefix"}
	}
	size := int32(binary.LittleEndian.Uint32(prefix[:SizeFieldLen]))
	if err := checkSize(size); err != nil {
		return 0, err
	}
	return size, nil
}

func checkSize(size int32) error {
	if size < MinPacketSize || size > MaxPacketSize {
		return &Error{
			Kind:   KindMalformedPacket,
			Detail: fmt.Sprintf("size %d outside [%d, %d]", size, MinPacketSize, MaxPacketSize),
		}
	}
	return nil
}

func nonASCIIIndex(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return i
		}
	}
	return -1
}

// EncodeResponse produces the wire frame a server would send for a
// response packet. Mock servers and tests use it.
func EncodeResponse(id int32, t ResponseType, body string) []byte {
	b := NewPacketBuilder()
	b.WriteInt32(id)
	b.WriteInt32(int32(t))
	b.WriteNullString(body)
	b.WriteBytes([]byte{0})
	return b.BuildWithLength()
}
