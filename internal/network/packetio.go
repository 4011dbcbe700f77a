package network

import (
	"time"

	"github.com/energizer-project/rconsole/internal/protocol"
)

// SendPacket waits for ch to become writable and writes frame.
func SendPacket(ch Channel, timeout time.Duration, frame []byte) error {
	if err := ch.WriteReady(timeout); err != nil {
		return err
	}
	return ch.Write(frame)
}

// ReceivePacket waits for ch to become readable, reads one length-prefixed
// frame and decodes it.
// Wire format: [size:4][id:4][type:4][body][0x00][0x00]
func ReceivePacket(ch Channel, timeout time.Duration) (protocol.Packet, error) {
	if err := ch.ReadReady(timeout); err != nil {
		return protocol.Packet{}, err
	}

	prefix, err := ch.ReadExact(protocol.SizeFieldLen)
	if err != nil {
		return protocol.Packet{}, err
	}
	size, err := protocol.DecodeSize(prefix)
	if err != nil {
		return protocol.Packet{}, err
	}

	frame, err := ch.ReadExact(int(size))
	if err != nil {
		return protocol.Packet{}, err
	}
	return protocol.Decode(frame, size)
}
