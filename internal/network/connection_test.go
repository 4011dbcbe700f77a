package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/protocol"
)

func pipePair(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewConnection(client), server
}

func TestZeroTimeoutFailsDeterministically(t *testing.T) {
	conn, _ := pipePair(t)

	if err := conn.ReadReady(0); !errors.Is(err, protocol.ErrReadTimeout) {
		t.Fatalf("ReadReady(0) = %v, want ErrReadTimeout", err)
	}
	if err := conn.WriteReady(0); !errors.Is(err, protocol.ErrWriteTimeout) {
		t.Fatalf("WriteReady(0) = %v, want ErrWriteTimeout", err)
	}
	if _, err := ReceivePacket(conn, 0); !errors.Is(err, protocol.ErrReadTimeout) {
		t.Fatalf("ReceivePacket = %v, want ErrReadTimeout", err)
	}
	if err := SendPacket(conn, 0, []byte{1}); !errors.Is(err, protocol.ErrWriteTimeout) {
		t.Fatalf("SendPacket = %v, want ErrWriteTimeout", err)
	}
}

func TestReadReadyTimesOutWithoutData(t *testing.T) {
	conn, _ := pipePair(t)

	start := time.Now()
	err := conn.ReadReady(50 * time.Millisecond)
	if !errors.Is(err, protocol.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("ReadReady did not honour its timeout")
	}
}

func TestWriteTimesOutWhenPeerNeverReads(t *testing.T) {
	conn, _ := pipePair(t)

	if err := conn.WriteReady(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write([]byte("blocked")); !errors.Is(err, protocol.ErrWriteTimeout) {
		t.Fatalf("expected ErrWriteTimeout, got %v", err)
	}
}

func TestReceivePacket(t *testing.T) {
	conn, server := pipePair(t)

	go func() {
		server.Write(protocol.EncodeResponse(666, protocol.ResponseValue, "There are 0 of 10 players online:"))
	}()

	p, err := ReceivePacket(conn, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	want := protocol.Packet{ID: 666, Type: protocol.ResponseValue, Body: "There are 0 of 10 players online:"}
	if p != want {
		t.Fatalf("got %+v, want %+v", p, want)
	}
}

func TestReceivePacketAcrossPartialWrites(t *testing.T) {
	conn, server := pipePair(t)
	frame := protocol.EncodeResponse(7, protocol.ResponseValue, "segmented on the wire")

	go func() {
		for _, b := range frame {
			server.Write([]byte{b})
		}
	}()

	p, err := ReceivePacket(conn, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 7 || p.Body != "segmented on the wire" {
		t.Fatalf("unexpected packet %+v", p)
	}
}

func TestPeerClosesMidRead(t *testing.T) {
	conn, server := pipePair(t)
	frame := protocol.EncodeResponse(1, protocol.ResponseValue, "truncated")

	go func() {
		server.Write(frame[:7])
		server.Close()
	}()

	_, err := ReceivePacket(conn, time.Second)
	if !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestPeerClosedBeforeAnyData(t *testing.T) {
	conn, server := pipePair(t)
	server.Close()

	if err := conn.ReadReady(time.Second); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	_, err := ReceivePacket(conn, time.Second)
	if kind := protocol.KindOf(err); kind != protocol.KindConnectionClosed {
		t.Fatalf("ReceivePacket kind = %s (%v), want connection_closed", kind, err)
	}
}

func TestClassifyReadErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want protocol.Kind
	}{
		{"eof", io.EOF, protocol.KindConnectionClosed},
		{"unexpected eof", io.ErrUnexpectedEOF, protocol.KindConnectionClosed},
		{"closed conn", net.ErrClosed, protocol.KindConnectionClosed},
		{"closed pipe", io.ErrClosedPipe, protocol.KindConnectionClosed},
		{"deadline", os.ErrDeadlineExceeded, protocol.KindReadTimeout},
		{"other", errors.New("boom"), protocol.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := protocol.KindOf(classifyReadErr(tt.err)); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSendPacket(t *testing.T) {
	conn, server := pipePair(t)
	frame, err := protocol.Encode(666, protocol.RequestExecCommand, "list")
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(frame))
		io.ReadFull(server, buf)
		got <- buf
	}()

	if err := SendPacket(conn, time.Second, frame); err != nil {
		t.Fatal(err)
	}
	if b := <-got; !bytes.Equal(b, frame) {
		t.Fatalf("server read %x, want %x", b, frame)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, _ := pipePair(t)

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close returned %v", err)
	}
	if !conn.IsClosed() {
		t.Fatal("IsClosed should be true")
	}
	if err := conn.ReadReady(time.Second); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("ReadReady after Close = %v", err)
	}
	if err := conn.Write([]byte{1}); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Fatalf("Write after Close = %v", err)
	}
}

func TestDialLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write(protocol.EncodeResponse(2, protocol.ResponseAuth, ""))
		io.Copy(io.Discard, c)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	conn, err := Dial(context.Background(), "127.0.0.1", addr.Port, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	p, err := ReceivePacket(conn, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 2 || p.Type != protocol.ResponseAuth {
		t.Fatalf("unexpected packet %+v", p)
	}
	if conn.LastActivity().Before(conn.ConnectedAt()) {
		t.Fatal("LastActivity should not precede ConnectedAt")
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if _, err := Dial(context.Background(), "127.0.0.1", port, time.Second); err == nil {
		t.Fatal("expected dial error")
	}
}
