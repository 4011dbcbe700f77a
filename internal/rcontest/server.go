// Package rcontest provides a loopback RCON server for tests, in the
// spirit of net/http/httptest.
package rcontest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/energizer-project/rconsole/internal/protocol"
)

// Request is one frame received from a client.
type Request struct {
	ID   int32
	Type int32
	Body string
}

// HandlerFunc returns the response segments for a command. Each segment
// is sent as its own packet carrying the command's id.
type HandlerFunc func(command string) []string

// Server is a minimal Source-style RCON server bound to 127.0.0.1.
type Server struct {
	Password string
	// LeadingPacket makes the server send an empty response value before
	// the auth response, as Source dedicated servers do.
	LeadingPacket bool
	Handler       HandlerFunc

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string
	accepted int
}

// NewServer starts a server that accepts password and echoes commands.
func NewServer(password string) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("rcontest: failed to listen: " + err.Error())
	}
	s := &Server{
		Password:      password,
		LeadingPacket: true,
		Handler:       func(cmd string) []string { return []string{"ok: " + cmd} },
		ln:            ln,
		conns:         make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Host returns the listen host.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the listen port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Commands returns every command executed so far, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Accepted returns the number of connections accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener and drops open connections.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	for {
		req, err := ReadRequest(c)
		if err != nil {
			return
		}

		switch req.Type {
		case 3:
			if s.LeadingPacket {
				c.Write(protocol.EncodeResponse(req.ID, protocol.ResponseValue, ""))
			}
			id := req.ID
			if req.Body != s.Password {
				id = protocol.AuthFailureID
			}
			c.Write(protocol.EncodeResponse(id, protocol.ResponseAuth, ""))
		case 2:
			s.mu.Lock()
			s.commands = append(s.commands, req.Body)
			s.mu.Unlock()
			for _, seg := range s.Handler(req.Body) {
				c.Write(protocol.EncodeResponse(req.ID, protocol.ResponseValue, seg))
			}
		default:
			// Sentinel: echo an empty response value with the same id.
			c.Write(protocol.EncodeResponse(req.ID, protocol.ResponseValue, ""))
		}
	}
}

// ReadRequest reads one raw client frame from r.
func ReadRequest(r io.Reader) (Request, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Request{}, err
	}
	size := int(binary.LittleEndian.Uint32(prefix[:]))
	if size < protocol.MinPacketSize || size > protocol.MaxPacketSize {
		return Request{}, errors.New("rcontest: bad frame size")
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return Request{}, err
	}
	return Request{
		ID:   int32(binary.LittleEndian.Uint32(frame[0:4])),
		Type: int32(binary.LittleEndian.Uint32(frame[4:8])),
		Body: string(frame[8 : size-2]),
	}, nil
}
