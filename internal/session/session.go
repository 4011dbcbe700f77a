// Package session implements the RCON client session: the authentication
// handshake, command execution and segmented response reassembly over a
// single timed channel.
//
// A Session is strictly sequential. It has no goroutines of its own and
// must not be used from more than one goroutine at a time; responses are
// matched to requests only by read order.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/network"
	"github.com/energizer-project/rconsole/internal/protocol"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

var stateNames = map[State]string{
	StateDisconnected:  "disconnected",
	StateConnected:     "connected",
	StateAuthenticated: "authenticated",
	StateClosed:        "closed",
}

// String returns the lowercase name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Dialer opens the channel a session talks over.
type Dialer func(ctx context.Context, host string, port int, timeout time.Duration) (network.Channel, error)

// DialTCP is the default Dialer.
func DialTCP(ctx context.Context, host string, port int, timeout time.Duration) (network.Channel, error) {
	conn, err := network.Dial(ctx, host, port, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// AuthOptions controls the handshake.
type AuthOptions struct {
	// IgnoreLeadingEmptyPacket discards exactly one packet before the auth
	// response. Source servers send an empty response value ahead of the
	// auth response; Minecraft and other strict servers do not, and must be
	// used with this switch off.
	IgnoreLeadingEmptyPacket bool
}

// ExecOptions controls a single command execution.
type ExecOptions struct {
	// ExpectSegmentedResponse sends a sentinel packet after the command and
	// concatenates response packets until the sentinel is echoed.
	ExpectSegmentedResponse bool
	// PreSentinelDelay is slept between the command and the sentinel, for
	// servers that drop back-to-back packets.
	PreSentinelDelay time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout overrides the readiness timeout used for every read and write.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithIDSource overrides request id generation.
func WithIDSource(ids IDSource) Option {
	return func(s *Session) { s.ids = ids }
}

// WithDialer overrides how the channel is opened.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithLogger overrides the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session is one authenticated RCON conversation with a server.
type Session struct {
	host     string
	port     int
	password string

	timeout time.Duration
	ids     IDSource
	dial    Dialer
	logger  zerolog.Logger

	channel network.Channel
	state   State
}

// New creates an unauthenticated session. No connection is opened until
// Authenticate is called.
func New(host string, port int, password string, opts ...Option) *Session {
	s := &Session{
		host:     host,
		port:     port,
		password: password,
		timeout:  network.DefaultTimeout,
		ids:      NewSequenceIDs(),
		dial:     DialTCP,
		state:    StateDisconnected,
	}
	s.logger = log.With().
		Str("component", "rcon_session").
		Str("addr", net.JoinHostPort(host, strconv.Itoa(port))).
		Logger()

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Authenticated reports whether commands may be executed.
func (s *Session) Authenticated() bool {
	return s.state == StateAuthenticated
}

// Authenticate opens the connection and performs the auth handshake. On
// any failure the session stays unusable and should be ended.
func (s *Session) Authenticate(ctx context.Context, opts AuthOptions) (protocol.AuthResponse, error) {
	switch s.state {
	case StateDisconnected:
	case StateClosed:
		return protocol.AuthResponse{}, protocol.NewError(protocol.KindSessionState, "session is closed", nil)
	default:
		return protocol.AuthResponse{}, protocol.NewError(protocol.KindSessionState,
			fmt.Sprintf("authenticate called in state %s", s.state), nil)
	}

	id := s.ids.Next()

	ch, err := s.dial(ctx, s.host, s.port, s.timeout)
	if err != nil {
		return protocol.AuthResponse{}, err
	}
	s.channel = ch
	s.state = StateConnected

	if err := s.send(id, protocol.RequestAuth, s.password); err != nil {
		return protocol.AuthResponse{}, err
	}

	if opts.IgnoreLeadingEmptyPacket {
		p, err := s.receive()
		if err != nil {
			return protocol.AuthResponse{}, err
		}
		s.logger.Debug().Int32("id", p.ID).Str("type", p.Type.String()).Msg("discarded leading packet")
	}

	p, err := s.receive()
	if err != nil {
		return protocol.AuthResponse{}, err
	}
	resp, err := protocol.Classify(p)
	if err != nil {
		return protocol.AuthResponse{}, err
	}
	auth, ok := resp.(protocol.AuthResponse)
	if !ok {
		return protocol.AuthResponse{}, protocol.NewError(protocol.KindUnexpectedResponse,
			fmt.Sprintf("expected %s, got %s", protocol.ResponseAuth, p.Type), nil)
	}
	if !auth.Success() {
		s.logger.Warn().Msg("authentication rejected")
		return auth, protocol.ErrAuthenticationFailed
	}

	s.state = StateAuthenticated
	s.logger.Info().Int32("id", auth.ID).Msg("authenticated")
	return auth, nil
}

// Execute runs command on the server and returns its output.
func (s *Session) Execute(command string, opts ExecOptions) (protocol.CommandResponse, error) {
	if s.state != StateAuthenticated {
		return protocol.CommandResponse{}, protocol.ErrNotAuthenticated
	}

	id := s.ids.Next()
	if err := s.send(id, protocol.RequestExecCommand, command); err != nil {
		return protocol.CommandResponse{}, err
	}

	if !opts.ExpectSegmentedResponse {
		p, err := s.receive()
		if err != nil {
			return protocol.CommandResponse{}, err
		}
		return asCommandResponse(p)
	}

	if opts.PreSentinelDelay > 0 {
		time.Sleep(opts.PreSentinelDelay)
	}
	trashID := s.ids.Next()
	if err := s.send(trashID, protocol.RequestSentinel, ""); err != nil {
		return protocol.CommandResponse{}, err
	}

	return s.reassemble(id, trashID)
}

// reassemble reads packets until the echo of trashID arrives and joins
// their bodies in arrival order. The loop is unbounded; a server that
// never echoes the sentinel is cut off by the read timeout.
func (s *Session) reassemble(commandID, trashID int32) (protocol.CommandResponse, error) {
	first, err := s.receive()
	if err != nil {
		return protocol.CommandResponse{}, err
	}
	if first.ID == trashID {
		return protocol.CommandResponse{ID: commandID, Type: protocol.ResponseValue}, nil
	}
	base, err := asCommandResponse(first)
	if err != nil {
		return protocol.CommandResponse{}, err
	}

	var body strings.Builder
	body.WriteString(base.Body)
	segments := 1
	for {
		p, err := s.receive()
		if err != nil {
			return protocol.CommandResponse{}, err
		}
		if p.ID == trashID {
			break
		}
		body.WriteString(p.Body)
		segments++
	}

	s.logger.Debug().Int32("id", base.ID).Int("segments", segments).Int("bytes", body.Len()).Msg("reassembled response")
	return base.WithBody(body.String()), nil
}

// EndSession closes the connection. It is safe to call more than once.
func (s *Session) EndSession() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	if s.channel == nil {
		return nil
	}
	err := s.channel.Close()
	s.channel = nil
	s.logger.Info().Msg("session ended")
	return err
}

func (s *Session) send(id int32, t protocol.RequestType, body string) error {
	frame, err := protocol.Encode(id, t, body)
	if err != nil {
		return err
	}
	if err := network.SendPacket(s.channel, s.timeout, frame); err != nil {
		return err
	}
	s.logger.Debug().Int32("id", id).Str("type", t.String()).Int("len", len(body)).Msg("packet sent")
	return nil
}

func (s *Session) receive() (protocol.Packet, error) {
	p, err := network.ReceivePacket(s.channel, s.timeout)
	if err != nil {
		return protocol.Packet{}, err
	}
	s.logger.Debug().Int32("id", p.ID).Str("type", p.Type.String()).Int("len", len(p.Body)).Msg("packet received")
	return p, nil
}

func asCommandResponse(p protocol.Packet) (protocol.CommandResponse, error) {
	resp, err := protocol.Classify(p)
	if err != nil {
		return protocol.CommandResponse{}, err
	}
	cr, ok := resp.(protocol.CommandResponse)
	if !ok {
		return protocol.CommandResponse{}, protocol.NewError(protocol.KindUnexpectedResponse,
			fmt.Sprintf("expected %s, got %s", protocol.ResponseValue, p.Type), nil)
	}
	return cr, nil
}
