// Package network implements the timed byte channel that carries RCON
// packets between the client and a game server.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconsole/internal/protocol"
)

// DefaultTimeout bounds every readiness wait unless overridden.
const DefaultTimeout = 5 * time.Second

// Channel is the narrow view of a stream connection used by a session.
// ReadExact and Write may only be called after the matching readiness
// check succeeded.
type Channel interface {
	ReadReady(timeout time.Duration) error
	WriteReady(timeout time.Duration) error
	ReadExact(n int) ([]byte, error)
	Write(p []byte) error
	Close() error
}

// Connection implements Channel over a net.Conn. Readiness is established
// by arming a deadline and, for reads, peeking one buffered byte.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// ReadReady blocks until at least one byte can be read or timeout elapses.
func (c *Connection) ReadReady(timeout time.Duration) error {
	if timeout <= 0 {
		return protocol.ErrReadTimeout
	}
	if c.IsClosed() {
		return protocol.NewError(protocol.KindConnectionClosed, "connection already closed", nil)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return classifyReadErr(err)
	}
	if _, err := c.reader.Peek(1); err != nil {
		return classifyReadErr(err)
	}
	return nil
}

// WriteReady arms the write deadline. Go sockets have no portable
// writability probe; a write blocked past the deadline fails with
// ErrWriteTimeout instead.
func (c *Connection) WriteReady(timeout time.Duration) error {
	if timeout <= 0 {
		return protocol.ErrWriteTimeout
	}
	if c.IsClosed() {
		return protocol.NewError(protocol.KindConnectionClosed, "connection already closed", nil)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

// ReadExact reads exactly n bytes. A peer that closes the stream early
// produces ErrConnectionClosed, never a short result.
func (c *Connection) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, classifyReadErr(err)
	}
	c.touch()
	return buf, nil
}

// Write writes all of p. The loop covers net.Conn implementations that
// return a short write without an error.
func (c *Connection) Write(p []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return protocol.NewError(protocol.KindConnectionClosed, "connection already closed", nil)
	}

	for written := 0; written < len(p); {
		n, err := c.conn.Write(p[written:])
		written += n
		if err != nil {
			return classifyWriteErr(err)
		}
	}
	c.touch()
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last completed read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func classifyReadErr(err error) error {
	switch {
	case isTimeout(err):
		return protocol.NewError(protocol.KindReadTimeout, "", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return protocol.NewError(protocol.KindConnectionClosed, "", err)
	default:
		return fmt.Errorf("read: %w", err)
	}
}

func classifyWriteErr(err error) error {
	switch {
	case isTimeout(err):
		return protocol.NewError(protocol.KindWriteTimeout, "", err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return protocol.NewError(protocol.KindConnectionClosed, "", err)
	default:
		return fmt.Errorf("write: %w", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
