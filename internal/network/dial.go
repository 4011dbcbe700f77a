package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Dial opens a TCP connection to host:port, giving up after timeout.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log.Debug().Str("addr", addr).Msg("dialing rcon server")

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rcon server at %s: %w", addr, err)
	}

	return NewConnection(conn), nil
}
