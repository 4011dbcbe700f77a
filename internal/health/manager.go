// Package health periodically checks that every configured server accepts
// an RCON login.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/session"
	"github.com/energizer-project/rconsole/internal/util"
)

// Opener authenticates sessions against named profiles.
// *dispatch.Dispatcher implements it.
type Opener interface {
	Open(ctx context.Context, server string) (*session.Session, error)
	Close(ctx context.Context, server string, s *session.Session) error
	Servers() []string
}

// State is the outcome of the last check of a server.
type State string

const (
	StateUnknown     State = "unknown"
	StateHealthy     State = "healthy"
	StateAuthFailed  State = "auth_failed"
	StateUnreachable State = "unreachable"
)

// Status is the last known health of one server.
type Status struct {
	Server    string        `json:"server"`
	State     State         `json:"state"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Manager runs login probes and keeps the latest status per server.
type Manager struct {
	opener   Opener
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewManager creates a manager probing every interval. An interval <= 0
// disables the periodic loop; Check and CheckAll still work.
func NewManager(opener Opener, interval time.Duration) *Manager {
	m := &Manager{
		opener:   opener,
		interval: interval,
		logger:   util.ComponentLogger("health"),
		now:      time.Now,
		statuses: make(map[string]Status),
	}
	for _, name := range opener.Servers() {
		m.statuses[name] = Status{Server: name, State: StateUnknown}
	}
	return m
}

// Start checks every server immediately and then once per interval until
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Debug().Msg("health checks disabled")
		return
	}

	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.interval).Msg("health check manager started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes each server in name order and returns the results.
func (m *Manager) CheckAll(ctx context.Context) []Status {
	names := m.opener.Servers()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		out = append(out, m.Check(ctx, name))
	}
	return out
}

// Check opens and immediately closes one session against server.
func (m *Manager) Check(ctx context.Context, server string) Status {
	start := m.now()
	s, err := m.opener.Open(ctx, server)
	st := Status{
		Server:    server,
		Latency:   m.now().Sub(start),
		CheckedAt: start,
	}

	switch {
	case err == nil:
		st.State = StateHealthy
		m.opener.Close(ctx, server, s)
	case errors.Is(err, protocol.ErrAuthenticationFailed):
		st.State = StateAuthFailed
		st.Error = err.Error()
	default:
		st.State = StateUnreachable
		st.Error = err.Error()
	}

	m.mu.Lock()
	prev, seen := m.statuses[server]
	m.statuses[server] = st
	m.mu.Unlock()

	if seen && prev.State != StateUnknown && prev.State != st.State {
		m.logger.Warn().
			Str("server", server).
			Str("from", string(prev.State)).
			Str("to", string(st.State)).
			Msg("server health changed")
	} else {
		m.logger.Debug().Str("server", server).Str("state", string(st.State)).Dur("latency", st.Latency).Msg("health check")
	}
	return st
}

// Snapshot returns the latest status of every known server sorted by name.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}
