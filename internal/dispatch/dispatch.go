// Package dispatch runs commands against configured server profiles. It
// owns the open-authenticate-execute-close sequence for one-shot commands
// and publishes every outcome on the event bus.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/session"
	"github.com/energizer-project/rconsole/internal/util"
)

// RunOptions overrides profile defaults for one command. Nil fields fall
// back to the profile.
type RunOptions struct {
	Segmented        *bool
	PreSentinelDelay *time.Duration
	Trigger          events.Trigger
}

// Result is the outcome of a successful command.
type Result struct {
	Server   string                   `json:"server"`
	Command  string                   `json:"command"`
	Response protocol.CommandResponse `json:"response"`
	Duration time.Duration            `json:"duration"`
}

// Dispatcher resolves server profiles and drives sessions.
type Dispatcher struct {
	cfg    *config.Config
	bus    *events.EventBus
	dial   session.Dialer
	logger zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDialer overrides how sessions open their channel.
func WithDialer(d session.Dialer) Option {
	return func(ds *Dispatcher) { ds.dial = d }
}

// New creates a Dispatcher. bus may be nil.
func New(cfg *config.Config, bus *events.EventBus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		bus:    bus,
		dial:   session.DialTCP,
		logger: util.ComponentLogger("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open returns an authenticated session for the named server. The caller
// must pass it to Close when done.
func (d *Dispatcher) Open(ctx context.Context, server string) (*session.Session, error) {
	profile, err := d.cfg.Server(server)
	if err != nil {
		return nil, err
	}

	s := session.New(profile.Host, profile.Port, profile.ResolvedPassword(),
		session.WithTimeout(profile.Timeout()),
		session.WithDialer(d.dial),
		session.WithLogger(d.logger.With().Str("server", server).Logger()),
	)

	_, err = s.Authenticate(ctx, session.AuthOptions{IgnoreLeadingEmptyPacket: profile.SkipLeadingPacket()})
	if err != nil {
		s.EndSession()
		if errors.Is(err, protocol.ErrAuthenticationFailed) {
			d.emit(ctx, events.EventAuthFailed, events.AuthFailedPayload{
				Server:  server,
				Address: profile.Address(),
				Reason:  err.Error(),
			})
		}
		return nil, fmt.Errorf("open %s: %w", server, err)
	}

	d.emit(ctx, events.EventSessionOpened, events.SessionPayload{Server: server, Address: profile.Address()})
	return s, nil
}

// Close ends a session obtained from Open.
func (d *Dispatcher) Close(ctx context.Context, server string, s *session.Session) error {
	err := s.EndSession()
	addr := ""
	if profile, perr := d.cfg.Server(server); perr == nil {
		addr = profile.Address()
	}
	d.emit(ctx, events.EventSessionClosed, events.SessionPayload{Server: server, Address: addr})
	return err
}

// Execute runs command on an already open session and publishes the
// outcome.
func (d *Dispatcher) Execute(ctx context.Context, s *session.Session, server, command string, opts RunOptions) (Result, error) {
	profile, err := d.cfg.Server(server)
	if err != nil {
		return Result{}, err
	}
	execOpts := resolve(profile, opts)

	start := time.Now()
	resp, err := s.Execute(command, execOpts)
	elapsed := time.Since(start)

	payload := events.CommandExecutedPayload{
		Server:     server,
		Command:    command,
		Trigger:    opts.Trigger,
		Segmented:  execOpts.ExpectSegmentedResponse,
		ResponseID: resp.ID,
		Response:   resp.Body,
		Duration:   elapsed,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	d.emit(ctx, events.EventCommandExecuted, payload)

	if err != nil {
		d.logger.Warn().Err(err).Str("server", server).Msg("command failed")
		return Result{}, err
	}

	d.logger.Debug().
		Str("server", server).
		Int32("id", resp.ID).
		Dur("took", elapsed).
		Msg("command executed")

	return Result{Server: server, Command: command, Response: resp, Duration: elapsed}, nil
}

// Run opens a session, executes one command and closes the session.
func (d *Dispatcher) Run(ctx context.Context, server, command string, opts RunOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s, err := d.Open(ctx, server)
	if err != nil {
		return Result{}, err
	}
	defer d.Close(ctx, server, s)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return d.Execute(ctx, s, server, command, opts)
}

// Servers returns the configured profile names.
func (d *Dispatcher) Servers() []string {
	return d.cfg.ServerNames()
}

func resolve(profile config.ServerProfile, opts RunOptions) session.ExecOptions {
	out := session.ExecOptions{
		ExpectSegmentedResponse: profile.Segmented,
		PreSentinelDelay:        profile.PreSentinelDelay(),
	}
	if opts.Segmented != nil {
		out.ExpectSegmentedResponse = *opts.Segmented
	}
	if opts.PreSentinelDelay != nil {
		out.PreSentinelDelay = *opts.PreSentinelDelay
	}
	return out
}

func (d *Dispatcher) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Emit(ctx, events.Event{Type: t, Source: "dispatch", Payload: payload})
}
