package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
	"github.com/energizer-project/rconsole/internal/rcontest"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() map[events.EventType]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[events.EventType]int)
	for _, e := range r.events {
		out[e.Type]++
	}
	return out
}

func setup(t *testing.T, srv *rcontest.Server, profile config.ServerProfile) (*Dispatcher, *events.EventBus, *recorder) {
	t.Helper()
	profile.Host = srv.Host()
	profile.Port = srv.Port()
	if profile.TimeoutMS == 0 {
		profile.TimeoutMS = 2000
	}

	cfg := config.DefaultConfig()
	cfg.Servers = map[string]config.ServerProfile{"test": profile}

	bus := events.NewEventBus()
	rec := &recorder{}
	for _, et := range []events.EventType{
		events.EventSessionOpened, events.EventSessionClosed,
		events.EventAuthFailed, events.EventCommandExecuted,
	} {
		bus.Subscribe(et, "recorder", rec.handle)
	}
	return New(cfg, bus), bus, rec
}

func TestRun(t *testing.T) {
	srv := rcontest.NewServer("secret")
	defer srv.Close()
	d, bus, rec := setup(t, srv, config.ServerProfile{Password: "secret"})

	res, err := d.Run(context.Background(), "test", "status", RunOptions{Trigger: events.TriggerCLI})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "ok: status" || res.Server != "test" {
		t.Fatalf("unexpected result %+v", res)
	}
	bus.Stop()

	got := rec.types()
	for _, et := range []events.EventType{events.EventSessionOpened, events.EventCommandExecuted, events.EventSessionClosed} {
		if got[et] != 1 {
			t.Fatalf("%s emitted %d times, want 1 (%v)", et, got[et], got)
		}
	}
}

func TestRunSegmentedFromProfile(t *testing.T) {
	srv := rcontest.NewServer("secret")
	srv.Handler = func(cmd string) []string { return []string{"There are ", "0 of 10 players online:"} }
	defer srv.Close()
	d, _, _ := setup(t, srv, config.ServerProfile{Password: "secret", Segmented: true})

	res, err := d.Run(context.Background(), "test", "list", RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "There are 0 of 10 players online:" {
		t.Fatalf("body = %q", res.Response.Body)
	}
}

func TestRunOptionsOverrideProfile(t *testing.T) {
	srv := rcontest.NewServer("secret")
	srv.Handler = func(cmd string) []string { return []string{"first", "second"} }
	defer srv.Close()
	d, _, _ := setup(t, srv, config.ServerProfile{Password: "secret", Segmented: true})

	off := false
	res, err := d.Run(context.Background(), "test", "list", RunOptions{Segmented: &off})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Body != "first" {
		t.Fatalf("body = %q, want only the first packet", res.Response.Body)
	}
}

func TestRunStrictServer(t *testing.T) {
	srv := rcontest.NewServer("secret")
	srv.LeadingPacket = false
	defer srv.Close()

	off := false
	d, _, _ := setup(t, srv, config.ServerProfile{Password: "secret", IgnoreLeadingPacket: &off})
	if _, err := d.Run(context.Background(), "test", "list", RunOptions{}); err != nil {
		t.Fatal(err)
	}
}

func TestRunWrongPassword(t *testing.T) {
	srv := rcontest.NewServer("secret")
	defer srv.Close()
	d, bus, rec := setup(t, srv, config.ServerProfile{Password: "wrong"})

	_, err := d.Run(context.Background(), "test", "status", RunOptions{})
	if !errors.Is(err, protocol.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	bus.Stop()

	got := rec.types()
	if got[events.EventAuthFailed] != 1 || got[events.EventCommandExecuted] != 0 {
		t.Fatalf("unexpected events %v", got)
	}
	if len(srv.Commands()) != 0 {
		t.Fatal("no command should reach the server")
	}
}

func TestRunPasswordFromEnv(t *testing.T) {
	t.Setenv("RCONSOLE_DISPATCH_PW", "secret")
	srv := rcontest.NewServer("secret")
	defer srv.Close()
	d, _, _ := setup(t, srv, config.ServerProfile{Password: "stale", PasswordEnv: "RCONSOLE_DISPATCH_PW"})

	if _, err := d.Run(context.Background(), "test", "status", RunOptions{}); err != nil {
		t.Fatal(err)
	}
}

func TestRunUnknownServer(t *testing.T) {
	d := New(config.DefaultConfig(), nil)
	if _, err := d.Run(context.Background(), "missing", "status", RunOptions{}); !errors.Is(err, config.ErrUnknownServer) {
		t.Fatalf("expected ErrUnknownServer, got %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	d := New(config.DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Run(ctx, "local", "status", RunOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenExecuteClose(t *testing.T) {
	srv := rcontest.NewServer("secret")
	defer srv.Close()
	d, _, _ := setup(t, srv, config.ServerProfile{Password: "secret"})
	ctx := context.Background()

	s, err := d.Open(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{"status", "users", "maps *"} {
		res, err := d.Execute(ctx, s, "test", cmd, RunOptions{Trigger: events.TriggerConsole})
		if err != nil {
			t.Fatal(err)
		}
		if res.Response.Body != "ok: "+cmd {
			t.Fatalf("body = %q", res.Response.Body)
		}
	}
	if err := d.Close(ctx, "test", s); err != nil {
		t.Fatal(err)
	}
	if srv.Accepted() != 1 {
		t.Fatalf("server accepted %d connections, want 1", srv.Accepted())
	}
	if cmds := srv.Commands(); len(cmds) != 3 {
		t.Fatalf("server saw %v", cmds)
	}
}

func TestExecuteFailureIsPublished(t *testing.T) {
	srv := rcontest.NewServer("secret")
	srv.Handler = func(cmd string) []string { return nil }
	defer srv.Close()
	d, bus, rec := setup(t, srv, config.ServerProfile{Password: "secret", TimeoutMS: 100})

	delay := time.Duration(0)
	_, err := d.Run(context.Background(), "test", "quiet", RunOptions{PreSentinelDelay: &delay})
	if !errors.Is(err, protocol.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	bus.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		if e.Type == events.EventCommandExecuted {
			if p := e.Payload.(events.CommandExecutedPayload); !p.Failed() {
				t.Fatalf("payload should carry the error: %+v", p)
			}
			return
		}
	}
	t.Fatal("no command_executed event")
}
