package health

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/rcontest"
)

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	n, _ := strconv.Atoi(port)
	return n
}

func newManager(t *testing.T, profiles map[string]config.ServerProfile, interval time.Duration) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Servers = profiles

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	return NewManager(dispatch.New(cfg, bus), interval)
}

func TestCheckAll(t *testing.T) {
	srv := rcontest.NewServer("secret")
	defer srv.Close()

	m := newManager(t, map[string]config.ServerProfile{
		"good":  {Host: srv.Host(), Port: srv.Port(), Password: "secret", TimeoutMS: 2000},
		"wrong": {Host: srv.Host(), Port: srv.Port(), Password: "nope", TimeoutMS: 2000},
		"down":  {Host: "127.0.0.1", Port: closedPort(t), TimeoutMS: 500},
	}, 0)

	for _, st := range m.Snapshot() {
		if st.State != StateUnknown {
			t.Fatalf("%s starts as %s, want unknown", st.Server, st.State)
		}
	}

	got := m.CheckAll(context.Background())
	want := map[string]State{
		"down":  StateUnreachable,
		"good":  StateHealthy,
		"wrong": StateAuthFailed,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d statuses, want %d", len(got), len(want))
	}
	for _, st := range got {
		if st.State != want[st.Server] {
			t.Fatalf("%s = %s, want %s (%s)", st.Server, st.State, want[st.Server], st.Error)
		}
		if st.CheckedAt.IsZero() {
			t.Fatalf("%s has no check time", st.Server)
		}
		if st.State == StateHealthy && st.Error != "" {
			t.Fatalf("healthy status carries error %q", st.Error)
		}
	}

	snap := m.Snapshot()
	if snap[0].Server != "down" || snap[1].Server != "good" || snap[2].Server != "wrong" {
		t.Fatalf("snapshot not sorted: %+v", snap)
	}
	if len(srv.Commands()) != 0 {
		t.Fatalf("probes must not run commands, server saw %v", srv.Commands())
	}
}

func TestStartDisabled(t *testing.T) {
	m := newManager(t, map[string]config.ServerProfile{
		"local": {Host: "127.0.0.1", Port: closedPort(t), TimeoutMS: 100},
	}, 0)

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start with a zero interval should return immediately")
	}
	if st := m.Snapshot()[0]; st.State != StateUnknown {
		t.Fatalf("disabled manager probed: %+v", st)
	}
}

func TestStartProbesUntilCancelled(t *testing.T) {
	srv := rcontest.NewServer("secret")
	defer srv.Close()

	m := newManager(t, map[string]config.ServerProfile{
		"good": {Host: srv.Host(), Port: srv.Port(), Password: "secret", TimeoutMS: 2000},
	}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Accepted() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if srv.Accepted() < 2 {
		t.Fatalf("expected repeated probes, server accepted %d", srv.Accepted())
	}
	if st := m.Snapshot()[0]; st.State != StateHealthy {
		t.Fatalf("state = %s", st.State)
	}
}
