package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
)

type call struct {
	server  string
	command string
	opts    dispatch.RunOptions
}

type countingRunner struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (r *countingRunner) Run(ctx context.Context, server, command string, opts dispatch.RunOptions) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{server, command, opts})
	if r.fail {
		return dispatch.Result{}, errors.New("connection refused")
	}
	return dispatch.Result{Server: server, Command: command}, nil
}

func (r *countingRunner) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call, len(r.calls))
	copy(out, r.calls)
	return out
}

func runFor(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d + 5*time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestSchedulesRunPeriodically(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "save", Server: "mc", Command: "save-all", IntervalSec: 1, Segmented: true},
	}, runner)

	runFor(t, s, 2500*time.Millisecond)

	calls := runner.snapshot()
	if len(calls) < 2 {
		t.Fatalf("got %d runs, want at least 2", len(calls))
	}
	c := calls[0]
	if c.server != "mc" || c.command != "save-all" {
		t.Fatalf("unexpected call %+v", c)
	}
	if c.opts.Trigger != events.TriggerScheduler || c.opts.Segmented == nil || !*c.opts.Segmented {
		t.Fatalf("unexpected options %+v", c.opts)
	}
}

func TestFailuresDoNotStopTheLoop(t *testing.T) {
	runner := &countingRunner{fail: true}
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "status", Server: "down", Command: "status", IntervalSec: 1},
	}, runner)

	runFor(t, s, 2500*time.Millisecond)

	if n := len(runner.snapshot()); n < 2 {
		t.Fatalf("got %d runs, want at least 2", n)
	}
}

func TestZeroIntervalIsSkipped(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler([]config.ScheduleConfig{{Name: "bad", Server: "mc", Command: "list"}}, runner)

	runFor(t, s, 100*time.Millisecond)

	if n := len(runner.snapshot()); n != 0 {
		t.Fatalf("got %d runs, want 0", n)
	}
}
