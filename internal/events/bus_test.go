package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	got := make(chan Event, 2)
	for _, name := range []string{"history", "telemetry"} {
		bus.Subscribe(EventCommandExecuted, name, func(ctx context.Context, e Event) error {
			calls.Add(1)
			got <- e
			return nil
		})
	}

	bus.Emit(context.Background(), Event{
		Type:    EventCommandExecuted,
		Source:  "test",
		Payload: CommandExecutedPayload{Server: "local", Command: "status"},
	})
	bus.Stop()

	if calls.Load() != 2 {
		t.Fatalf("handlers called %d times, want 2", calls.Load())
	}
	e := <-got
	if e.Time.IsZero() {
		t.Fatal("Emit should stamp the event time")
	}
	if p := e.Payload.(CommandExecutedPayload); p.Command != "status" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventAuthFailed, "failing", func(ctx context.Context, e Event) error { return boom })

	if err := bus.EmitSync(context.Background(), Event{Type: EventAuthFailed}); !errors.Is(err, boom) {
		t.Fatalf("EmitSync = %v, want boom", err)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventSessionOpened, "panics", func(ctx context.Context, e Event) error { panic("bad handler") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventSessionOpened}); err != nil {
		t.Fatalf("EmitSync = %v", err)
	}
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	h := func(ctx context.Context, e Event) error { calls.Add(1); return nil }

	bus.Subscribe(EventSessionClosed, "a", h)
	bus.Subscribe(EventSessionClosed, "b", h)
	bus.Unsubscribe(EventSessionClosed, "a")
	if n := bus.HandlerCount(EventSessionClosed); n != 1 {
		t.Fatalf("HandlerCount = %d, want 1", n)
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("StopCh should be closed")
	}

	bus.Emit(context.Background(), Event{Type: EventSessionClosed})
	if calls.Load() != 0 {
		t.Fatal("no handler should run after Stop")
	}
}

func TestCommandExecutedPayloadFailed(t *testing.T) {
	if (CommandExecutedPayload{}).Failed() {
		t.Fatal("empty error should not be a failure")
	}
	if !(CommandExecutedPayload{Error: "rcon: timed out"}).Failed() {
		t.Fatal("non-empty error should be a failure")
	}
}
