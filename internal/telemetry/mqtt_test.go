package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	topic string
	qos   byte
	data  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []message
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, qos: qos, data: payload.([]byte)})
	return doneToken{}
}

func newTestHandler(t *testing.T, pub *fakePublisher) *MQTTHandler {
	t.Helper()
	h, err := NewMQTTHandler(config.MQTTConfig{
		Enabled:     true,
		BrokerURL:   "broker.example",
		Port:        8883,
		UseTLS:      true,
		TopicPrefix: "rconsole/",
	})
	if err != nil {
		t.Fatal(err)
	}
	h.pub = pub
	return h
}

func TestDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		cfg  config.MQTTConfig
		want string
	}{
		{config.MQTTConfig{BrokerURL: "broker", Port: 8883, UseTLS: true}, "ssl://broker:8883"},
		{config.MQTTConfig{BrokerURL: "broker", Port: 1883}, "tcp://broker:1883"},
		{config.MQTTConfig{BrokerURL: "ws://broker:9001/mqtt", Port: 1883}, "ws://broker:9001/mqtt"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.cfg); got != tt.want {
			t.Errorf("brokerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestCommandEventsArePublished(t *testing.T) {
	pub := &fakePublisher{connected: true}
	h := newTestHandler(t, pub)
	bus := events.NewEventBus()
	h.Subscribe(bus)

	bus.EmitSync(context.Background(), events.Event{
		Type: events.EventCommandExecuted,
		Payload: events.CommandExecutedPayload{
			Server:   "mc",
			Command:  "list",
			Response: "There are 0 of 10 players online:",
			Duration: 12 * time.Millisecond,
		},
	})
	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventAuthFailed,
		Payload: events.AuthFailedPayload{Server: "mc", Reason: "rejected"},
	})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}

	cmd := pub.messages[0]
	if cmd.topic != "rconsole/command" || cmd.qos != 1 {
		t.Fatalf("unexpected topic/qos %s/%d", cmd.topic, cmd.qos)
	}
	var msg struct {
		Payload struct {
			Server     string `json:"server"`
			Bytes      int    `json:"bytes"`
			DurationMS int64  `json:"duration_ms"`
		} `json:"payload"`
		Timestamp string `json:"timestamp"`
		Hostname  string `json:"hostname"`
	}
	if err := json.Unmarshal(cmd.data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Payload.Server != "mc" || msg.Payload.Bytes != 33 || msg.Payload.DurationMS != 12 || msg.Timestamp == "" {
		t.Fatalf("unexpected message %s", cmd.data)
	}

	if pub.messages[1].topic != "rconsole/session" {
		t.Fatalf("auth failure published to %s", pub.messages[1].topic)
	}
}

func TestNothingPublishedWhileDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(t, pub)
	h.publish(h.Topic(TopicAdmin), map[string]string{"event": "shutdown"})
	if len(pub.messages) != 0 {
		t.Fatal("disconnected client should not publish")
	}
}
