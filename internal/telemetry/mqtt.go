// Package telemetry publishes session and command events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicCommand = "command"
	TopicSession = "session"
	TopicAdmin   = "admin"
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

// publisher is the part of mqtt.Client the handler uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	client   mqtt.Client
	pub      publisher
	metadata map[string]string
	logger   zerolog.Logger
}

// NewMQTTHandler creates a handler from configuration. The broker is not
// contacted until Start.
func NewMQTTHandler(cfg config.MQTTConfig) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		metadata: sysInfo.Metadata(),
		logger:   util.ComponentLogger("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconsole-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.pub = h.client
	return h, nil
}

func brokerURL(cfg config.MQTTConfig) string {
	if strings.Contains(cfg.BrokerURL, "://") {
		return cfg.BrokerURL
	}
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

// Topic joins the configured prefix and suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	prefix := strings.TrimSuffix(h.cfg.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// Start connects to the broker, subscribes to bus events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context, bus *events.EventBus) error {
	h.logger.Info().Str("broker", brokerURL(h.cfg)).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe(bus)

	<-ctx.Done()

	h.publish(h.Topic(TopicAdmin), map[string]string{"event": "shutdown"})
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the handler on bus.
func (h *MQTTHandler) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandExecuted, "mqtt.command", h.onCommand)
	bus.Subscribe(events.EventSessionOpened, "mqtt.session", h.onSession)
	bus.Subscribe(events.EventSessionClosed, "mqtt.session", h.onSession)
	bus.Subscribe(events.EventAuthFailed, "mqtt.session", h.onSession)
}

func (h *MQTTHandler) onCommand(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.CommandExecutedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	h.publish(h.Topic(TopicCommand), map[string]interface{}{
		"server":      p.Server,
		"command":     p.Command,
		"trigger":     p.Trigger,
		"response_id": p.ResponseID,
		"bytes":       len(p.Response),
		"error":       p.Error,
		"duration_ms": p.Duration.Milliseconds(),
	})
	return nil
}

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	h.publish(h.Topic(TopicSession), map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// publish sends a JSON message at QoS 1. Messages are dropped while the
// client is disconnected.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.pub.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage wraps payload with host metadata and a timestamp.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
