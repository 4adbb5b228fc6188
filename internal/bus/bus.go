// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus wraps the MQTT transport. It owns the broker connection,
// auto-resubscribes on reconnect and normalises inbound payloads to decoded
// JSON values (raw string fallback). Publish and subscribe failures are
// logged and counted; they never propagate past the caller's log line.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/roomware/stagehand/internal/log"
	"github.com/roomware/stagehand/internal/metrics"
)

// Handler receives one decoded inbound message.
type Handler func(topic string, value any)

// Bus is the engine-facing transport surface. The MQTT client implements it;
// tests substitute a recorder.
type Bus interface {
	Publish(topic string, payload any) error
	PublishRetained(topic string, payload any) error
	Subscribe(topic string, h Handler) error
}

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// newPahoClient is swappable so tests can inject a fake paho client.
var newPahoClient = mqtt.NewClient

// Client is the MQTT-backed Bus implementation.
type Client struct {
	logger zerolog.Logger
	cli    mqtt.Client

	mu   sync.Mutex
	subs map[string]Handler
}

// New builds a client for the given broker. Connect must be called before
// publishes reach the wire.
func New(opts Options) *Client {
	c := &Client{
		logger: log.WithComponent("bus"),
		subs:   make(map[string]Handler),
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	po := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn().
				Err(err).
				Str("event", "bus.connection_lost").
				Msg("broker connection lost, auto-reconnect engaged")
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.cli = newPahoClient(po)
	return c
}

// Connect establishes the broker session, honouring ctx for cancellation.
func (c *Client) Connect(ctx context.Context) error {
	tok := c.cli.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	c.logger.Info().Str("event", "bus.connected").Msg("broker connection established")
	return nil
}

// Disconnect closes the session after letting in-flight work quiesce.
func (c *Client) Disconnect() {
	c.cli.Disconnect(250)
	c.logger.Info().Str("event", "bus.disconnected").Msg("broker connection closed")
}

// onConnect re-subscribes every previously registered topic. Runs on the
// initial connect and on every reconnect.
func (c *Client) onConnect(cli mqtt.Client) {
	c.mu.Lock()
	topics := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		topics[t] = h
	}
	c.mu.Unlock()

	if len(topics) > 0 {
		metrics.BusReconnectsTotal.Inc()
	}
	for topic, h := range topics {
		if tok := cli.Subscribe(topic, 0, c.wrap(h)); tok.Wait() && tok.Error() != nil {
			c.logger.Warn().
				Err(tok.Error()).
				Str("event", "bus.resubscribe_failed").
				Str(log.FieldTopic, topic).
				Msg("resubscribe after reconnect failed")
		}
	}
}

// Subscribe registers a handler for the topic. The registration survives
// reconnects. Failures are logged and returned as warnings, never panics.
func (c *Client) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	connected := c.cli.IsConnected()
	c.mu.Unlock()

	if !connected {
		// Deferred until onConnect fires.
		return nil
	}
	if tok := c.cli.Subscribe(topic, 0, c.wrap(h)); tok.Wait() && tok.Error() != nil {
		c.logger.Warn().
			Err(tok.Error()).
			Str("event", "bus.subscribe_failed").
			Str(log.FieldTopic, topic).
			Msg("subscribe failed")
		return fmt.Errorf("subscribe %s: %w", topic, tok.Error())
	}
	return nil
}

// wrap adapts a Handler to the paho callback signature, decoding JSON with a
// raw-string fallback.
func (c *Client) wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), Decode(msg.Payload()))
	}
}

// Decode parses a payload as JSON, falling back to the raw string on
// decode failure.
func Decode(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		metrics.IncInbound("raw")
		return string(payload)
	}
	metrics.IncInbound("json")
	return v
}

// Publish serialises and sends a payload. Strings and byte slices go out
// verbatim; everything else is JSON-encoded.
func (c *Client) Publish(topic string, payload any) error {
	return c.publish(topic, payload, false)
}

// PublishRetained is Publish with the retained flag set.
func (c *Client) PublishRetained(topic string, payload any) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload any, retained bool) error {
	wire, err := Encode(payload)
	if err != nil {
		metrics.IncPublish("error")
		c.logger.Warn().
			Err(err).
			Str("event", "bus.encode_failed").
			Str(log.FieldTopic, topic).
			Msg("payload serialisation failed")
		return err
	}
	if tok := c.cli.Publish(topic, 0, retained, wire); tok.Wait() && tok.Error() != nil {
		metrics.IncPublish("error")
		c.logger.Warn().
			Err(tok.Error()).
			Str("event", "bus.publish_failed").
			Str(log.FieldTopic, topic).
			Msg("publish failed")
		return fmt.Errorf("publish %s: %w", topic, tok.Error())
	}
	metrics.IncPublish("ok")
	return nil
}

// Encode turns a payload into its wire form.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		wire, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return wire, nil
	}
}
