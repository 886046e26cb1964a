package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
	"github.com/thaeryn/httpgateway/internal/infrastructure/mqtt"
)

// CodeReplyPrefix starts the private reply carrying a new enrollment code.
const CodeReplyPrefix = "Your code: "

// MQTTClient is the subset of *mqtt.Client used by the MQTT adapter.
type MQTTClient interface {
	Topics() mqtt.Topics
	QoS() byte
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishString(topic, payload string) error
}

// CodeIssuer mints an enrollment code for an identity.
type CodeIssuer interface {
	IssueCode(ctx context.Context, identity auth.Identity, source string) (string, error)
}

// MQTT reaches a host that publishes its state and log over a broker.
//
// Snapshots arrive retained on host/snapshot, log lines on host/log/<Level>
// and code requests on host/command/code. Replies and announcements are
// published back to the host.
type MQTT struct {
	client MQTTClient
	topics mqtt.Topics
	logger Logger

	mu       sync.RWMutex
	issuer   CodeIssuer
	sink     Sink
	ctx      context.Context
	snapshot json.RawMessage
	started  bool
}

// NewMQTT creates an adapter on a connected client. A nil logger
// discards output.
func NewMQTT(client MQTTClient, logger Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{
		client: client,
		topics: client.Topics(),
		logger: logger,
	}
}

// SetCodeIssuer enables the host/command/code topic.
func (m *MQTT) SetCodeIssuer(issuer CodeIssuer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuer = issuer
}

// Name returns "mqtt".
func (m *MQTT) Name() string { return "mqtt" }

// Start subscribes to the host topics.
func (m *MQTT) Start(ctx context.Context, sink Sink) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.sink = sink
	m.ctx = ctx
	m.mu.Unlock()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{m.topics.HostSnapshot(), m.handleSnapshot},
		{m.topics.AllHostLogs(), m.handleLog},
		{m.topics.HostCodeCommand(), m.handleCodeCommand},
	}
	for _, s := range subs {
		if err := m.client.Subscribe(s.topic, m.client.QoS(), s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}
	return nil
}

func (m *MQTT) handleSnapshot(_ string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("host snapshot is not valid JSON (%d bytes)", len(payload))
	}
	snap := append(json.RawMessage(nil), payload...)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
	return nil
}

func (m *MQTT) handleLog(topic string, payload []byte) error {
	level, ok := m.topics.LogLevelFromTopic(topic)
	if !ok {
		return nil
	}
	if name, known := Canonical(level); known {
		level = name
	}

	m.mu.RLock()
	sink, ctx := m.sink, m.ctx
	m.mu.RUnlock()
	if sink == nil {
		return nil
	}
	return sink.Publish(ctx, Event{Level: level, Message: string(payload)})
}

func (m *MQTT) handleCodeCommand(_ string, payload []byte) error {
	var identity auth.Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return fmt.Errorf("decoding code command: %w", err)
	}
	if identity.UserID == "" {
		return errors.New("code command without user_id")
	}
	if !mqtt.IsTopicLevel(identity.UserID) {
		return fmt.Errorf("code command user_id %q is not a valid topic level", identity.UserID)
	}

	m.mu.RLock()
	issuer, ctx := m.issuer, m.ctx
	m.mu.RUnlock()
	if issuer == nil {
		m.logger.Warn("code command ignored, no issuer configured", "user_id", identity.UserID)
		return nil
	}

	code, err := issuer.IssueCode(ctx, identity, audit.SourceMQTT)
	if err != nil {
		return fmt.Errorf("issuing code for %s: %w", identity.UserID, err)
	}
	return m.client.PublishString(m.topics.HostMessage(identity.UserID), CodeReplyPrefix+code)
}

// Snapshot returns the last retained host snapshot as raw JSON.
func (m *MQTT) Snapshot(_ context.Context) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return m.snapshot, nil
}

// Announce publishes msg to the host console topic.
func (m *MQTT) Announce(_ context.Context, msg string) error {
	return m.client.PublishString(m.topics.HostConsole(), msg)
}

// Close unsubscribes from the host topics. The client itself is owned by
// the caller.
func (m *MQTT) Close() error {
	m.mu.Lock()
	wasStarted := m.started
	m.started = false
	m.sink = nil
	m.mu.Unlock()

	if !wasStarted {
		return nil
	}
	return errors.Join(
		m.client.Unsubscribe(m.topics.HostSnapshot()),
		m.client.Unsubscribe(m.topics.AllHostLogs()),
		m.client.Unsubscribe(m.topics.HostCodeCommand()),
	)
}
