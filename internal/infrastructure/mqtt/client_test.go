package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thaeryn/httpgateway/internal/infrastructure/config"
)

// testConfig targets a local Mosquitto broker. Broker tests skip when
// nothing is listening.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "httpgateway-test",
		},
		QoS:         1,
		TopicPrefix: "httpgateway-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connectOrSkip(t *testing.T, cfg config.MQTTConfig) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("no MQTT broker at %s:%d: %v", cfg.Broker.Host, cfg.Broker.Port, err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

// offlineClient is a Client that was never connected.
func offlineClient() *Client {
	return &Client{
		cfg:           testConfig(),
		topics:        Topics{Prefix: "httpgateway-test"},
		subscriptions: make(map[string]subscription),
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ pahomqtt.Message = fakeMessage{}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "game"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"snapshot", topics.HostSnapshot(), "game/host/snapshot"},
		{"log", topics.HostLog("Warning"), "game/host/log/Warning"},
		{"all logs", topics.AllHostLogs(), "game/host/log/+"},
		{"code command", topics.HostCodeCommand(), "game/host/command/code"},
		{"message", topics.HostMessage("abc123"), "game/host/message/abc123"},
		{"console", topics.HostConsole(), "game/host/console"},
		{"status", topics.GatewayStatus(), "game/gateway/status"},
		{"default prefix", Topics{}.HostConsole(), "httpgateway/host/console"},
		{"trailing slash", Topics{Prefix: "game/"}.HostConsole(), "game/host/console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestIsTopicLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"76561198000000001", true},
		{"player.one", true},
		{"", false},
		{"a/b", false},
		{"+", false},
		{"#", false},
		{"nul\x00", false},
	}

	for _, tt := range tests {
		if got := IsTopicLevel(tt.level); got != tt.want {
			t.Errorf("IsTopicLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestTopics_LogLevelFromTopic(t *testing.T) {
	topics := Topics{Prefix: "game"}

	tests := []struct {
		topic  string
		want   string
		wantOk bool
	}{
		{"game/host/log/Warning", "Warning", true},
		{"game/host/log/", "", false},
		{"game/host/log/a/b", "", false},
		{"other/host/log/Warning", "", false},
		{"game/host/snapshot", "", false},
	}

	for _, tt := range tests {
		got, ok := topics.LogLevelFromTopic(tt.topic)
		if got != tt.want || ok != tt.wantOk {
			t.Errorf("LogLevelFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOk)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gw"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "httpgateway-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "gw" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, Topics{Prefix: "game"}, "gw-1")

	if !opts.WillEnabled || opts.WillTopic != "game/gateway/status" || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var payload statusPayload
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload.Status != "offline" || payload.ClientID != "gw-1" || payload.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", payload)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := offlineClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := offlineClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/b", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("offline subscribe error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_Offline(t *testing.T) {
	c := offlineClient()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestWrapHandler(t *testing.T) {
	c := offlineClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})
	ok(nil, fakeMessage{topic: "a/b", payload: []byte("hi")})
	if got != "a/b=hi" {
		t.Errorf("handler saw %q", got)
	}

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	failing(nil, fakeMessage{topic: "a/b"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("boom") })
	panicking(nil, fakeMessage{topic: "a/b"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", logger.warns)
	}
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v, want one recovered panic", logger.errors)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := Connect(ctx, cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "httpgateway-test-roundtrip"
	client := connectOrSkip(t, cfg)

	received := make(chan string, 1)
	topic := client.Topics().HostLog("Chat")
	err := client.Subscribe(client.Topics().AllHostLogs(), 1, func(topic string, payload []byte) error {
		level, _ := client.Topics().LogLevelFromTopic(topic)
		received <- level + ":" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(client.Topics().AllHostLogs()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishString(topic, "hello"); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "Chat:hello" {
			t.Errorf("received %q, want %q", got, "Chat:hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(client.Topics().AllHostLogs()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
