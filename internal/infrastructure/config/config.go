package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HTTP gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Host      HostConfig      `yaml:"host"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig contains HTTP listener and local state settings.
type GatewayConfig struct {
	Host string `yaml:"host"`

	// DefaultPort is used when the port file is missing or invalid.
	DefaultPort int `yaml:"default_port"`

	// PortFile holds the listening port as a decimal string.
	PortFile string `yaml:"port_file"`

	// SecretFile holds the hex-encoded 32-byte signing secret.
	SecretFile string `yaml:"secret_file"`

	// StaticDir is served at / for the client UI. Empty uses the embedded page.
	StaticDir string `yaml:"static_dir"`

	Timeouts GatewayTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig           `yaml:"cors"`
}

// GatewayTimeoutConfig contains HTTP timeout settings in seconds.
type GatewayTimeoutConfig struct {
	Read     int `yaml:"read"`
	Write    int `yaml:"write"`
	Idle     int `yaml:"idle"`
	Shutdown int `yaml:"shutdown"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket session settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	SendBuffer     int `yaml:"send_buffer"`
	EventQueue     int `yaml:"event_queue"`
}

// SecurityConfig contains token, enrollment code and throttling settings.
type SecurityConfig struct {
	Token     TokenConfig     `yaml:"token"`
	Codes     CodeConfig      `yaml:"codes"`
	Bootstrap IdentityConfig  `yaml:"bootstrap"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AdminRoles lists role IDs allowed to mint codes and read the audit trail.
	AdminRoles []string `yaml:"admin_roles"`
}

// TokenConfig contains bearer token claims settings.
type TokenConfig struct {
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
	ValidityDays int    `yaml:"validity_days"`
}

// CodeConfig controls enrollment code lifetime.
type CodeConfig struct {
	// SingleUse deletes a code once it has been redeemed.
	SingleUse bool `yaml:"single_use"`

	// TTL expires unredeemed codes. Zero keeps them until restart.
	TTL time.Duration `yaml:"ttl"`
}

// IdentityConfig describes the identity seeded at startup.
type IdentityConfig struct {
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`
	RoleID   string `yaml:"role_id"`
}

// RateLimitConfig contains login throttling settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Host adapter modes.
const (
	HostModeLocal   = "local"
	HostModeProcess = "process"
	HostModeMQTT    = "mqtt"
)

// HostConfig selects and configures the Host Adapter.
type HostConfig struct {
	Mode string `yaml:"mode"`

	// EventThreshold is the lowest host log level forwarded to WebSocket sessions.
	EventThreshold string `yaml:"event_threshold"`

	Process ProcessConfig `yaml:"process"`
}

// ProcessConfig describes a supervised host server binary.
type ProcessConfig struct {
	Name                string   `yaml:"name"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	WorkDir             string   `yaml:"work_dir"`
	RestartOnFailure    bool     `yaml:"restart_on_failure"`
	RestartDelaySeconds int      `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int      `yaml:"max_restart_attempts"`
	RecentLines         int      `yaml:"recent_lines"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite audit database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HTTPGATEWAY_SECTION_KEY
// For example: HTTPGATEWAY_GATEWAY_HOST, HTTPGATEWAY_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			DefaultPort: 4200,
			PortFile:    "httpgateway.port",
			SecretFile:  "httpgateway.conf",
			Timeouts: GatewayTimeoutConfig{
				Read:     30,
				Write:    30,
				Idle:     60,
				Shutdown: 10,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
			EventQueue:     1024,
		},
		Security: SecurityConfig{
			Token: TokenConfig{
				Issuer:       "http://localhost",
				Audience:     "http://localhost",
				ValidityDays: 365,
			},
			Codes: CodeConfig{
				SingleUse: true,
			},
			Bootstrap: IdentityConfig{
				UserID:   "admin",
				UserName: "Administrator",
				RoleID:   "admin",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 10,
				Burst:             5,
			},
			AdminRoles: []string{"admin"},
		},
		Host: HostConfig{
			Mode:           HostModeLocal,
			EventThreshold: "Debug",
			Process: ProcessConfig{
				Name:                "host",
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
				RecentLines:         100,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "httpgateway",
			},
			QoS:         1,
			TopicPrefix: "httpgateway",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/httpgateway.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTPGATEWAY_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("HTTPGATEWAY_SECRET_FILE"); v != "" {
		cfg.Gateway.SecretFile = v
	}
	if v := os.Getenv("HTTPGATEWAY_PORT_FILE"); v != "" {
		cfg.Gateway.PortFile = v
	}
	if v := os.Getenv("HTTPGATEWAY_STATIC_DIR"); v != "" {
		cfg.Gateway.StaticDir = v
	}

	if v := os.Getenv("HTTPGATEWAY_HOST_MODE"); v != "" {
		cfg.Host.Mode = v
	}

	if v := os.Getenv("HTTPGATEWAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HTTPGATEWAY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HTTPGATEWAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HTTPGATEWAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HTTPGATEWAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HTTPGATEWAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HTTPGATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Gateway.DefaultPort < 0 || c.Gateway.DefaultPort > 65535 {
		errs = append(errs, "gateway.default_port must be between 0 and 65535")
	}
	if c.Gateway.PortFile == "" {
		errs = append(errs, "gateway.port_file is required")
	}
	if c.Gateway.SecretFile == "" {
		errs = append(errs, "gateway.secret_file is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, "websocket.ping_interval must be positive")
	}
	if c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.pong_timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}

	if c.Security.Token.Issuer == "" {
		errs = append(errs, "security.token.issuer is required")
	}
	if c.Security.Token.Audience == "" {
		errs = append(errs, "security.token.audience is required")
	}
	if c.Security.Token.ValidityDays <= 0 {
		errs = append(errs, "security.token.validity_days must be positive")
	}
	if c.Security.Codes.TTL < 0 {
		errs = append(errs, "security.codes.ttl cannot be negative")
	}
	if c.Security.Bootstrap.UserID == "" {
		errs = append(errs, "security.bootstrap.user_id is required")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	switch c.Host.Mode {
	case HostModeLocal, HostModeMQTT:
	case HostModeProcess:
		if c.Host.Process.Binary == "" {
			errs = append(errs, "host.process.binary is required in process mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("host.mode must be one of local, process, mqtt (got %q)", c.Host.Mode))
	}

	if c.Host.Mode == HostModeMQTT {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required in mqtt mode")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required in mqtt mode")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the audit database is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Idle) * time.Second
}

// GetShutdownGrace returns the bounded shutdown grace period.
func (c *Config) GetShutdownGrace() time.Duration {
	return time.Duration(c.Gateway.Timeouts.Shutdown) * time.Second
}
