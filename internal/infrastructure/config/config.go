package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for knxfleet.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	SendBuffer     int `yaml:"send_buffer"`
}

// GatewayConfig contains settings shared by all room gateway connections.
type GatewayConfig struct {
	// DialAttempts is the maximum number of connection attempts before a
	// room initialisation is reported as failed.
	DialAttempts int `yaml:"dial_attempts"`

	// DialBaseDelay is the initial delay between attempts in milliseconds.
	// The delay doubles after each failed attempt.
	DialBaseDelay int `yaml:"dial_base_delay"`

	// ConnectTimeout is the per-attempt connection timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReadTimeout is the socket read timeout in seconds.
	ReadTimeout int `yaml:"read_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StoreConfig contains SQLite configuration-snapshot store settings.
type StoreConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains the shared transport credential settings.
type SecurityConfig struct {
	// APIToken is the shared credential checked at the transport boundary.
	// Required; set KNXFLEET_API_TOKEN in production.
	APIToken string `yaml:"api_token"`

	// TicketTTL is the WebSocket ticket lifetime in seconds.
	TicketTTL int `yaml:"ticket_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is: defaults, then YAML file values, then environment
// variables (pattern: KNXFLEET_SECTION_KEY, e.g. KNXFLEET_API_TOKEN).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		Gateway: GatewayConfig{
			DialAttempts:   3,
			DialBaseDelay:  500,
			ConnectTimeout: 10,
			ReadTimeout:    30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxfleet",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Store: StoreConfig{
			Path:        "./data/knxfleet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			TicketTTL: 60,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNXFLEET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KNXFLEET_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KNXFLEET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KNXFLEET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KNXFLEET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("KNXFLEET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("KNXFLEET_API_TOKEN"); v != "" {
		cfg.Security.APIToken = v
	}
}

// minAPITokenLength guards against trivially guessable shared credentials.
const minAPITokenLength = 16

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if c.Gateway.DialAttempts < 1 {
		errs = append(errs, "gateway.dial_attempts must be at least 1")
	}

	// The API token gates every subscriber channel; an empty or short token
	// would expose live building state to anyone on the network.
	if c.Security.APIToken == "" {
		errs = append(errs, "security.api_token is required (set KNXFLEET_API_TOKEN environment variable)")
	} else if len(c.Security.APIToken) < minAPITokenLength {
		errs = append(errs, fmt.Sprintf("security.api_token must be at least %d characters", minAPITokenLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetDialBaseDelay returns the gateway dial base delay as a Duration.
func (g GatewayConfig) GetDialBaseDelay() time.Duration {
	return time.Duration(g.DialBaseDelay) * time.Millisecond
}

// GetConnectTimeout returns the per-attempt connect timeout as a Duration.
func (g GatewayConfig) GetConnectTimeout() time.Duration {
	return time.Duration(g.ConnectTimeout) * time.Second
}

// GetReadTimeout returns the gateway read timeout as a Duration.
func (g GatewayConfig) GetReadTimeout() time.Duration {
	return time.Duration(g.ReadTimeout) * time.Second
}

// GetTicketTTL returns the WebSocket ticket lifetime as a Duration.
func (s SecurityConfig) GetTicketTTL() time.Duration {
	return time.Duration(s.TicketTTL) * time.Second
}
