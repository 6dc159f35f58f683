package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix shared by every environment override.
const EnvPrefix = "ACTIONBRIDGE_"

// Config is the root configuration structure for the action bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Listener   ListenerConfig          `yaml:"listener"`
	Devices    map[string]DeviceConfig `yaml:"devices"`
	Tuya       TuyaConfig              `yaml:"tuya"`
	Dispatcher DispatcherConfig        `yaml:"dispatcher"`
	Database   DatabaseConfig          `yaml:"database"`
	InfluxDB   InfluxDBConfig          `yaml:"influxdb"`
	API        APIConfig               `yaml:"api"`
	WebSocket  WebSocketConfig         `yaml:"websocket"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// PublishOutcomes publishes each finished command to actionbridge/outcome/<device>.
	PublishOutcomes bool `yaml:"publish_outcomes"`
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

// ListenerConfig selects the sensor topic and the device its actions drive.
//
// Topic wins when set; otherwise the topic is TopicPrefix + "/" + SensorAddress,
// which matches the way zigbee2mqtt names devices (e.g. "zigbee2mqtt/0x00158d0001a2b3c4").
type ListenerConfig struct {
	Topic         string `yaml:"topic"`
	TopicPrefix   string `yaml:"topic_prefix"`
	SensorAddress string `yaml:"sensor_address"`
	QoS           int    `yaml:"qos"`
	Device        string `yaml:"device"`
}

// DeviceConfig is one entry in the static device registry.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Address  string `yaml:"address"`
	LocalKey string `yaml:"local_key"`
	Version  string `yaml:"version"`
	Port     int    `yaml:"port"`

	// Profile is the bulb data-point layout: "a" (DPS 1-4) or "b" (DPS 20-23).
	Profile string `yaml:"profile"`
}

// TuyaConfig contains defaults for the local device protocol client.
type TuyaConfig struct {
	Timeout        int    `yaml:"timeout"`
	DefaultPort    int    `yaml:"default_port"`
	DefaultVersion string `yaml:"default_version"`
}

// DispatcherConfig contains worker pool settings.
type DispatcherConfig struct {
	Workers    int           `yaml:"workers"`
	JobTimeout int           `yaml:"job_timeout"`
	Retry      RetryConfig   `yaml:"retry"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// RetryConfig controls re-attempts of a failed device command.
// MaxRetries of 0 means every job is attempted exactly once.
type RetryConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	InitialInterval int `yaml:"initial_interval_ms"`
	MaxInterval     int `yaml:"max_interval_ms"`
}

// BreakerConfig controls the per-device circuit breaker.
type BreakerConfig struct {
	Enabled             bool `yaml:"enabled"`
	ConsecutiveFailures int  `yaml:"consecutive_failures"`
	OpenSeconds         int  `yaml:"open_seconds"`
	IntervalSeconds     int  `yaml:"interval_seconds"`
}

// DatabaseConfig contains SQLite settings for the command log.
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the command outcome stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: ACTIONBRIDGE_SECTION_KEY
// For example: ACTIONBRIDGE_MQTT_HOST, ACTIONBRIDGE_LISTENER_TOPIC.
// Device local keys use ACTIONBRIDGE_DEVICE_<NAME>_LOCAL_KEY.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "actionbridge",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Listener: ListenerConfig{
			TopicPrefix: "zigbee2mqtt",
			QoS:         0,
			Device:      "bike_stand_floods",
		},
		Tuya: TuyaConfig{
			Timeout:        5,
			DefaultPort:    6668,
			DefaultVersion: "3.3",
		},
		Dispatcher: DispatcherConfig{
			Workers:    32,
			JobTimeout: 10,
			Retry: RetryConfig{
				MaxRetries:      0,
				InitialInterval: 500,
				MaxInterval:     5000,
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenSeconds:         30,
				IntervalSeconds:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/actionbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
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
	// MQTT
	if v := os.Getenv(EnvPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Listener
	if v := os.Getenv(EnvPrefix + "LISTENER_TOPIC"); v != "" {
		cfg.Listener.Topic = v
	}
	if v := os.Getenv(EnvPrefix + "LISTENER_DEVICE"); v != "" {
		cfg.Listener.Device = v
	}

	// Device keys are secrets and are usually kept out of the YAML file.
	for name, dev := range cfg.Devices {
		if v := os.Getenv(DeviceKeyEnv(name)); v != "" {
			dev.LocalKey = v
			cfg.Devices[name] = dev
		}
	}

	// Database
	if v := os.Getenv(EnvPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv(EnvPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv(EnvPrefix + "API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// DeviceKeyEnv returns the environment variable that overrides the local key
// of the named device, e.g. "bike_stand_floods" -> ACTIONBRIDGE_DEVICE_BIKE_STAND_FLOODS_LOCAL_KEY.
func DeviceKeyEnv(name string) string {
	upper := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return EnvPrefix + "DEVICE_" + upper + "_LOCAL_KEY"
}

// applyDeviceDefaults fills per-device fields left empty with the tuya defaults.
func (c *Config) applyDeviceDefaults() {
	for name, dev := range c.Devices {
		if dev.Version == "" {
			dev.Version = c.Tuya.DefaultVersion
		}
		if dev.Port == 0 {
			dev.Port = c.Tuya.DefaultPort
		}
		if dev.Profile == "" {
			dev.Profile = "b"
		}
		c.Devices[name] = dev
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Listener validation
	if c.ListenerTopic() == "" {
		errs = append(errs, "listener.topic or listener.sensor_address is required")
	} else if strings.ContainsAny(c.ListenerTopic(), "+#") {
		errs = append(errs, "listener.topic must not contain wildcards")
	}
	if c.Listener.QoS < 0 || c.Listener.QoS > 2 {
		errs = append(errs, "listener.qos must be 0, 1, or 2")
	}
	if c.Listener.Device == "" {
		errs = append(errs, "listener.device is required")
	}

	// Device registry validation, in name order so messages are stable.
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dev := c.Devices[name]
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices.%s.id is required", name))
		}
		if dev.Address == "" {
			errs = append(errs, fmt.Sprintf("devices.%s.address is required", name))
		}
		if dev.LocalKey == "" {
			errs = append(errs, fmt.Sprintf("devices.%s.local_key is required (set %s)", name, DeviceKeyEnv(name)))
		}
		if dev.Profile != "" && dev.Profile != "a" && dev.Profile != "b" {
			errs = append(errs, fmt.Sprintf("devices.%s.profile must be \"a\" or \"b\"", name))
		}
	}

	// Tuya validation
	if c.Tuya.Timeout < 1 {
		errs = append(errs, "tuya.timeout must be at least 1 second")
	}

	// Dispatcher validation
	if c.Dispatcher.Workers < 1 {
		errs = append(errs, "dispatcher.workers must be at least 1")
	}
	if c.Dispatcher.Retry.MaxRetries < 0 {
		errs = append(errs, "dispatcher.retry.max_retries must not be negative")
	}
	if c.Dispatcher.Breaker.Enabled && c.Dispatcher.Breaker.ConsecutiveFailures < 1 {
		errs = append(errs, "dispatcher.breaker.consecutive_failures must be at least 1")
	}

	// Optional sinks
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ListenerTopic returns the single topic the listener subscribes to.
func (c *Config) ListenerTopic() string {
	if c.Listener.Topic != "" {
		return c.Listener.Topic
	}
	if c.Listener.SensorAddress == "" {
		return ""
	}
	prefix := strings.TrimSuffix(c.Listener.TopicPrefix, "/")
	if prefix == "" {
		return c.Listener.SensorAddress
	}
	return prefix + "/" + c.Listener.SensorAddress
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

// GetTuyaTimeout returns the per-connection device timeout.
func (c *Config) GetTuyaTimeout() time.Duration {
	return time.Duration(c.Tuya.Timeout) * time.Second
}

// GetJobTimeout returns the upper bound for a single dispatched job.
func (d DispatcherConfig) GetJobTimeout() time.Duration {
	return time.Duration(d.JobTimeout) * time.Second
}
