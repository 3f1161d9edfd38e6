package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/artnet"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/codec"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// envPrefix prefixes every environment override.
const envPrefix = "GRAYLOGIC_AGENT_"

// redacted replaces secrets in String and MarshalJSON output.
const redacted = "[REDACTED]"

// Device encoder names accepted in protocols[].device.
const (
	DeviceNone   = ""
	DeviceArtnet = "artnet"
)

// Config is the root configuration structure for the Gray Logic agent.
// All configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Agent     AgentConfig      `yaml:"agent" toml:"agent" json:"agent"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging" json:"logging"`
	MQTT      MQTTConfig       `yaml:"mqtt" toml:"mqtt" json:"mqtt"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb" toml:"influxdb" json:"influxdb"`
	Database  DatabaseConfig   `yaml:"database" toml:"database" json:"database"`
	API       APIConfig        `yaml:"api" toml:"api" json:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket" toml:"websocket" json:"websocket"`
	Trace     TraceConfig      `yaml:"trace" toml:"trace" json:"trace"`
	Health    HealthConfig     `yaml:"health" toml:"health" json:"health"`
	Protocols []ProtocolConfig `yaml:"protocols" toml:"protocols" json:"protocols"`
	Links     []LinkConfig     `yaml:"links" toml:"links" json:"links"`

	// envErrs collects unparseable environment overrides for Validate.
	envErrs []string
}

// AgentConfig identifies this agent instance.
type AgentConfig struct {
	ID   string `yaml:"id" toml:"id" json:"id"`
	Name string `yaml:"name" toml:"name" json:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
	Output string `yaml:"output" toml:"output" json:"output"`
}

// MQTTConfig contains MQTT broker connection settings for event publishing
// and write commands.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled" toml:"enabled" json:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker" json:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth" json:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos" json:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect" json:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host" json:"host"`
	Port     int    `yaml:"port" toml:"port" json:"port"`
	TLS      bool   `yaml:"tls" toml:"tls" json:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id" json:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay" json:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	URL           string `yaml:"url" toml:"url" json:"url"`
	Token         string `yaml:"token" toml:"token" json:"token"`
	Org           string `yaml:"org" toml:"org" json:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket" json:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval" json:"flush_interval"` // seconds
}

// DatabaseConfig contains SQLite settings for attribute history.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path          string `yaml:"path" toml:"path" json:"path"`
	WALMode       bool   `yaml:"wal_mode" toml:"wal_mode" json:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout" toml:"busy_timeout" json:"busy_timeout"`       // seconds
	RetentionDays int    `yaml:"retention_days" toml:"retention_days" json:"retention_days"` // 0 keeps everything
}

// APIConfig contains the operational HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" toml:"enabled" json:"enabled"`
	Host     string           `yaml:"host" toml:"host" json:"host"`
	Port     int              `yaml:"port" toml:"port" json:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts" json:"timeouts"`
	CORS     CORSConfig       `yaml:"cors" toml:"cors" json:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read" toml:"read" json:"read"`
	Write int `yaml:"write" toml:"write" json:"write"`
	Idle  int `yaml:"idle" toml:"idle" json:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" toml:"max_message_size" json:"max_message_size"`
	PingInterval   int `yaml:"ping_interval" toml:"ping_interval" json:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout" toml:"pong_timeout" json:"pong_timeout"`    // seconds
}

// TraceConfig controls the CBOR exchange trace.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}

// HealthConfig controls the periodic health report.
type HealthConfig struct {
	Interval int `yaml:"interval" toml:"interval" json:"interval"` // seconds
}

// ProtocolConfig describes one device endpoint as written in the file.
type ProtocolConfig struct {
	ID      string `yaml:"id" toml:"id" json:"id"`
	Enabled *bool  `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"` // default true

	Transport transport.Config `yaml:"transport" toml:"transport" json:"transport"`
	Codec     codec.Config     `yaml:"codec" toml:"codec" json:"codec"`

	ResponseTimeoutMS int  `yaml:"response_timeout_ms" toml:"response_timeout_ms" json:"response_timeout_ms,omitempty"`
	SendRetries       *int `yaml:"send_retries" toml:"send_retries" json:"send_retries,omitempty"`

	// Device selects a device encoder for writes ("" or "artnet").
	Device string        `yaml:"device" toml:"device" json:"device,omitempty"`
	Artnet artnet.Config `yaml:"artnet" toml:"artnet" json:"artnet,omitempty"`
}

// IsEnabled reports whether the configuration is enabled (default true).
func (p ProtocolConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// LinkConfig binds one attribute to a protocol configuration.
type LinkConfig struct {
	Asset     string `yaml:"asset" toml:"asset" json:"asset"`
	Attribute string `yaml:"attribute" toml:"attribute" json:"attribute"`
	Protocol  string `yaml:"protocol" toml:"protocol" json:"protocol"`

	PollingIntervalMS int    `yaml:"polling_interval_ms" toml:"polling_interval_ms" json:"polling_interval_ms,omitempty"`
	ResponseTimeoutMS int    `yaml:"response_timeout_ms" toml:"response_timeout_ms" json:"response_timeout_ms,omitempty"`
	SendRetries       *int   `yaml:"send_retries" toml:"send_retries" json:"send_retries,omitempty"`
	WriteValue        string `yaml:"write_value" toml:"write_value" json:"write_value,omitempty"`
	ReadOnly          bool   `yaml:"read_only" toml:"read_only" json:"read_only"`

	MessageMatch        *protocol.StringPredicate `yaml:"message_match" toml:"message_match" json:"message_match,omitempty"`
	MessageMatchFilters []protocol.ValueFilter    `yaml:"message_match_filters" toml:"message_match_filters" json:"message_match_filters,omitempty"`
	ValueFilters        []protocol.ValueFilter    `yaml:"value_filters" toml:"value_filters" json:"value_filters,omitempty"`
	ValueConverter      map[string]any            `yaml:"value_converter" toml:"value_converter" json:"value_converter,omitempty"`
	WriteValueConverter map[string]any            `yaml:"write_value_converter" toml:"write_value_converter" json:"write_value_converter,omitempty"`

	LightID *int `yaml:"light_id" toml:"light_id" json:"light_id,omitempty"`
}

// Ref returns the attribute this link binds.
func (l LinkConfig) Ref() protocol.AttributeRef {
	return protocol.AttributeRef{AssetID: l.Asset, Name: l.Attribute}
}

// Meta converts the link to runtime link meta.
func (l LinkConfig) Meta() protocol.LinkMeta {
	return protocol.LinkMeta{
		PollingInterval:     time.Duration(l.PollingIntervalMS) * time.Millisecond,
		ResponseTimeout:     time.Duration(l.ResponseTimeoutMS) * time.Millisecond,
		SendRetries:         l.SendRetries,
		WriteValue:          l.WriteValue,
		ReadOnly:            l.ReadOnly,
		MessageMatch:        l.MessageMatch,
		MessageMatchFilters: l.MessageMatchFilters,
		ValueFilters:        l.ValueFilters,
		ValueConverter:      l.ValueConverter,
		WriteValueConverter: l.WriteValueConverter,
		LightID:             l.LightID,
	}
}

// Load reads configuration from a YAML or TOML file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are TOML, anything else YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_AGENT_SECTION_KEY
// For example: GRAYLOGIC_AGENT_DATABASE_PATH, GRAYLOGIC_AGENT_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
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
		Agent: AgentConfig{
			ID:   "agent-001",
			Name: "Gray Logic Agent",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-agent",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:          "./data/agent.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Trace: TraceConfig{
			Path: "./data/exchanges.trace",
		},
		Health: HealthConfig{
			Interval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			cfg.envErrs = append(cfg.envErrs, fmt.Sprintf("%s%s must be an integer", envPrefix, key))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			cfg.envErrs = append(cfg.envErrs, fmt.Sprintf("%s%s must be a boolean", envPrefix, key))
			return
		}
		*dst = b
	}

	str("AGENT_ID", &cfg.Agent.ID)
	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)

	flag("MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("MQTT_HOST", &cfg.MQTT.Broker.Host)
	num("MQTT_PORT", &cfg.MQTT.Broker.Port)
	str("MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	flag("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	str("INFLUXDB_URL", &cfg.InfluxDB.URL)
	str("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	flag("DATABASE_ENABLED", &cfg.Database.Enabled)
	str("DATABASE_PATH", &cfg.Database.Path)

	flag("API_ENABLED", &cfg.API.Enabled)
	str("API_HOST", &cfg.API.Host)
	num("API_PORT", &cfg.API.Port)

	flag("TRACE_ENABLED", &cfg.Trace.Enabled)
	str("TRACE_PATH", &cfg.Trace.Path)
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	errs := append([]string(nil), c.envErrs...)

	if c.Agent.ID == "" {
		errs = append(errs, "agent.id is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Trace.Enabled && c.Trace.Path == "" {
		errs = append(errs, "trace.path is required when trace is enabled")
	}

	errs = append(errs, c.validateProtocols()...)
	errs = append(errs, c.validateLinks()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateProtocols() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Protocols))
	for i, p := range c.Protocols {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("protocols[%d].id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("protocols[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true

		if err := p.Transport.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("protocols.%s.transport: %v", p.ID, err))
		}
		if _, err := codec.New(p.Codec); err != nil {
			errs = append(errs, fmt.Sprintf("protocols.%s.codec: %v", p.ID, err))
		}
		switch p.Device {
		case DeviceNone:
		case DeviceArtnet:
			if _, err := artnet.NewEncoder(p.Artnet); err != nil {
				errs = append(errs, fmt.Sprintf("protocols.%s.artnet: %v", p.ID, err))
			}
		default:
			errs = append(errs, fmt.Sprintf("protocols.%s.device %q is not supported", p.ID, p.Device))
		}
	}
	return errs
}

func (c *Config) validateLinks() []string {
	var errs []string
	protocols := make(map[string]bool, len(c.Protocols))
	for _, p := range c.Protocols {
		protocols[p.ID] = true
	}

	seen := make(map[protocol.AttributeRef]bool, len(c.Links))
	for i, l := range c.Links {
		if l.Asset == "" || l.Attribute == "" {
			errs = append(errs, fmt.Sprintf("links[%d]: asset and attribute are required", i))
			continue
		}
		ref := l.Ref()
		if seen[ref] {
			errs = append(errs, fmt.Sprintf("links.%s is linked more than once", ref))
		}
		seen[ref] = true

		if !protocols[l.Protocol] {
			errs = append(errs, fmt.Sprintf("links.%s.protocol %q is not configured", ref, l.Protocol))
		}
		if l.PollingIntervalMS != 0 {
			if l.PollingIntervalMS < int(protocol.MinPollingInterval/time.Millisecond) {
				errs = append(errs, fmt.Sprintf("links.%s.polling_interval_ms must be at least %d",
					ref, protocol.MinPollingInterval.Milliseconds()))
			}
			if l.WriteValue == "" {
				errs = append(errs, fmt.Sprintf("links.%s.write_value is required when polling", ref))
			}
		}
	}
	return errs
}

// ProtocolConfigurations converts the protocols section into runtime
// configurations, building device encoders where requested.
func (c *Config) ProtocolConfigurations() ([]protocol.ProtocolConfiguration, error) {
	out := make([]protocol.ProtocolConfiguration, 0, len(c.Protocols))
	for _, p := range c.Protocols {
		pc := protocol.ProtocolConfiguration{
			ID:              p.ID,
			Enabled:         p.IsEnabled(),
			Transport:       p.Transport,
			Codec:           p.Codec,
			ResponseTimeout: time.Duration(p.ResponseTimeoutMS) * time.Millisecond,
			SendRetries:     p.SendRetries,
		}
		if p.Device == DeviceArtnet {
			enc, err := artnet.NewEncoder(p.Artnet)
			if err != nil {
				return nil, fmt.Errorf("protocols.%s.artnet: %w", p.ID, err)
			}
			pc.Device = enc
		}
		out = append(out, pc)
	}
	return out, nil
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

// GetHealthInterval returns the health report interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// Redacted returns a copy with every secret replaced.
func (c *Config) Redacted() Config {
	out := *c
	if out.MQTT.Auth.Password != "" {
		out.MQTT.Auth.Password = redacted
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = redacted
	}
	out.Protocols = append([]ProtocolConfig(nil), c.Protocols...)
	for i := range out.Protocols {
		if out.Protocols[i].Transport.MQTT.Password != "" {
			out.Protocols[i].Transport.MQTT.Password = redacted
		}
	}
	out.envErrs = nil
	return out
}

// MarshalJSON renders the configuration with secrets redacted.
func (c *Config) MarshalJSON() ([]byte, error) {
	type plain Config
	r := c.Redacted()
	return json.Marshal((*plain)(&r))
}

// String renders the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(b)
}
