package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned by Send when the connection is not CONNECTED.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned when a disconnected connection is used again.
	ErrClosed = errors.New("transport: connection closed")

	// ErrInvalidConfig is returned by New when the endpoint description is unusable.
	ErrInvalidConfig = errors.New("transport: invalid configuration")
)

// Status is the state of a Connection.
type Status int

// Connection states.
const (
	StatusUnknown Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusWaiting
	StatusError
)

// String returns the upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusWaiting:
		return "WAITING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connection is one physical or logical link to a device.
//
// Connect is asynchronous; its outcome is reported through status
// transitions. Inbound frames and status transitions are delivered to
// consumers on a single goroutine in the order they occurred.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(data []byte) error
	AddMessageConsumer(fn func(frame []byte)) (remove func())
	AddStatusConsumer(fn func(status Status)) (remove func())
	Status() Status
	URI() string
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Type selects a transport variant.
type Type string

// Supported transport types.
const (
	TypeUDP    Type = "udp"
	TypeTCP    Type = "tcp"
	TypeSerial Type = "serial"
	TypeMQTT   Type = "mqtt"
)

// Default intervals for connection management.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 1 * time.Second
	maxReconnectInterval     = 60 * time.Second
	defaultBaudRate          = 9600
	defaultSerialReadTimeout = 500 * time.Millisecond
)

// Config describes a device endpoint.
type Config struct {
	Type Type `yaml:"type" toml:"type" json:"type"`

	// Network endpoints (udp, tcp).
	Host     string `yaml:"host" toml:"host" json:"host,omitempty"`
	Port     int    `yaml:"port" toml:"port" json:"port,omitempty"`
	BindPort int    `yaml:"bind_port" toml:"bind_port" json:"bind_port,omitempty"` // udp only

	Serial SerialConfig `yaml:"serial" toml:"serial" json:"serial,omitempty"`
	MQTT   MQTTConfig   `yaml:"mqtt" toml:"mqtt" json:"mqtt,omitempty"`

	ConnectTimeoutMS    int  `yaml:"connect_timeout_ms" toml:"connect_timeout_ms" json:"connect_timeout_ms,omitempty"`
	ReconnectIntervalMS int  `yaml:"reconnect_interval_ms" toml:"reconnect_interval_ms" json:"reconnect_interval_ms,omitempty"`
	Reconnect           bool `yaml:"reconnect" toml:"reconnect" json:"reconnect"`
}

// SerialConfig holds serial port settings.
type SerialConfig struct {
	Device        string `yaml:"device" toml:"device" json:"device,omitempty"`
	BaudRate      int    `yaml:"baud_rate" toml:"baud_rate" json:"baud_rate,omitempty"`
	DataBits      int    `yaml:"data_bits" toml:"data_bits" json:"data_bits,omitempty"`
	Parity        string `yaml:"parity" toml:"parity" json:"parity,omitempty"` // N, E, O, M, S
	StopBits      int    `yaml:"stop_bits" toml:"stop_bits" json:"stop_bits,omitempty"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms" toml:"read_timeout_ms" json:"read_timeout_ms,omitempty"`
}

// MQTTConfig holds settings for devices reached over an MQTT broker.
type MQTTConfig struct {
	Broker         string `yaml:"broker" toml:"broker" json:"broker,omitempty"` // tcp://host:port
	ClientID       string `yaml:"client_id" toml:"client_id" json:"client_id,omitempty"`
	Username       string `yaml:"username" toml:"username" json:"username,omitempty"`
	Password       string `yaml:"password" toml:"password" json:"-"`
	PublishTopic   string `yaml:"publish_topic" toml:"publish_topic" json:"publish_topic,omitempty"`
	SubscribeTopic string `yaml:"subscribe_topic" toml:"subscribe_topic" json:"subscribe_topic,omitempty"`
	QoS            byte   `yaml:"qos" toml:"qos" json:"qos"`
}

// ConnectTimeout returns the dial timeout.
func (c Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMS <= 0 {
		return defaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// ReconnectInterval returns the initial reconnect backoff.
func (c Config) ReconnectInterval() time.Duration {
	if c.ReconnectIntervalMS <= 0 {
		return defaultReconnectInterval
	}
	return time.Duration(c.ReconnectIntervalMS) * time.Millisecond
}

// URI identifies the endpoint. Configurations with equal URIs address the
// same device connection.
func (c Config) URI() string {
	switch c.Type {
	case TypeSerial:
		return "serial://" + c.Serial.Device
	case TypeMQTT:
		return "mqtt://" + c.MQTT.Broker + "/" + c.MQTT.PublishTopic + "|" + c.MQTT.SubscribeTopic
	case TypeUDP:
		uri := "udp://" + hostPort(c.Host, c.Port)
		if c.BindPort > 0 {
			uri += "?bind=" + strconv.Itoa(c.BindPort)
		}
		return uri
	default:
		return string(c.Type) + "://" + hostPort(c.Host, c.Port)
	}
}

// Validate checks the fields required by the selected type.
func (c Config) Validate() error {
	switch c.Type {
	case TypeTCP, TypeUDP:
		if c.Host == "" {
			return fmt.Errorf("%w: %s host is required", ErrInvalidConfig, c.Type)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%w: %s port %d out of range", ErrInvalidConfig, c.Type, c.Port)
		}
		if c.BindPort < 0 || c.BindPort > 65535 {
			return fmt.Errorf("%w: bind port %d out of range", ErrInvalidConfig, c.BindPort)
		}
	case TypeSerial:
		if c.Serial.Device == "" {
			return fmt.Errorf("%w: serial device is required", ErrInvalidConfig)
		}
		if _, err := parseParity(c.Serial.Parity); err != nil {
			return err
		}
		if _, err := parseStopBits(c.Serial.StopBits); err != nil {
			return err
		}
	case TypeMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt broker is required", ErrInvalidConfig)
		}
		if c.MQTT.PublishTopic == "" || c.MQTT.SubscribeTopic == "" {
			return fmt.Errorf("%w: mqtt publish and subscribe topics are required", ErrInvalidConfig)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt qos %d invalid", ErrInvalidConfig, c.MQTT.QoS)
		}
	default:
		return fmt.Errorf("%w: unknown transport type %q", ErrInvalidConfig, c.Type)
	}
	return nil
}

// New returns an unconnected Connection for cfg.
func New(cfg Config) (Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeTCP:
		return NewTCPConnection(cfg), nil
	case TypeUDP:
		return NewUDPConnection(cfg), nil
	case TypeSerial:
		return NewSerialConnection(cfg), nil
	case TypeMQTT:
		return NewMQTTConnection(cfg), nil
	}
	return nil, fmt.Errorf("%w: unknown transport type %q", ErrInvalidConfig, cfg.Type)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
