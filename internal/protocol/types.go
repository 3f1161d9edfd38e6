package protocol

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/codec"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// Link policy defaults and bounds.
const (
	// DefaultResponseTimeout applies when neither the link nor its
	// configuration sets one.
	DefaultResponseTimeout = 3000 * time.Millisecond

	// DefaultSendRetries applies when neither the link nor its
	// configuration sets one.
	DefaultSendRetries = 1

	// MinPollingInterval is the smallest accepted polling interval.
	MinPollingInterval = 1000 * time.Millisecond
)

// AttributeRef identifies one attribute of one asset.
type AttributeRef struct {
	AssetID string `json:"asset_id"`
	Name    string `json:"attribute"`
}

// String returns "asset:attribute".
func (r AttributeRef) String() string {
	return r.AssetID + ":" + r.Name
}

// Validate checks that both parts are set.
func (r AttributeRef) Validate() error {
	if r.AssetID == "" || r.Name == "" {
		return fmt.Errorf("%w: attribute reference %q is incomplete", ErrConfiguration, r.String())
	}
	return nil
}

// ProtocolConfiguration describes one device endpoint. It is treated as
// immutable once linked.
type ProtocolConfiguration struct {
	ID      string
	Enabled bool

	Transport transport.Config
	Codec     codec.Config

	// Defaults for links bound to this configuration. Zero means unset.
	ResponseTimeout time.Duration
	SendRetries     *int

	// Device encodes writes for device-specific frame formats. Nil means
	// writes use the link's write-value template.
	Device DeviceEncoder
}

// Validate checks the configuration independent of any link.
func (c ProtocolConfiguration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: protocol configuration id is required", ErrConfiguration)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfiguration, c.ID, err)
	}
	if _, err := codec.New(c.Codec); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfiguration, c.ID, err)
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("%w: %s: negative response timeout", ErrConfiguration, c.ID)
	}
	if c.SendRetries != nil && *c.SendRetries < 0 {
		return fmt.Errorf("%w: %s: negative send retries", ErrConfiguration, c.ID)
	}
	return nil
}

// clientKey identifies the shared connection a configuration uses.
func (c ProtocolConfiguration) clientKey() string {
	return c.Transport.URI() + "#" + c.Codec.Key()
}

// LinkMeta is the per-attribute link configuration.
type LinkMeta struct {
	// PollingInterval enables polling when non-zero.
	PollingInterval time.Duration

	// ResponseTimeout and SendRetries override the configuration defaults.
	ResponseTimeout time.Duration
	SendRetries     *int

	// WriteValue is the message template; "{$value}" is replaced by the
	// written value. Required when polling.
	WriteValue string

	ReadOnly bool

	// MessageMatch selects responses and unsolicited messages for this link.
	// MessageMatchFilters are applied to a message before MessageMatch
	// tests it.
	MessageMatch        *StringPredicate
	MessageMatchFilters []ValueFilter

	ValueFilters        []ValueFilter
	ValueConverter      map[string]any
	WriteValueConverter map[string]any

	// LightID addresses a light for device encoders that need one.
	LightID *int
}

// Policy is the effective timeout and retry policy of a link.
type Policy struct {
	ResponseTimeout time.Duration
	Retries         int
}

// resolvePolicy applies link meta over configuration defaults over the
// package defaults.
func resolvePolicy(cfg ProtocolConfiguration, meta LinkMeta) Policy {
	p := Policy{ResponseTimeout: DefaultResponseTimeout, Retries: DefaultSendRetries}
	if cfg.ResponseTimeout > 0 {
		p.ResponseTimeout = cfg.ResponseTimeout
	}
	if cfg.SendRetries != nil {
		p.Retries = *cfg.SendRetries
	}
	if meta.ResponseTimeout > 0 {
		p.ResponseTimeout = meta.ResponseTimeout
	}
	if meta.SendRetries != nil {
		p.Retries = *meta.SendRetries
	}
	return p
}

// validateMeta enforces the link-time rules.
func validateMeta(meta LinkMeta) error {
	if meta.PollingInterval != 0 {
		if meta.PollingInterval < MinPollingInterval {
			return fmt.Errorf("%w: polling interval %s is below the %s minimum",
				ErrConfiguration, meta.PollingInterval, MinPollingInterval)
		}
		if meta.WriteValue == "" {
			return fmt.Errorf("%w: polling requires a write value", ErrConfiguration)
		}
	}
	if meta.ResponseTimeout < 0 {
		return fmt.Errorf("%w: negative response timeout", ErrConfiguration)
	}
	if meta.SendRetries != nil && *meta.SendRetries < 0 {
		return fmt.Errorf("%w: negative send retries", ErrConfiguration)
	}
	if meta.MessageMatch != nil {
		if err := meta.MessageMatch.Compile(); err != nil {
			return err
		}
	}
	for i := range meta.MessageMatchFilters {
		if err := meta.MessageMatchFilters[i].Compile(); err != nil {
			return err
		}
	}
	for i := range meta.ValueFilters {
		if err := meta.ValueFilters[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

// EventSink receives the runtime's outbound events.
type EventSink interface {
	AttributeUpdated(ref AttributeRef, value any)
	ConnectionStatusChanged(configID string, status transport.Status)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
