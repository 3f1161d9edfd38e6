package events

import (
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AttributeMessage is the wire form of an attribute update.
type AttributeMessage struct {
	AssetID   string    `json:"asset_id"`
	Attribute string    `json:"attribute"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage is the wire form of a connection status change.
type StatusMessage struct {
	Configuration string           `json:"configuration"`
	Status        transport.Status `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
}

// NewAttributeMessage stamps an attribute update with the current time.
func NewAttributeMessage(ref protocol.AttributeRef, value any) AttributeMessage {
	return AttributeMessage{
		AssetID:   ref.AssetID,
		Attribute: ref.Name,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusMessage stamps a status change with the current time.
func NewStatusMessage(configID string, status transport.Status) StatusMessage {
	return StatusMessage{
		Configuration: configID,
		Status:        status,
		Timestamp:     time.Now().UTC(),
	}
}
