package events

import (
	"encoding/json"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// Publisher is the subset of the MQTT client used by the event sinks.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// MQTTPublisher mirrors runtime events to retained MQTT topics so late
// subscribers see the last known value of every attribute.
type MQTTPublisher struct {
	pub     Publisher
	qos     byte
	topics  mqtt.Topics
	logger  Logger
	skipped atomic.Uint64
	failed  atomic.Uint64
}

var _ protocol.EventSink = (*MQTTPublisher)(nil)

// NewMQTTPublisher creates a sink publishing with the given QoS.
func NewMQTTPublisher(pub Publisher, qos byte, logger Logger) *MQTTPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTPublisher{pub: pub, qos: qos, logger: logger}
}

// AttributeUpdated publishes to graylogic/agent/state/{asset}/{attribute}.
func (p *MQTTPublisher) AttributeUpdated(ref protocol.AttributeRef, value any) {
	p.publish(p.topics.AttributeState(ref.AssetID, ref.Name), NewAttributeMessage(ref, value))
}

// ConnectionStatusChanged publishes to graylogic/agent/status/{configuration}.
func (p *MQTTPublisher) ConnectionStatusChanged(configID string, status transport.Status) {
	p.publish(p.topics.ConfigurationStatus(configID), NewStatusMessage(configID, status))
}

// Skipped returns the number of events not published because the broker
// was unreachable.
func (p *MQTTPublisher) Skipped() uint64 {
	return p.skipped.Load()
}

// Failed returns the number of events that could not be encoded or
// published.
func (p *MQTTPublisher) Failed() uint64 {
	return p.failed.Load()
}

func (p *MQTTPublisher) publish(topic string, msg any) {
	if !p.pub.IsConnected() {
		p.skipped.Add(1)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := p.pub.Publish(topic, payload, p.qos, true); err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
