package events

import (
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

var lampLevel = protocol.AttributeRef{AssetID: "lamp-1", Name: "level"}

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []published
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic, payload, qos, retained})
	return nil
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

type recordedEvent struct {
	ref      protocol.AttributeRef
	value    any
	configID string
	status   transport.Status
}

// recordingSink records events; block, if set, stalls delivery until closed.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	block  chan struct{}
	panics bool
}

func (s *recordingSink) AttributeUpdated(ref protocol.AttributeRef, value any) {
	if s.block != nil {
		<-s.block
	}
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{ref: ref, value: value})
}

func (s *recordingSink) ConnectionStatusChanged(configID string, status transport.Status) {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{configID: configID, status: status})
}

func (s *recordingSink) received() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

type writtenValue struct {
	assetID, attribute string
	value              any
	ts                 time.Time
}

type writtenStatus struct {
	configID, status string
	ts               time.Time
}

type fakeMetricsWriter struct {
	values   []writtenValue
	statuses []writtenStatus
}

func (f *fakeMetricsWriter) WriteAttributeValue(assetID, attribute string, value any, ts time.Time) {
	f.values = append(f.values, writtenValue{assetID, attribute, value, ts})
}

func (f *fakeMetricsWriter) WriteConnectionStatus(configID, status string, ts time.Time) {
	f.statuses = append(f.statuses, writtenStatus{configID, status, ts})
}

type fakeSource struct {
	stats   protocol.RuntimeStats
	configs []protocol.ConfigurationInfo
}

func (f *fakeSource) Stats() protocol.RuntimeStats                 { return f.stats }
func (f *fakeSource) Configurations() []protocol.ConfigurationInfo { return f.configs }

var errBroker = errors.New("broker unavailable")
