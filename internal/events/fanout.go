package events

import (
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// Fanout delivers every event to each sink in order. A panicking sink is
// logged and skipped; the remaining sinks still receive the event.
type Fanout struct {
	sinks  []protocol.EventSink
	logger Logger
}

var _ protocol.EventSink = (*Fanout)(nil)

// NewFanout returns a Fanout over the non-nil sinks.
func NewFanout(logger Logger, sinks ...protocol.EventSink) *Fanout {
	if logger == nil {
		logger = noopLogger{}
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// AttributeUpdated implements protocol.EventSink.
func (f *Fanout) AttributeUpdated(ref protocol.AttributeRef, value any) {
	for _, s := range f.sinks {
		f.safely(func() { s.AttributeUpdated(ref, value) })
	}
}

// ConnectionStatusChanged implements protocol.EventSink.
func (f *Fanout) ConnectionStatusChanged(configID string, status transport.Status) {
	for _, s := range f.sinks {
		f.safely(func() { s.ConnectionStatusChanged(configID, status) })
	}
}

func (f *Fanout) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event sink panic recovered", "panic", r)
		}
	}()
	fn()
}
