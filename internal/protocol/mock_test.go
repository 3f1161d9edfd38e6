package protocol

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// mockConn is an in-memory transport.Connection. Sent frames are recorded;
// inbound frames are injected with deliver or produced by a responder.
type mockConn struct {
	uri string

	mu              sync.Mutex
	status          transport.Status
	sent            []string
	msgConsumers    map[int]func([]byte)
	statusConsumers map[int]func(transport.Status)
	nextID          int
	connects        int
	disconnects     int

	// autoConnect makes Connect report CONNECTED.
	autoConnect bool

	// responder, when set, is called for every sent frame; a non-empty
	// reply is delivered back asynchronously.
	responder func(frame string, n int) string

	// deliverMu serialises inbound delivery like a connection dispatcher.
	deliverMu sync.Mutex
}

func newMockConn(uri string) *mockConn {
	return &mockConn{
		uri:             uri,
		status:          transport.StatusDisconnected,
		msgConsumers:    make(map[int]func([]byte)),
		statusConsumers: make(map[int]func(transport.Status)),
		autoConnect:     true,
	}
}

func (m *mockConn) Connect(_ context.Context) error {
	m.mu.Lock()
	m.connects++
	auto := m.autoConnect
	m.mu.Unlock()

	m.setStatus(transport.StatusConnecting)
	if auto {
		m.setStatus(transport.StatusConnected)
	}
	return nil
}

func (m *mockConn) Disconnect() error {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	m.setStatus(transport.StatusDisconnected)
	return nil
}

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	if m.status != transport.StatusConnected {
		m.mu.Unlock()
		return transport.ErrNotConnected
	}
	m.sent = append(m.sent, string(data))
	n := len(m.sent)
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		if reply := responder(string(data), n); reply != "" {
			go m.deliver(reply)
		}
	}
	return nil
}

func (m *mockConn) AddMessageConsumer(fn func([]byte)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.msgConsumers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.msgConsumers, id)
		m.mu.Unlock()
	}
}

func (m *mockConn) AddStatusConsumer(fn func(transport.Status)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.statusConsumers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.statusConsumers, id)
		m.mu.Unlock()
	}
}

func (m *mockConn) Status() transport.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockConn) URI() string { return m.uri }

// deliver hands an inbound frame to the message consumers.
func (m *mockConn) deliver(frame string) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	consumers := make([]func([]byte), 0, len(m.msgConsumers))
	for _, fn := range m.msgConsumers {
		consumers = append(consumers, fn)
	}
	m.mu.Unlock()

	for _, fn := range consumers {
		fn([]byte(frame))
	}
}

func (m *mockConn) setStatus(s transport.Status) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	m.status = s
	consumers := make([]func(transport.Status), 0, len(m.statusConsumers))
	for _, fn := range m.statusConsumers {
		consumers = append(consumers, fn)
	}
	m.mu.Unlock()

	for _, fn := range consumers {
		fn(s)
	}
}

func (m *mockConn) setResponder(fn func(frame string, n int) string) {
	m.mu.Lock()
	m.responder = fn
	m.mu.Unlock()
}

func (m *mockConn) sentFrames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockConn) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockConn) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// mockDialer hands out one mockConn per dial and remembers them.
type mockDialer struct {
	mu    sync.Mutex
	conns []*mockConn

	// prepare, when set, configures each new connection.
	prepare func(*mockConn)
}

func (d *mockDialer) dial(cfg transport.Config) (transport.Connection, error) {
	c := newMockConn(cfg.URI())
	if d.prepare != nil {
		d.prepare(c)
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *mockDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *mockDialer) conn(i int) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type attributeUpdate struct {
	ref   AttributeRef
	value any
}

type statusChange struct {
	configID string
	status   transport.Status
}

// recordingSink is an EventSink that records every event.
type recordingSink struct {
	mu       sync.Mutex
	updates  []attributeUpdate
	statuses []statusChange
}

func (s *recordingSink) AttributeUpdated(ref AttributeRef, value any) {
	s.mu.Lock()
	s.updates = append(s.updates, attributeUpdate{ref: ref, value: value})
	s.mu.Unlock()
}

func (s *recordingSink) ConnectionStatusChanged(configID string, status transport.Status) {
	s.mu.Lock()
	s.statuses = append(s.statuses, statusChange{configID: configID, status: status})
	s.mu.Unlock()
}

func (s *recordingSink) updatesFor(ref AttributeRef) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, u := range s.updates {
		if u.ref == ref {
			out = append(out, u.value)
		}
	}
	return out
}

func (s *recordingSink) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *recordingSink) statusesFor(configID string) []transport.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transport.Status
	for _, c := range s.statuses {
		if c.configID == configID {
			out = append(out, c.status)
		}
	}
	return out
}

// recordingTracer collects trace events.
type recordingTracer struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (t *recordingTracer) Trace(ev TraceEvent) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

func (t *recordingTracer) kinds() []TraceKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceKind, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev.Kind)
	}
	return out
}

// handlerRecorder records every invocation of a ResponseHandler.
type handlerRecorder struct {
	mu    sync.Mutex
	calls []handlerCall
}

type handlerCall struct {
	message string
	err     error
}

func (h *handlerRecorder) handle(message string, err error) {
	h.mu.Lock()
	h.calls = append(h.calls, handlerCall{message: message, err: err})
	h.mu.Unlock()
}

func (h *handlerRecorder) snapshot() []handlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handlerCall(nil), h.calls...)
}

func (h *handlerRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func intPtr(v int) *int { return &v }
