package events

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// defaultQueueSize bounds Async's backlog when no size is given.
const defaultQueueSize = 256

type event struct {
	ref      protocol.AttributeRef
	value    any
	configID string
	status   transport.Status
	isStatus bool
}

// Async decouples a slow sink from the runtime. Events are delivered to the
// wrapped sink in order on one goroutine; when the queue is full new events
// are dropped and counted.
//
// Thread Safety: all methods are safe for concurrent use.
type Async struct {
	name   string
	sink   protocol.EventSink
	queue  chan event
	logger Logger

	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

var _ protocol.EventSink = (*Async)(nil)

// NewAsync starts delivering to sink. size <= 0 uses a default queue size.
func NewAsync(name string, sink protocol.EventSink, size int, logger Logger) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	a := &Async{
		name:   name,
		sink:   sink,
		queue:  make(chan event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// AttributeUpdated implements protocol.EventSink.
func (a *Async) AttributeUpdated(ref protocol.AttributeRef, value any) {
	a.enqueue(event{ref: ref, value: value})
}

// ConnectionStatusChanged implements protocol.EventSink.
func (a *Async) ConnectionStatusChanged(configID string, status transport.Status) {
	a.enqueue(event{configID: configID, status: status, isStatus: true})
}

// Dropped returns the number of events discarded because the queue was full
// or the sink was closed.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events, drains the queue and waits for delivery.
// Safe to call multiple times.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
	})
	return nil
}

func (a *Async) enqueue(e event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- e:
	default:
		if a.dropped.Add(1) == 1 {
			a.logger.Warn("event queue full, dropping events", "sink", a.name)
		}
	}
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		a.deliver(e)
	}
}

func (a *Async) deliver(e event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("event sink panic recovered", "sink", a.name, "panic", r)
		}
	}()
	if e.isStatus {
		a.sink.ConnectionStatusChanged(e.configID, e.status)
		return
	}
	a.sink.AttributeUpdated(e.ref, e.value)
}
