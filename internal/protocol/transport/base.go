package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// dispatchQueueSize bounds the per-connection delivery queue.
const dispatchQueueSize = 256

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Stats holds operational statistics for a connection.
type Stats struct {
	FramesTx      uint64    `json:"frames_tx"`
	FramesRx      uint64    `json:"frames_rx"`
	BytesTx       uint64    `json:"bytes_tx"`
	BytesRx       uint64    `json:"bytes_rx"`
	FramesDropped uint64    `json:"frames_dropped"` // dropped due to full dispatch queue
	ErrorsTotal   uint64    `json:"errors_total"`
	Reconnects    uint64    `json:"reconnects"`
	LastActivity  time.Time `json:"last_activity"`
	Status        Status    `json:"status"`
}

// event is one item on the dispatch queue: either a frame or a status change.
type event struct {
	frame    []byte
	status   Status
	isStatus bool
}

// base holds the machinery shared by every transport variant: status
// tracking, consumer registration, ordered delivery and statistics.
type base struct {
	uri string

	statusMu sync.RWMutex
	status   Status

	consumerMu       sync.RWMutex
	nextID           uint64
	messageConsumers map[uint64]func([]byte)
	statusConsumers  map[uint64]func(Status)

	queue        chan event
	dispatchDone *closeOnce
	dispatchWG   sync.WaitGroup
	startOnce    sync.Once

	loggerMu sync.RWMutex
	logger   Logger

	framesTx      atomic.Uint64
	framesRx      atomic.Uint64
	bytesTx       atomic.Uint64
	bytesRx       atomic.Uint64
	framesDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	reconnects    atomic.Uint64
	lastActivity  atomic.Int64
}

func newBase(uri string) *base {
	return &base{
		uri:              uri,
		status:           StatusDisconnected,
		messageConsumers: make(map[uint64]func([]byte)),
		statusConsumers:  make(map[uint64]func(Status)),
		queue:            make(chan event, dispatchQueueSize),
		dispatchDone:     newCloseOnce(),
	}
}

// URI implements Connection.
func (b *base) URI() string { return b.uri }

// Status implements Connection.
func (b *base) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// SetLogger sets the logger for connection events.
func (b *base) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// AddMessageConsumer implements Connection.
func (b *base) AddMessageConsumer(fn func([]byte)) func() {
	b.consumerMu.Lock()
	b.nextID++
	id := b.nextID
	b.messageConsumers[id] = fn
	b.consumerMu.Unlock()

	return func() {
		b.consumerMu.Lock()
		delete(b.messageConsumers, id)
		b.consumerMu.Unlock()
	}
}

// AddStatusConsumer implements Connection.
func (b *base) AddStatusConsumer(fn func(Status)) func() {
	b.consumerMu.Lock()
	b.nextID++
	id := b.nextID
	b.statusConsumers[id] = fn
	b.consumerMu.Unlock()

	return func() {
		b.consumerMu.Lock()
		delete(b.statusConsumers, id)
		b.consumerMu.Unlock()
	}
}

// Stats returns current operational statistics.
func (b *base) Stats() Stats {
	var last time.Time
	if ts := b.lastActivity.Load(); ts > 0 {
		last = time.Unix(0, ts)
	}
	return Stats{
		FramesTx:      b.framesTx.Load(),
		FramesRx:      b.framesRx.Load(),
		BytesTx:       b.bytesTx.Load(),
		BytesRx:       b.bytesRx.Load(),
		FramesDropped: b.framesDropped.Load(),
		ErrorsTotal:   b.errorsTotal.Load(),
		Reconnects:    b.reconnects.Load(),
		LastActivity:  last,
		Status:        b.Status(),
	}
}

// startDispatcher launches the delivery goroutine once.
func (b *base) startDispatcher() {
	b.startOnce.Do(func() {
		b.dispatchWG.Add(1)
		go b.dispatch()
	})
}

// stopDispatcher flushes queued events and stops the delivery goroutine.
func (b *base) stopDispatcher() {
	b.dispatchDone.Close()
	b.dispatchWG.Wait()
}

// setStatus records a transition and queues it for consumers. Repeated
// identical statuses are not re-published.
func (b *base) setStatus(s Status) {
	b.statusMu.Lock()
	if b.status == s {
		b.statusMu.Unlock()
		return
	}
	prev := b.status
	b.status = s
	b.statusMu.Unlock()

	b.logDebug("connection status changed", "uri", b.uri, "from", prev.String(), "to", s.String())

	// Status transitions are never dropped: block until queued or stopped.
	select {
	case b.queue <- event{status: s, isStatus: true}:
	case <-b.dispatchDone.Done():
	}
}

// deliver queues an inbound frame. Frames are dropped when the queue is full.
func (b *base) deliver(frame []byte) {
	b.framesRx.Add(1)
	b.bytesRx.Add(uint64(len(frame)))
	b.lastActivity.Store(time.Now().UnixNano())

	select {
	case b.queue <- event{frame: frame}:
	default:
		b.framesDropped.Add(1)
		b.errorsTotal.Add(1)
		b.logError("dispatch queue full, dropping frame", fmt.Errorf("uri %s", b.uri))
	}
}

// recordSend updates transmit statistics.
func (b *base) recordSend(n int) {
	b.framesTx.Add(1)
	b.bytesTx.Add(uint64(n))
	b.lastActivity.Store(time.Now().UnixNano())
}

func (b *base) dispatch() {
	defer b.dispatchWG.Done()

	for {
		select {
		case ev := <-b.queue:
			b.handle(ev)
		case <-b.dispatchDone.Done():
			// Deliver what is already queued, then exit.
			for {
				select {
				case ev := <-b.queue:
					b.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *base) handle(ev event) {
	b.consumerMu.RLock()
	var (
		frameFns  []func([]byte)
		statusFns []func(Status)
	)
	if ev.isStatus {
		statusFns = make([]func(Status), 0, len(b.statusConsumers))
		for _, fn := range b.statusConsumers {
			statusFns = append(statusFns, fn)
		}
	} else {
		frameFns = make([]func([]byte), 0, len(b.messageConsumers))
		for _, fn := range b.messageConsumers {
			frameFns = append(frameFns, fn)
		}
	}
	b.consumerMu.RUnlock()

	for _, fn := range statusFns {
		b.safeCall(func() { fn(ev.status) })
	}
	for _, fn := range frameFns {
		b.safeCall(func() { fn(ev.frame) })
	}
}

func (b *base) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.errorsTotal.Add(1)
			b.logError("consumer panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

// logDebug logs a debug message if logger is set.
func (b *base) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (b *base) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *base) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "uri", b.uri, "error", err)
	}
}
