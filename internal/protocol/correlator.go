package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/codec"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// ResponseHandler receives the outcome of an exchange exactly once: the
// decoded response, or an error (ErrTimeout, or the transport error of a
// failed retransmission).
type ResponseHandler func(message string, err error)

// MessageMatcher selects the inbound message that answers an exchange.
type MessageMatcher func(message string) bool

// TraceKind classifies exchange trace events.
type TraceKind string

// Exchange trace kinds.
const (
	TraceSend        TraceKind = "send"
	TraceRetry       TraceKind = "retry"
	TraceResponse    TraceKind = "response"
	TraceTimeout     TraceKind = "timeout"
	TraceAbandon     TraceKind = "abandon"
	TraceUnsolicited TraceKind = "unsolicited"
)

// TraceEvent describes one step of an exchange.
type TraceEvent struct {
	Time       time.Time
	Client     string
	Ref        AttributeRef
	ExchangeID string
	Kind       TraceKind
	Message    string
	Attempt    int
}

// Tracer records exchange events.
type Tracer interface {
	Trace(ev TraceEvent)
}

// pendingExchange is the one-shot correlation record of a send awaiting
// its response.
type pendingExchange struct {
	id          string
	ref         AttributeRef
	message     string
	frame       []byte
	matcher     MessageMatcher
	timeout     time.Duration
	retriesLeft int
	attempt     int
	handler     ResponseHandler
	timer       *Task
	seq         uint64
}

// CorrelatorStats holds exchange counters.
type CorrelatorStats struct {
	Sent        uint64 `json:"sent"`
	Retries     uint64 `json:"retries"`
	Responses   uint64 `json:"responses"`
	Timeouts    uint64 `json:"timeouts"`
	Abandoned   uint64 `json:"abandoned"`
	Unsolicited uint64 `json:"unsolicited"`
	Pending     int    `json:"pending"`
}

// Correlator sends messages over one shared connection and matches
// inbound messages to pending exchanges. At most one exchange is pending
// per attribute; a new send replaces the previous one.
//
// Thread Safety: all methods are safe for concurrent use.
type Correlator struct {
	key   string
	conn  transport.Connection
	codec codec.Codec
	sched *Scheduler

	logger Logger
	tracer Tracer

	mu      sync.Mutex
	pending map[AttributeRef]*pendingExchange
	seq     uint64

	unsolicitedMu sync.RWMutex
	unsolicited   func(message string)

	removeConsumer func()

	sent         atomic.Uint64
	retries      atomic.Uint64
	responses    atomic.Uint64
	timeouts     atomic.Uint64
	abandoned    atomic.Uint64
	unsolicitedN atomic.Uint64
}

// NewCorrelator binds a correlator to conn and starts consuming its frames.
func NewCorrelator(key string, conn transport.Connection, c codec.Codec, sched *Scheduler, logger Logger, tracer Tracer) *Correlator {
	if logger == nil {
		logger = noopLogger{}
	}
	cr := &Correlator{
		key:     key,
		conn:    conn,
		codec:   c,
		sched:   sched,
		logger:  logger,
		tracer:  tracer,
		pending: make(map[AttributeRef]*pendingExchange),
	}
	cr.removeConsumer = conn.AddMessageConsumer(cr.onFrame)
	return cr
}

// Connection returns the connection the correlator sends through.
func (c *Correlator) Connection() transport.Connection {
	return c.conn
}

// SetUnsolicitedHandler sets the receiver of messages no exchange consumed.
func (c *Correlator) SetUnsolicitedHandler(fn func(message string)) {
	c.unsolicitedMu.Lock()
	c.unsolicited = fn
	c.unsolicitedMu.Unlock()
}

// Send encodes and transmits message for ref. With a nil handler the send
// is fire-and-forget. Otherwise a pending exchange is registered for ref,
// replacing any outstanding one, and handler is invoked exactly once with
// the matching response or a failure. Send never blocks on the response.
func (c *Correlator) Send(ref AttributeRef, message string, policy Policy, matcher MessageMatcher, handler ResponseHandler) error {
	frame, err := c.codec.Encode(message)
	if err != nil {
		return err
	}

	if handler == nil {
		if err := c.conn.Send(frame); err != nil {
			return err
		}
		c.sent.Add(1)
		c.trace(TraceEvent{Ref: ref, Kind: TraceSend, Message: message, Attempt: 1})
		return nil
	}

	ex := &pendingExchange{
		id:          uuid.NewString(),
		ref:         ref,
		message:     message,
		frame:       frame,
		matcher:     matcher,
		timeout:     policy.ResponseTimeout,
		retriesLeft: policy.Retries,
		attempt:     1,
		handler:     handler,
	}

	c.mu.Lock()
	c.seq++
	ex.seq = c.seq
	if old := c.pending[ref]; old != nil {
		old.timer.Cancel()
		c.abandoned.Add(1)
		c.trace(TraceEvent{Ref: ref, ExchangeID: old.id, Kind: TraceAbandon, Message: old.message, Attempt: old.attempt})
	}
	c.pending[ref] = ex
	ex.timer = c.sched.After(ex.timeout, func() { c.onTimeout(ex) })
	c.mu.Unlock()

	if err := c.conn.Send(frame); err != nil {
		c.mu.Lock()
		if c.pending[ref] == ex {
			delete(c.pending, ref)
		}
		ex.timer.Cancel()
		c.mu.Unlock()
		return err
	}

	c.sent.Add(1)
	c.trace(TraceEvent{Ref: ref, ExchangeID: ex.id, Kind: TraceSend, Message: message, Attempt: 1})
	return nil
}

// Cancel abandons the pending exchange of ref, if any. Its handler is
// never invoked.
func (c *Correlator) Cancel(ref AttributeRef) {
	c.mu.Lock()
	ex := c.pending[ref]
	delete(c.pending, ref)
	c.mu.Unlock()

	if ex != nil {
		ex.timer.Cancel()
		c.abandoned.Add(1)
		c.trace(TraceEvent{Ref: ref, ExchangeID: ex.id, Kind: TraceAbandon, Message: ex.message, Attempt: ex.attempt})
	}
}

// Pending reports whether ref has an outstanding exchange.
func (c *Correlator) Pending(ref AttributeRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[ref]
	return ok
}

// Stats returns exchange counters.
func (c *Correlator) Stats() CorrelatorStats {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()

	return CorrelatorStats{
		Sent:        c.sent.Load(),
		Retries:     c.retries.Load(),
		Responses:   c.responses.Load(),
		Timeouts:    c.timeouts.Load(),
		Abandoned:   c.abandoned.Load(),
		Unsolicited: c.unsolicitedN.Load(),
		Pending:     pending,
	}
}

// Close abandons every pending exchange and detaches from the connection.
func (c *Correlator) Close() {
	c.removeConsumer()

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[AttributeRef]*pendingExchange)
	c.mu.Unlock()

	for _, ex := range pending {
		ex.timer.Cancel()
		c.abandoned.Add(1)
	}
}

// onFrame runs on the connection's dispatcher goroutine, in receive order.
// Response handlers run inline so a link sees its responses in that order.
func (c *Correlator) onFrame(frame []byte) {
	for _, msg := range c.codec.Decode(frame) {
		c.onMessage(msg)
	}
}

func (c *Correlator) onMessage(msg string) {
	c.mu.Lock()
	var match *pendingExchange
	for _, ex := range c.pending {
		if ex.matcher != nil && !ex.matcher(msg) {
			continue
		}
		if match == nil || ex.seq < match.seq {
			match = ex
		}
	}
	if match != nil {
		delete(c.pending, match.ref)
	}
	c.mu.Unlock()

	if match == nil {
		c.unsolicitedN.Add(1)
		c.trace(TraceEvent{Kind: TraceUnsolicited, Message: msg})
		c.unsolicitedMu.RLock()
		fn := c.unsolicited
		c.unsolicitedMu.RUnlock()
		if fn != nil {
			fn(msg)
		}
		return
	}

	match.timer.Cancel()
	c.responses.Add(1)
	c.trace(TraceEvent{Ref: match.ref, ExchangeID: match.id, Kind: TraceResponse, Message: msg, Attempt: match.attempt})
	match.handler(msg, nil)
}

// onTimeout runs on a scheduler worker when an exchange's timer fires.
func (c *Correlator) onTimeout(ex *pendingExchange) {
	c.mu.Lock()
	if c.pending[ex.ref] != ex {
		// Answered, replaced or cancelled meanwhile.
		c.mu.Unlock()
		return
	}

	if ex.retriesLeft <= 0 {
		delete(c.pending, ex.ref)
		c.mu.Unlock()

		c.timeouts.Add(1)
		c.logger.Warn("no response received, giving up",
			"client", c.key, "attribute", ex.ref.String(), "attempts", ex.attempt, "timeout", ex.timeout.String())
		c.trace(TraceEvent{Ref: ex.ref, ExchangeID: ex.id, Kind: TraceTimeout, Message: ex.message, Attempt: ex.attempt})
		ex.handler("", fmt.Errorf("%w: %s after %d attempt(s)", ErrTimeout, ex.ref, ex.attempt))
		return
	}

	// The retransmit happens under the lock so a concurrent Cancel either
	// precedes it (no frame) or discards the exchange after it.
	ex.retriesLeft--
	ex.attempt++
	attempt := ex.attempt
	err := c.conn.Send(ex.frame)
	if err != nil {
		delete(c.pending, ex.ref)
	} else {
		ex.timer = c.sched.After(ex.timeout, func() { c.onTimeout(ex) })
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("retransmission failed", "client", c.key, "attribute", ex.ref.String(), "error", err)
		ex.handler("", err)
		return
	}
	c.sent.Add(1)
	c.retries.Add(1)
	c.logger.Debug("no response received, retrying",
		"client", c.key, "attribute", ex.ref.String(), "attempt", attempt)
	c.trace(TraceEvent{Ref: ex.ref, ExchangeID: ex.id, Kind: TraceRetry, Message: ex.message, Attempt: attempt})
}

func (c *Correlator) trace(ev TraceEvent) {
	if c.tracer == nil {
		return
	}
	ev.Time = time.Now()
	ev.Client = c.key
	c.tracer.Trace(ev)
}
