package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol/codec"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// DialFunc creates an unconnected transport connection.
type DialFunc func(cfg transport.Config) (transport.Connection, error)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	// Sink receives attribute updates and connection status changes. Required.
	// Sink methods must not call back into the Runtime synchronously.
	Sink EventSink

	Logger Logger
	Tracer Tracer

	// Workers sizes the shared scheduler (default 4).
	Workers int

	// Dial creates connections (default transport.New).
	Dial DialFunc
}

// client is a connection shared by every configuration with the same
// endpoint and codec, together with its correlator.
type client struct {
	key          string
	conn         transport.Connection
	correlator   *Correlator
	configs      map[string]struct{}
	removeStatus func()
}

// configEntry is a linked protocol configuration.
type configEntry struct {
	cfg    ProtocolConfiguration
	client *client // nil when disabled
}

// RuntimeStats holds runtime counters.
type RuntimeStats struct {
	Links          int    `json:"links"`
	Configurations int    `json:"configurations"`
	Connections    int    `json:"connections"`
	Polls          uint64 `json:"polls"`
	Writes         uint64 `json:"writes"`
	WritesRejected uint64 `json:"writes_rejected"`
	Updates        uint64 `json:"updates"`
	LateDropped    uint64 `json:"late_dropped"`
	Timeouts       uint64 `json:"timeouts"`
	Retries        uint64 `json:"retries"`
}

// ConfigurationInfo is a read-only snapshot of a linked configuration.
type ConfigurationInfo struct {
	ID        string           `json:"id"`
	Enabled   bool             `json:"enabled"`
	URI       string           `json:"uri"`
	Status    transport.Status `json:"status"`
	Links     int              `json:"links"`
	Exchanges CorrelatorStats  `json:"exchanges"`
}

// Runtime links attributes to protocol configurations, owns the shared
// connections and routes writes, polls and inbound messages.
//
// Lifecycle operations (linking and unlinking configurations and
// attributes) are serialised. Writes, inbound messages and status changes
// run concurrently with them and only read the registry.
//
// Thread Safety: all methods are safe for concurrent use.
type Runtime struct {
	sink     EventSink
	logger   Logger
	tracer   Tracer
	dial     DialFunc
	sched    *Scheduler
	registry *Registry

	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	configs map[string]*configEntry
	clients map[string]*client
	closed  bool

	closeOnce sync.Once

	polls          atomic.Uint64
	writes         atomic.Uint64
	writesRejected atomic.Uint64
	updates        atomic.Uint64
	lateDropped    atomic.Uint64
}

// NewRuntime creates a runtime and starts its scheduler.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Sink == nil {
		return nil, errors.New("protocol: event sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Dial == nil {
		opts.Dial = transport.New
	}

	return &Runtime{
		sink:     opts.Sink,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		dial:     opts.Dial,
		sched:    NewScheduler(opts.Workers, opts.Logger),
		registry: NewRegistry(),
		configs:  make(map[string]*configEntry),
		clients:  make(map[string]*client),
	}, nil
}

// LinkProtocolConfiguration makes cfg available to attributes and, when it
// is enabled, connects its endpoint. Re-linking an existing ID replaces the
// configuration and unlinks its attributes.
func (r *Runtime) LinkProtocolConfiguration(ctx context.Context, cfg ProtocolConfiguration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.isClosed() {
		return ErrClosed
	}

	r.mu.RLock()
	_, exists := r.configs[cfg.ID]
	r.mu.RUnlock()
	if exists {
		r.unlinkConfigurationLocked(ctx, cfg.ID)
	}

	entry := &configEntry{cfg: cfg}
	if !cfg.Enabled {
		r.mu.Lock()
		r.configs[cfg.ID] = entry
		r.mu.Unlock()
		r.logger.Info("protocol configuration is disabled, not connecting", "config", cfg.ID)
		return nil
	}

	key := cfg.clientKey()
	r.mu.Lock()
	cl, shared := r.clients[key]
	if shared {
		cl.configs[cfg.ID] = struct{}{}
		entry.client = cl
		r.configs[cfg.ID] = entry
	}
	r.mu.Unlock()

	if shared {
		r.logger.Info("protocol configuration linked to shared connection", "config", cfg.ID, "uri", cl.conn.URI())
		r.sink.ConnectionStatusChanged(cfg.ID, cl.conn.Status())
		return nil
	}

	cl, err := r.newClient(key, cfg)
	if err != nil {
		return err
	}
	cl.configs[cfg.ID] = struct{}{}
	entry.client = cl

	r.mu.Lock()
	r.clients[key] = cl
	r.configs[cfg.ID] = entry
	r.mu.Unlock()

	if err := cl.conn.Connect(ctx); err != nil {
		r.logger.Error("connect failed", "config", cfg.ID, "uri", cl.conn.URI(), "error", err)
	}
	r.logger.Info("protocol configuration linked", "config", cfg.ID, "uri", cl.conn.URI())
	return nil
}

func (r *Runtime) newClient(key string, cfg ProtocolConfiguration) (*client, error) {
	cdc, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, cfg.ID, err)
	}
	conn, err := r.dial(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, cfg.ID, err)
	}
	if l, ok := conn.(interface{ SetLogger(transport.Logger) }); ok {
		l.SetLogger(r.logger)
	}

	cl := &client{
		key:     key,
		conn:    conn,
		configs: make(map[string]struct{}),
	}
	cl.correlator = NewCorrelator(key, conn, cdc, r.sched, r.logger, r.tracer)
	cl.correlator.SetUnsolicitedHandler(func(msg string) { r.onUnsolicited(cl, msg) })
	cl.removeStatus = conn.AddStatusConsumer(func(s transport.Status) { r.onStatus(cl, s) })
	return cl, nil
}

// UnlinkProtocolConfiguration unlinks every attribute bound to id, then
// releases its connection. The connection is disconnected when no other
// configuration shares it.
func (r *Runtime) UnlinkProtocolConfiguration(ctx context.Context, id string) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	r.unlinkConfigurationLocked(ctx, id)
}

func (r *Runtime) unlinkConfigurationLocked(ctx context.Context, id string) {
	r.mu.RLock()
	entry, ok := r.configs[id]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("unlink of unknown protocol configuration ignored", "config", id)
		return
	}

	for _, link := range r.registry.ByConfiguration(id) {
		r.unlinkLocked(ctx, link)
	}

	cl := entry.client
	if cl == nil {
		r.mu.Lock()
		delete(r.configs, id)
		r.mu.Unlock()
		r.logger.Info("protocol configuration unlinked", "config", id)
		return
	}

	r.mu.Lock()
	last := len(cl.configs) == 1
	if last {
		delete(r.clients, cl.key)
	}
	r.mu.Unlock()

	if last {
		cl.correlator.Close()
		if err := cl.conn.Disconnect(); err != nil {
			r.logger.Warn("disconnect failed", "config", id, "error", err)
		}
		cl.removeStatus()
	} else {
		r.sink.ConnectionStatusChanged(id, transport.StatusDisconnected)
	}

	r.mu.Lock()
	delete(cl.configs, id)
	delete(r.configs, id)
	r.mu.Unlock()

	r.logger.Info("protocol configuration unlinked", "config", id, "connection_released", last)
}

// LinkAttribute binds ref to the configuration configID. On success the
// link is LINKED: writes are accepted (unless read-only) and polling, if
// configured, has started. Invalid parameters return ErrConfiguration
// and leave nothing registered. Linking an already linked ref replaces
// the existing link.
func (r *Runtime) LinkAttribute(ctx context.Context, ref AttributeRef, configID string, meta LinkMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.isClosed() {
		return ErrClosed
	}

	meta = cloneMeta(meta)

	r.mu.RLock()
	entry := r.configs[configID]
	r.mu.RUnlock()

	var cfg ProtocolConfiguration
	if entry != nil {
		cfg = entry.cfg
	}

	link := newAttributeLink(ref, configID, meta, resolvePolicy(cfg, meta), r.logger)
	if err := link.transition(ctx, eventLink); err != nil {
		return fmt.Errorf("protocol: link %s: %w", ref, err)
	}

	if err := r.validateLink(ref, configID, entry, meta); err != nil {
		//nolint:errcheck // LINKING -> UNLINKED is always valid here
		link.transition(ctx, eventAbort)
		r.logger.Warn("attribute link rejected", "attribute", ref.String(), "config", configID, "error", err)
		return err
	}

	if existing, ok := r.registry.Get(ref); ok {
		r.logger.Info("attribute already linked, replacing", "attribute", ref.String(), "old_config", existing.ConfigID)
		r.unlinkLocked(ctx, existing)
	}

	link.client = entry.client
	if !meta.ReadOnly {
		link.write = r.writeConsumer(link, cfg.Device)
	}
	link.linkedAt = time.Now()
	r.registry.Insert(link)

	if meta.PollingInterval > 0 {
		r.startPolling(link)
	}

	if err := link.transition(ctx, eventLinked); err != nil {
		return fmt.Errorf("protocol: link %s: %w", ref, err)
	}

	r.logger.Info("attribute linked",
		"attribute", ref.String(),
		"config", configID,
		"read_only", meta.ReadOnly,
		"polling_ms", meta.PollingInterval.Milliseconds(),
		"timeout_ms", link.Policy.ResponseTimeout.Milliseconds(),
		"retries", link.Policy.Retries,
	)
	return nil
}

func (r *Runtime) validateLink(ref AttributeRef, configID string, entry *configEntry, meta LinkMeta) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: unknown protocol configuration %q", ErrConfiguration, configID)
	}
	if !entry.cfg.Enabled || entry.client == nil {
		return fmt.Errorf("%w: protocol configuration %q is disabled", ErrConfiguration, configID)
	}
	return validateMeta(meta)
}

// UnlinkAttribute removes the link for ref: polling stops, any pending
// exchange is abandoned and no further attribute updates are emitted for
// it. Unknown refs are ignored.
func (r *Runtime) UnlinkAttribute(ctx context.Context, ref AttributeRef) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	link, ok := r.registry.Get(ref)
	if !ok {
		r.logger.Debug("unlink of unlinked attribute ignored", "attribute", ref.String())
		return
	}
	r.unlinkLocked(ctx, link)
}

func (r *Runtime) unlinkLocked(ctx context.Context, link *AttributeLink) {
	if !r.registry.RemoveIf(link) {
		return
	}
	if err := link.transition(ctx, eventUnlink); err != nil {
		r.logger.Debug("unexpected link state on unlink", "attribute", link.Ref.String(), "error", err)
	}

	link.detach()
	link.stopPolling()
	if link.client != nil {
		link.client.correlator.Cancel(link.Ref)
	}

	r.mu.RLock()
	entry := r.configs[link.ConfigID]
	r.mu.RUnlock()
	if entry != nil && entry.cfg.Device != nil {
		entry.cfg.Device.Forget(link.Ref)
	}

	if err := link.transition(ctx, eventUnlinked); err != nil {
		r.logger.Debug("unexpected link state on unlink", "attribute", link.Ref.String(), "error", err)
	}
	r.logger.Info("attribute unlinked", "attribute", link.Ref.String(), "config", link.ConfigID)
}

// WriteAttribute sends value to the device linked to ref. Unlinked and
// read-only attributes are rejected with ErrNotLinked and ErrReadOnly
// without transmitting anything; callers treat these as expected.
// Transport and encoding failures are returned as-is.
func (r *Runtime) WriteAttribute(_ context.Context, ref AttributeRef, value any) error {
	link, ok := r.registry.Get(ref)
	if !ok {
		r.writesRejected.Add(1)
		r.logger.Info("request to write unlinked attribute, ignoring", "attribute", ref.String())
		return fmt.Errorf("%w: %s", ErrNotLinked, ref)
	}
	if !link.Writable() {
		r.writesRejected.Add(1)
		r.logger.Info("request to write read-only attribute, ignoring", "attribute", ref.String())
		return fmt.Errorf("%w: %s", ErrReadOnly, ref)
	}

	var err error
	if !link.deliver(func() { err = link.write(value) }) {
		r.writesRejected.Add(1)
		r.logger.Info("request to write unlinked attribute, ignoring", "attribute", ref.String())
		return fmt.Errorf("%w: %s", ErrNotLinked, ref)
	}
	if err != nil {
		r.logger.Warn("attribute write failed", "attribute", ref.String(), "error", err)
		return err
	}
	r.writes.Add(1)

	// The written value becomes the attribute's state.
	link.deliver(func() { r.emit(ref, value) })
	return nil
}

// writeConsumer builds the write path of a writable link. A write is an
// exchange like a poll: it replaces the link's pending exchange and is
// retransmitted on timeout, but its response is not an attribute value.
func (r *Runtime) writeConsumer(link *AttributeLink, device DeviceEncoder) func(value any) error {
	send := func(msg string) error {
		return link.client.correlator.Send(link.Ref, msg, link.Policy, link.matcher, func(resp string, err error) {
			r.onWriteResponse(link, resp, err)
		})
	}
	return func(value any) error {
		if device != nil {
			return device.EncodeWrite(link.Ref, link.Meta, value, send)
		}
		return send(outboundMessage(link.Meta, value))
	}
}

// onWriteResponse logs the outcome of a write exchange and drops it.
func (r *Runtime) onWriteResponse(link *AttributeLink, resp string, err error) {
	switch {
	case err == nil:
		r.logger.Debug("write acknowledged", "attribute", link.Ref.String(), "response", resp)
	case errors.Is(err, ErrTimeout):
		r.logger.Warn("write not acknowledged", "attribute", link.Ref.String(), "error", err)
	default:
		r.logger.Warn("write retransmission failed", "attribute", link.Ref.String(), "error", err)
	}
}

// onUnsolicited routes a message no exchange consumed to every link on
// the client whose message predicate accepts it.
func (r *Runtime) onUnsolicited(cl *client, msg string) {
	r.mu.RLock()
	ids := make([]string, 0, len(cl.configs))
	for id := range cl.configs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		for _, link := range r.registry.ByConfiguration(id) {
			if link.matcher == nil || !link.matcher(msg) {
				continue
			}
			value := inboundValue(link.Meta, msg)
			link.deliver(func() { r.emit(link.Ref, value) })
		}
	}
}

// onStatus broadcasts a connection transition to every configuration on
// the client. Runs on the connection's dispatcher goroutine.
func (r *Runtime) onStatus(cl *client, s transport.Status) {
	r.mu.RLock()
	ids := make([]string, 0, len(cl.configs))
	for id := range cl.configs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	r.logger.Info("connection status changed", "uri", cl.conn.URI(), "status", s.String(), "configs", ids)
	for _, id := range ids {
		r.sink.ConnectionStatusChanged(id, s)
	}
}

func (r *Runtime) emit(ref AttributeRef, value any) {
	r.updates.Add(1)
	r.sink.AttributeUpdated(ref, value)
}

// Links returns a snapshot of all links.
func (r *Runtime) Links() []LinkInfo {
	return r.registry.Snapshot()
}

// Link returns the snapshot of one link.
func (r *Runtime) Link(ref AttributeRef) (LinkInfo, bool) {
	link, ok := r.registry.Get(ref)
	if !ok {
		return LinkInfo{}, false
	}
	return link.info(), true
}

// ConnectionStatus returns the status of a configuration's connection.
// Disabled and unknown configurations report StatusUnknown.
func (r *Runtime) ConnectionStatus(configID string) transport.Status {
	r.mu.RLock()
	entry := r.configs[configID]
	r.mu.RUnlock()
	if entry == nil || entry.client == nil {
		return transport.StatusUnknown
	}
	return entry.client.conn.Status()
}

// Configurations returns a snapshot of linked configurations sorted by ID.
func (r *Runtime) Configurations() []ConfigurationInfo {
	r.mu.RLock()
	entries := make([]*configEntry, 0, len(r.configs))
	for _, e := range r.configs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]ConfigurationInfo, 0, len(entries))
	for _, e := range entries {
		info := ConfigurationInfo{
			ID:      e.cfg.ID,
			Enabled: e.cfg.Enabled,
			URI:     e.cfg.Transport.URI(),
			Status:  transport.StatusUnknown,
			Links:   len(r.registry.ByConfiguration(e.cfg.ID)),
		}
		if e.client != nil {
			info.Status = e.client.conn.Status()
			info.Exchanges = e.client.correlator.Stats()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns runtime counters.
func (r *Runtime) Stats() RuntimeStats {
	r.mu.RLock()
	stats := RuntimeStats{
		Configurations: len(r.configs),
		Connections:    len(r.clients),
	}
	correlators := make([]*Correlator, 0, len(r.clients))
	for _, cl := range r.clients {
		correlators = append(correlators, cl.correlator)
	}
	r.mu.RUnlock()

	for _, c := range correlators {
		cs := c.Stats()
		stats.Timeouts += cs.Timeouts
		stats.Retries += cs.Retries
	}
	stats.Links = r.registry.Len()
	stats.Polls = r.polls.Load()
	stats.Writes = r.writes.Load()
	stats.WritesRejected = r.writesRejected.Load()
	stats.Updates = r.updates.Load()
	stats.LateDropped = r.lateDropped.Load()
	return stats
}

// HealthCheck reports an error once the runtime is closed or when an
// enabled configuration's connection is in ERROR.
func (r *Runtime) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	for _, c := range r.Configurations() {
		if c.Enabled && c.Status == transport.StatusError {
			return fmt.Errorf("protocol: configuration %s connection in %s", c.ID, c.Status)
		}
	}
	return nil
}

// Close unlinks every attribute and configuration, disconnects all
// connections and stops the scheduler. Safe to call multiple times.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.lifecycleMu.Lock()
		defer r.lifecycleMu.Unlock()

		r.mu.Lock()
		r.closed = true
		ids := make([]string, 0, len(r.configs))
		for id := range r.configs {
			ids = append(ids, id)
		}
		r.mu.Unlock()

		ctx := context.Background()
		for _, id := range ids {
			r.unlinkConfigurationLocked(ctx, id)
		}
		r.sched.Close()
		r.logger.Info("protocol runtime closed")
	})
	return nil
}

func (r *Runtime) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// cloneMeta copies the mutable parts of meta so compiled matchers and
// filters are private to the link.
func cloneMeta(meta LinkMeta) LinkMeta {
	if meta.MessageMatch != nil {
		p := *meta.MessageMatch
		meta.MessageMatch = &p
	}
	if meta.MessageMatchFilters != nil {
		meta.MessageMatchFilters = append([]ValueFilter(nil), meta.MessageMatchFilters...)
	}
	if meta.ValueFilters != nil {
		meta.ValueFilters = append([]ValueFilter(nil), meta.ValueFilters...)
	}
	return meta
}
