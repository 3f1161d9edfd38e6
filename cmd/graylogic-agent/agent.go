package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-agent/internal/api"
	"github.com/nerrad567/gray-logic-agent/internal/events"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/trace"
	"github.com/nerrad567/gray-logic-agent/migrations"
)

// pruneInterval is how often old history rows are removed.
const pruneInterval = time.Hour

type closer struct {
	name string
	fn   func() error
}

// agent owns the running components. Closers run in reverse registration
// order, so every component stops before the ones it depends on.
type agent struct {
	cfg *config.Config
	log *logging.Logger

	db       *database.DB
	history  *events.HistoryStore
	influx   *influxdb.Client
	mqtt     *mqtt.Client
	runtime  *protocol.Runtime
	hub      *api.Hub
	server   *api.Server
	reporter *events.HealthReporter

	group   *errgroup.Group
	closers []closer
}

func (a *agent) onShutdown(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// shutdown stops every started component. Safe to call once start failed
// half way.
func (a *agent) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		a.log.Info("stopping " + c.name)
		if err := c.fn(); err != nil {
			a.log.Error("error stopping "+c.name, "error", err)
		}
	}
	a.closers = nil
}

// wait blocks until the background loops have returned.
func (a *agent) wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

func (a *agent) start(ctx context.Context) error {
	if err := a.openDatabase(ctx); err != nil {
		return err
	}
	if err := a.connectInfluxDB(); err != nil {
		return err
	}
	if err := a.connectMQTT(); err != nil {
		return err
	}
	if err := a.startRuntime(); err != nil {
		return err
	}
	if err := a.linkConfigured(ctx); err != nil {
		return err
	}
	if err := a.subscribeWrites(); err != nil {
		return err
	}
	if err := a.startAPI(ctx); err != nil {
		return err
	}
	a.startBackground(ctx)
	return nil
}

func (a *agent) openDatabase(ctx context.Context) error {
	if !a.cfg.Database.Enabled {
		a.log.Info("history database disabled")
		return nil
	}

	db, err := database.Open(database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.onShutdown("database", db.Close)

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	a.history = events.NewHistoryStore(db.DB, a.log.Component("history"))
	a.log.Info("database ready", "path", a.cfg.Database.Path)
	return nil
}

func (a *agent) connectInfluxDB() error {
	if !a.cfg.InfluxDB.Enabled {
		a.log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(a.cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		a.log.Error("InfluxDB write error", "error", err)
	})
	a.influx = client
	a.onShutdown("InfluxDB", client.Close)
	a.log.Info("InfluxDB connected",
		"url", a.cfg.InfluxDB.URL,
		"org", a.cfg.InfluxDB.Org,
		"bucket", a.cfg.InfluxDB.Bucket,
	)
	return nil
}

func (a *agent) connectMQTT() error {
	if !a.cfg.MQTT.Enabled {
		a.log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(a.cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(a.log.Component("mqtt"))
	client.SetOnConnect(func() {
		a.log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		a.log.Warn("MQTT disconnected", "error", err)
	})
	a.mqtt = client
	a.onShutdown("MQTT", client.Close)
	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
		"client_id", a.cfg.MQTT.Broker.ClientID,
	)
	return nil
}

// startRuntime builds the event sink chain and the protocol runtime.
func (a *agent) startRuntime() error {
	var sinks []protocol.EventSink

	async := func(name string, sink protocol.EventSink) {
		q := events.NewAsync(name, sink, 0, a.log.Component("events"))
		a.onShutdown(name+" event queue", q.Close)
		sinks = append(sinks, q)
	}
	if a.mqtt != nil {
		async("mqtt", events.NewMQTTPublisher(a.mqtt, a.mqtt.QoS(), a.log.Component("events")))
	}
	if a.history != nil {
		async("history", a.history)
	}
	if a.influx != nil {
		async("metrics", events.NewMetricsSink(a.influx))
	}
	if a.cfg.API.Enabled {
		a.hub = api.NewHub(a.cfg.WebSocket, a.log.Component("websocket"))
		sinks = append(sinks, a.hub)
	}

	opts := protocol.RuntimeOptions{
		Sink:   events.NewFanout(a.log.Component("events"), sinks...),
		Logger: a.log.Component("protocol"),
	}

	if a.cfg.Trace.Enabled {
		rec, err := trace.NewRecorder(a.cfg.Trace.Path)
		if err != nil {
			return fmt.Errorf("opening exchange trace: %w", err)
		}
		a.onShutdown("exchange trace", rec.Close)
		opts.Tracer = rec
		a.log.Info("exchange trace enabled", "path", a.cfg.Trace.Path)
	}

	rt, err := protocol.NewRuntime(opts)
	if err != nil {
		return fmt.Errorf("creating protocol runtime: %w", err)
	}
	a.runtime = rt
	a.onShutdown("protocol runtime", rt.Close)
	return nil
}

// linkConfigured links every configured protocol and attribute. An
// attribute that fails to link stays unlinked and is logged.
func (a *agent) linkConfigured(ctx context.Context) error {
	configs, err := a.cfg.ProtocolConfigurations()
	if err != nil {
		return fmt.Errorf("building protocol configurations: %w", err)
	}
	for _, pc := range configs {
		if err := a.runtime.LinkProtocolConfiguration(ctx, pc); err != nil {
			return fmt.Errorf("linking protocol %s: %w", pc.ID, err)
		}
	}

	linked := 0
	for _, l := range a.cfg.Links {
		ref := l.Ref()
		if err := a.runtime.LinkAttribute(ctx, ref, l.Protocol, l.Meta()); err != nil {
			a.log.Error("failed to link attribute", "attribute", ref.String(), "protocol", l.Protocol, "error", err)
			continue
		}
		linked++
	}
	a.log.Info("configuration linked",
		"protocols", len(configs),
		"links", linked,
		"failed", len(a.cfg.Links)-linked,
	)
	return nil
}

func (a *agent) subscribeWrites() error {
	if a.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.AllWrites()
	if err := a.mqtt.Subscribe(topic, a.mqtt.QoS(), writeHandler(a.runtime, a.log)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	a.log.Info("listening for MQTT writes", "topic", topic)
	return nil
}

func (a *agent) startAPI(ctx context.Context) error {
	if !a.cfg.API.Enabled {
		a.log.Info("API disabled")
		return nil
	}

	deps := api.Deps{
		Config:  a.cfg.API,
		WS:      a.cfg.WebSocket,
		Logger:  a.log.Component("api"),
		Runtime: a.runtime,
		Hub:     a.hub,
		Version: version,
	}
	if a.history != nil {
		deps.History = a.history
	}
	if a.mqtt != nil {
		deps.MQTT = a.mqtt
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.server = server
	a.onShutdown("API server", server.Close)
	return nil
}

// startBackground starts the health reporter and the periodic loops. The
// loops end when ctx is cancelled.
func (a *agent) startBackground(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	if a.mqtt != nil {
		a.reporter = events.NewHealthReporter(events.HealthReporterConfig{
			AgentID:   a.cfg.Agent.ID,
			Version:   version,
			Interval:  a.cfg.GetHealthInterval(),
			Publisher: a.mqtt,
			Source:    a.runtime,
			Logger:    a.log.Component("health"),
		})
		a.reporter.Start(gctx)
		a.onShutdown("health reporter", func() error {
			a.reporter.Stop()
			return nil
		})
	}

	if a.influx != nil {
		g.Go(func() error {
			return every(gctx, a.cfg.GetHealthInterval(), func() {
				a.influx.WriteRuntimeStats(a.cfg.Agent.ID, runtimeCounters(a.runtime.Stats()))
			})
		})
	}

	if a.history != nil && a.cfg.Database.RetentionDays > 0 {
		retention := time.Duration(a.cfg.Database.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return every(gctx, pruneInterval, func() {
				n, err := a.history.Prune(gctx, retention)
				if err != nil {
					if gctx.Err() == nil {
						a.log.Warn("history prune failed", "error", err)
					}
					return
				}
				if n > 0 {
					a.log.Info("history pruned", "rows", n)
				}
			})
		})
	}
}

// every runs fn immediately and then on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// runtimeCounters flattens runtime stats into InfluxDB fields.
func runtimeCounters(s protocol.RuntimeStats) map[string]interface{} {
	return map[string]interface{}{
		"links":           s.Links,
		"configurations":  s.Configurations,
		"connections":     s.Connections,
		"polls":           s.Polls,
		"writes":          s.Writes,
		"writes_rejected": s.WritesRejected,
		"updates":         s.Updates,
		"late_dropped":    s.LateDropped,
		"timeouts":        s.Timeouts,
		"retries":         s.Retries,
	}
}

// attributeWriter is the write path of the runtime.
type attributeWriter interface {
	WriteAttribute(ctx context.Context, ref protocol.AttributeRef, value any) error
}

// writeHandler routes graylogic/agent/write/{asset}/{attribute} messages to
// the runtime. Rejected writes are already logged by the runtime and are
// not reported again.
func writeHandler(w attributeWriter, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		assetID, attribute, ok := mqtt.Topics{}.ParseWrite(topic)
		if !ok {
			log.Warn("ignoring malformed write topic", "topic", topic)
			return nil
		}
		ref := protocol.AttributeRef{AssetID: assetID, Name: attribute}

		err := w.WriteAttribute(context.Background(), ref, decodeWriteValue(payload))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, protocol.ErrNotLinked), errors.Is(err, protocol.ErrReadOnly):
			return nil
		default:
			return fmt.Errorf("writing %s: %w", ref, err)
		}
	}
}

// decodeWriteValue parses a write payload as JSON. A {"value": x} envelope
// is unwrapped; payloads that are not JSON are taken as plain text.
func decodeWriteValue(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return strings.TrimSpace(string(payload))
	}
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}
