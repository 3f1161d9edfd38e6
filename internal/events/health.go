package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// HealthStatus is the overall state reported in health messages.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

const defaultHealthInterval = 30 * time.Second

// HealthSource provides the runtime snapshot included in health messages.
// *protocol.Runtime satisfies it.
type HealthSource interface {
	Stats() protocol.RuntimeStats
	Configurations() []protocol.ConfigurationInfo
}

// ConfigurationHealth is the per-configuration part of a health message.
type ConfigurationHealth struct {
	ID      string           `json:"id"`
	Enabled bool             `json:"enabled"`
	Status  transport.Status `json:"status"`
	Links   int              `json:"links"`
}

// HealthMessage is published retained on graylogic/agent/health.
type HealthMessage struct {
	AgentID        string                `json:"agent_id"`
	Status         HealthStatus          `json:"status"`
	Reason         string                `json:"reason,omitempty"`
	Version        string                `json:"version"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Timestamp      time.Time             `json:"timestamp"`
	Stats          protocol.RuntimeStats `json:"stats"`
	Configurations []ConfigurationHealth `json:"configurations"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	AgentID string
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	Publisher Publisher
	Source    HealthSource
	Logger    Logger
}

// HealthReporter periodically publishes the agent's health to MQTT.
type HealthReporter struct {
	agentID   string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	source    HealthSource
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		agentID:   cfg.AgentID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publish(HealthStopping, "agent stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "agent starting")
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus is degraded while any enabled configuration is not
// connected.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.source == nil {
		return HealthHealthy, ""
	}
	for _, c := range h.source.Configurations() {
		if c.Enabled && c.Status != transport.StatusConnected {
			return HealthDegraded, fmt.Sprintf("configuration %s is %s", c.ID, c.Status)
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := time.Now()
	msg := HealthMessage{
		AgentID:        h.agentID,
		Status:         status,
		Reason:         reason,
		Version:        h.version,
		UptimeSeconds:  int64(now.Sub(h.startTime).Seconds()),
		Timestamp:      now.UTC(),
		Configurations: []ConfigurationHealth{},
	}
	if h.source != nil {
		msg.Stats = h.source.Stats()
		for _, c := range h.source.Configurations() {
			msg.Configurations = append(msg.Configurations, ConfigurationHealth{
				ID:      c.ID,
				Enabled: c.Enabled,
				Status:  c.Status,
				Links:   c.Links,
			})
		}
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}
