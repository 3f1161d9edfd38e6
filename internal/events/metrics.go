package events

import (
	"time"

	"github.com/nerrad567/gray-logic-agent/internal/protocol"
	"github.com/nerrad567/gray-logic-agent/internal/protocol/transport"
)

// MetricsWriter is the subset of the InfluxDB client used by MetricsSink.
// *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteAttributeValue(assetID, attribute string, value any, ts time.Time)
	WriteConnectionStatus(configID, status string, ts time.Time)
}

// MetricsSink records runtime events as time-series points.
type MetricsSink struct {
	w   MetricsWriter
	now func() time.Time
}

var _ protocol.EventSink = (*MetricsSink)(nil)

// NewMetricsSink creates a sink writing through w.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w, now: time.Now}
}

// AttributeUpdated implements protocol.EventSink.
func (m *MetricsSink) AttributeUpdated(ref protocol.AttributeRef, value any) {
	m.w.WriteAttributeValue(ref.AssetID, ref.Name, value, m.now())
}

// ConnectionStatusChanged implements protocol.EventSink.
func (m *MetricsSink) ConnectionStatusChanged(configID string, status transport.Status) {
	m.w.WriteConnectionStatus(configID, status.String(), m.now())
}
