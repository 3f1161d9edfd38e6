package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the agent.
const (
	MeasurementAttribute  = "attribute_value"
	MeasurementConnection = "connection_status"
	MeasurementRuntime    = "agent_runtime"
)

// WriteAttributeValue records an attribute update.
//
// InfluxDB requires a field to keep one type per measurement, so the value
// lands in a field named after its kind:
//
//	numbers -> value (float)
//	bools   -> state (bool)
//	strings -> text  (string)
//	nil     -> cleared=true
//
// Any other type is stored as text using its fmt representation.
func (c *Client) WriteAttributeValue(assetID, attribute string, value any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementAttribute,
		map[string]string{
			"asset_id":  assetID,
			"attribute": attribute,
		},
		attributeFields(value),
		ts,
	))
}

// WriteConnectionStatus records a connection status transition of one
// protocol configuration.
func (c *Client) WriteConnectionStatus(configID, status string, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"configuration": configID,
		},
		map[string]interface{}{
			"status":    status,
			"connected": status == "CONNECTED",
		},
		ts,
	))
}

// WriteRuntimeStats records a snapshot of runtime counters.
//
// Example:
//
//	client.WriteRuntimeStats("agent-001", map[string]interface{}{"links": 12, "timeouts": 3})
func (c *Client) WriteRuntimeStats(agentID string, counters map[string]interface{}) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementRuntime,
		map[string]string{"agent_id": agentID},
		counters,
		time.Now(),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func attributeFields(value any) map[string]interface{} {
	switch v := value.(type) {
	case nil:
		return map[string]interface{}{"cleared": true}
	case bool:
		return map[string]interface{}{"state": v}
	case string:
		return map[string]interface{}{"text": v}
	case float64:
		return map[string]interface{}{"value": v}
	case float32:
		return map[string]interface{}{"value": float64(v)}
	case int:
		return map[string]interface{}{"value": float64(v)}
	case int64:
		return map[string]interface{}{"value": float64(v)}
	case int32:
		return map[string]interface{}{"value": float64(v)}
	case uint8:
		return map[string]interface{}{"value": float64(v)}
	case uint64:
		return map[string]interface{}{"value": float64(v)}
	default:
		return map[string]interface{}{"text": fmt.Sprint(v)}
	}
}
