// Package influxdb provides InfluxDB connectivity for the Gray Logic agent.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, point writing, and health monitoring.
//
// # Purpose
//
// The agent records three measurements:
//   - attribute_value: every attribute update, tagged by asset and attribute
//   - connection_status: every connection status transition per configuration
//   - agent_runtime: periodic runtime counters (links, polls, timeouts)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAttributeValue("thermostat-01", "temperature", 21.5, time.Now())
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported through
// the SetOnError callback. Connection and health check errors are returned
// directly.
//
// # Performance
//
// Writes are batched according to batch_size and flush_interval.
package influxdb
