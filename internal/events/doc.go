// Package events delivers the protocol runtime's outbound events to the
// rest of the system.
//
// Every sink implements protocol.EventSink:
//
//	                    ┌──────────────┐
//	Runtime ──► Fanout ─┤ Async(MQTT)  │──► graylogic/agent/state/..., status/...
//	                    │ Async(History)│──► SQLite attribute_history, status_history
//	                    │ Async(Metrics)│──► InfluxDB attribute_value, connection_status
//	                    │ api.Hub       │──► WebSocket clients
//	                    └──────────────┘
//
// The runtime calls sinks on its own goroutines and does not tolerate
// blocking, so sinks that do I/O are wrapped in Async, which queues events
// and drops them (counting) when the queue is full.
//
// HealthReporter is not a sink: it periodically publishes a health
// snapshot of the runtime on graylogic/agent/health.
package events
