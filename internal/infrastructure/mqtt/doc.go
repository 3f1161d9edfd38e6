// Package mqtt provides MQTT client connectivity for the Gray Logic agent.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The agent publishes attribute updates, connection status and health to
// the broker and receives write commands from it. Device traffic never
// flows through this client; MQTT-attached devices use their own
// transport.MQTTConnection.
//
//	Protocol Runtime → events.MQTTPublisher → Broker → Gray Logic Core
//	Broker → graylogic/agent/write/+/+ → Protocol Runtime
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.AttributeState("projector-1", "power"), update, true)
package mqtt
