package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the base of every topic the agent publishes or subscribes to.
//
// Topic tree:
//
//	graylogic/agent/state/{asset}/{attribute}   retained attribute values
//	graylogic/agent/status/{configuration}      retained connection status
//	graylogic/agent/write/{asset}/{attribute}   inbound write commands
//	graylogic/agent/health                      retained health report and LWT
const TopicPrefix = "graylogic/agent"

// Topics provides builders for agent MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.AttributeState("projector-1", "power")
//	// Returns: "graylogic/agent/state/projector-1/power"
type Topics struct{}

// AttributeState returns the topic carrying the value of one attribute.
//
// Example: graylogic/agent/state/projector-1/power
func (Topics) AttributeState(assetID, attribute string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, assetID, attribute)
}

// ConfigurationStatus returns the topic carrying the connection status of
// one protocol configuration.
//
// Example: graylogic/agent/status/projector-tcp
func (Topics) ConfigurationStatus(configID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, configID)
}

// Write returns the command topic for writing one attribute.
//
// Example: graylogic/agent/write/stage-light/dim
func (Topics) Write(assetID, attribute string) string {
	return fmt.Sprintf("%s/write/%s/%s", TopicPrefix, assetID, attribute)
}

// Health returns the agent health topic. The broker publishes the LWT here.
//
// Example: graylogic/agent/health
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// AllWrites returns a pattern matching every write command.
//
// Pattern: graylogic/agent/write/+/+
func (Topics) AllWrites() string {
	return TopicPrefix + "/write/+/+"
}

// AllStates returns a pattern matching every attribute value.
//
// Pattern: graylogic/agent/state/+/+
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+/+"
}

// AllTopics returns a pattern matching all agent topics.
// Use with caution - this receives ALL agent traffic.
//
// Pattern: graylogic/agent/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseWrite extracts the asset and attribute from a write command topic.
func (Topics) ParseWrite(topic string) (assetID, attribute string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/write/")
	if !found {
		return "", "", false
	}
	assetID, attribute, found = strings.Cut(rest, "/")
	if !found || assetID == "" || attribute == "" || strings.Contains(attribute, "/") {
		return "", "", false
	}
	return assetID, attribute, true
}
