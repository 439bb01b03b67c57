package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "tankwatch"

// Topics builds TankWatch topic names under a common prefix.
//
//	topics := mqtt.NewTopics("tankwatch")
//	topics.Event("telemetry-updated") // "tankwatch/events/telemetry-updated"
//	topics.TankEvent("T1", "connection-lost") // "tankwatch/tanks/T1/connection-lost"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for the given prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Status is the retained online/offline topic of the core itself.
func (t Topics) Status() string {
	return t.prefix + "/system/status"
}

// Event is the fleet-wide topic for one UI event type.
func (t Topics) Event(event string) string {
	return t.prefix + "/events/" + event
}

// TankEvent is the per-tank topic for one UI event type.
func (t Topics) TankEvent(tankID, event string) string {
	return t.prefix + "/tanks/" + sanitiseSegment(tankID) + "/" + event
}

// sanitiseSegment keeps MQTT wildcards and separators out of a topic level.
func sanitiseSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
