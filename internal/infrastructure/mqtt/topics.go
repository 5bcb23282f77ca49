package mqtt

import (
	"fmt"
	"strings"
)

// Availability payloads understood by Home Assistant.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topic names under a state prefix
// such as "ebus/thelia".
//
//	topics := mqtt.NewTopics("ebus/thelia")
//	topics.State("flow_temperature") // "ebus/thelia/flow_temperature"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.TrimRight(prefix, "/")}
}

// Prefix returns the state prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained availability topic, also used as the LWT.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Health carries periodic bridge health JSON.
func (t Topics) Health() string {
	return t.prefix + "/health"
}

// State returns the state topic of one sensor.
func (t Topics) State(sensor string) string {
	return fmt.Sprintf("%s/%s", t.prefix, sensor)
}

// Alerts carries one JSON event per raised alert.
func (t Topics) Alerts() string {
	return t.prefix + "/alerts"
}

// ActiveAlerts is the retained topic holding the current active alert set.
func (t Topics) ActiveAlerts() string {
	return t.prefix + "/alerts/active"
}

// Message returns the topic for decoded messages of the given name.
func (t Topics) Message(name string) string {
	return fmt.Sprintf("%s/messages/%s", t.prefix, name)
}

// Discovery returns a Home Assistant discovery config topic:
// {discoveryPrefix}/{component}/{nodeID}/{objectID}/config.
// Dots in objectID are replaced with underscores.
func Discovery(discoveryPrefix, component, nodeID, objectID string) string {
	objectID = strings.ReplaceAll(objectID, ".", "_")
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, nodeID, objectID)
}
