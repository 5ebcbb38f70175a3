package homeassistant

import "fmt"

// Topics derives the MQTT topic layout from the configured prefixes. Entity
// topics are keyed by the entity's unique id so topic names survive device
// re-registrations.
type Topics struct {
	// Prefix is the base topic of the bridge itself, e.g. "leshan2mqtt".
	Prefix string
	// DiscoveryPrefix is Home Assistant's discovery prefix, almost always
	// "homeassistant".
	DiscoveryPrefix string
}

// BridgeAvailability is the bridge's own online/offline topic, also used as
// the MQTT last will.
func (t Topics) BridgeAvailability() string {
	return fmt.Sprintf("%v/bridge/availability", t.Prefix)
}

// DeviceAvailability is the per-device online/offline topic.
func (t Topics) DeviceAvailability(endpoint string) string {
	return fmt.Sprintf("%v/%v/availability", t.Prefix, endpoint)
}

// State is the topic an entity's state is published on.
func (t Topics) State(uniqueID string) string {
	return fmt.Sprintf("%v/%v/state", t.Prefix, uniqueID)
}

// Command is the topic an entity's commands arrive on.
func (t Topics) Command(uniqueID string) string {
	return fmt.Sprintf("%v/%v/set", t.Prefix, uniqueID)
}

// Config is the retained discovery topic for an entity.
func (t Topics) Config(component, uniqueID string) string {
	return fmt.Sprintf("%v/%v/%v/config", t.DiscoveryPrefix, component, uniqueID)
}

// availability lists the topics that must all report online for an entity to
// show as available: the bridge itself and the entity's device.
func (t Topics) availability(endpoint string) []Availability {
	return []Availability{
		{Topic: t.BridgeAvailability()},
		{Topic: t.DeviceAvailability(endpoint)},
	}
}
