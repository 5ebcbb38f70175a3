package bridge

import (
	"fmt"

	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
	"leshan2mqtt/lwm2m"
)

// entity is one Home Assistant entity bound to an object instance on a
// device.
type entity struct {
	endpoint  string
	instance  leshan.ObjectInstance
	component string
	name      string
	uniqueID  string
	device    *homeassistant.Device
}

// entityState is the bridged state of an entity. Dimmer levels stay in the
// device's percent domain here; scaling to Home Assistant brightness happens
// only at the MQTT boundary.
type entityState struct {
	on     bool
	dimmer int
}

// entityStatus tracks the last known state, used to publish only on changes.
type entityStatus struct {
	state entityState
	known bool
}

func uniqueID(endpoint string, instance leshan.ObjectInstance) string {
	return fmt.Sprintf("%v_%v_%v", endpoint, instance.ObjectID, instance.InstanceID)
}

func componentFor(object lwm2m.ObjectID) string {
	switch object {
	case lwm2m.LightControl:
		return homeassistant.ComponentLight
	case lwm2m.OnOffSwitch:
		return homeassistant.ComponentBinarySensor
	}
	return ""
}

// fallbackName names an entity when its application type resource is unset
// or unreadable.
func fallbackName(instance leshan.ObjectInstance) string {
	return fmt.Sprintf("%v %v", lwm2m.ObjectName(instance.ObjectID), instance.InstanceID)
}

// EntityInfo is a read-only snapshot of a bridged entity, served by the
// status API.
type EntityInfo struct {
	UniqueID   string `json:"unique_id"`
	Endpoint   string `json:"endpoint"`
	Component  string `json:"component"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Available  bool   `json:"available"`
	On         bool   `json:"on"`
	Brightness int    `json:"brightness,omitempty"`
}
