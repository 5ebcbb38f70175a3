// Package lwm2m holds the LwM2M object and resource identifiers the bridge
// understands, plus helpers for the /object/instance/resource path notation.
package lwm2m

import "strconv"

type ObjectID uint16

type InstanceID uint16

type ResourceID uint16

// Objects from the OMA registry handled by the bridge.
const (
	Device       ObjectID = 3
	LightControl ObjectID = 3311
	OnOffSwitch  ObjectID = 3342
)

// Device object (3) resources used for the Home Assistant device registry.
const (
	DeviceManufacturer    ResourceID = 0
	DeviceSerialNumber    ResourceID = 2
	DeviceFirmwareVersion ResourceID = 3
	DeviceHardwareVersion ResourceID = 18
)

// Light control object (3311) resources.
const (
	LightOnOff           ResourceID = 5850
	LightDimmer          ResourceID = 5851
	LightApplicationType ResourceID = 5750
)

// On/off switch object (3342) resources.
const (
	SwitchDigitalInputState   ResourceID = 5500
	SwitchDigitalInputCounter ResourceID = 5501
	SwitchApplicationType     ResourceID = 5750
)

// DimmerMax is the upper bound of the IPSO dimmer resource (percent).
const DimmerMax = 100

var objectNames = map[ObjectID]string{
	Device:       "Device",
	LightControl: "Light Control",
	OnOffSwitch:  "On/Off Switch",
}

// ObjectName returns a human readable name for known objects, used as the
// entity name fallback when a device carries no application type resource.
func ObjectName(id ObjectID) string {
	if name, ok := objectNames[id]; ok {
		return name
	}
	return "Object " + strconv.Itoa(int(id))
}
