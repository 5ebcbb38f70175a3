package simdev

import (
	"fmt"
	"strconv"
	"strings"

	senml "github.com/farshidtz/senml/v2"

	"leshan2mqtt/lwm2m"
)

const (
	deviceInstancePath = "/3/0"
	lightInstancePath  = "/3311/0"
	switchInstancePath = "/3342/0"
)

const (
	deviceManufacturer = "simdev"
	deviceFirmware     = "1.0.0"
	deviceHardware     = "rev1"
)

func resourceName(id lwm2m.ResourceID) string {
	return strconv.Itoa(int(id))
}

func stringRecord(id lwm2m.ResourceID, value string) senml.Record {
	return senml.Record{Name: resourceName(id), StringValue: value}
}

func boolRecord(id lwm2m.ResourceID, value bool) senml.Record {
	v := value
	return senml.Record{Name: resourceName(id), BoolValue: &v}
}

func intRecord(id lwm2m.ResourceID, value int) senml.Record {
	v := float64(value)
	return senml.Record{Name: resourceName(id), Value: &v}
}

// instancePack builds the SenML pack for reading a whole object instance.
func (d *Device) instancePack(path string) (senml.Pack, bool) {
	s := d.snapshot()

	var pack senml.Pack
	switch path {
	case deviceInstancePath:
		pack = senml.Pack{
			stringRecord(lwm2m.DeviceManufacturer, deviceManufacturer),
			stringRecord(lwm2m.DeviceSerialNumber, d.cfg.Endpoint),
			stringRecord(lwm2m.DeviceFirmwareVersion, deviceFirmware),
			stringRecord(lwm2m.DeviceHardwareVersion, deviceHardware),
		}
	case lightInstancePath:
		pack = senml.Pack{
			boolRecord(lwm2m.LightOnOff, s.lightOn),
			intRecord(lwm2m.LightDimmer, s.dimmer),
			stringRecord(lwm2m.LightApplicationType, d.cfg.LightName),
		}
	case switchInstancePath:
		pack = senml.Pack{
			boolRecord(lwm2m.SwitchDigitalInputState, s.switchOn),
			intRecord(lwm2m.SwitchDigitalInputCounter, s.switchCounter),
			stringRecord(lwm2m.SwitchApplicationType, d.cfg.SwitchName),
		}
	default:
		return nil, false
	}

	pack[0].BaseName = path + "/"
	return pack, true
}

// resourcePack builds the SenML pack for reading a single resource.
func (d *Device) resourcePack(instancePath string, resource lwm2m.ResourceID) (senml.Pack, bool) {
	pack, ok := d.instancePack(instancePath)
	if !ok {
		return nil, false
	}

	name := resourceName(resource)
	for _, record := range pack {
		if record.Name == name {
			record.BaseName = instancePath + "/"
			return senml.Pack{record}, true
		}
	}
	return nil, false
}

// resourceWrites indexes the records of one write request by resource id.
type resourceWrites map[lwm2m.ResourceID]senml.Record

func decodeWrites(pack senml.Pack) (resourceWrites, error) {
	writes := make(resourceWrites, len(pack))

	base := ""
	for _, record := range pack {
		if record.BaseName != "" {
			base = record.BaseName
		}
		name := base + record.Name
		segments := strings.Split(strings.Trim(name, "/"), "/")
		id, err := strconv.ParseUint(segments[len(segments)-1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("malformed resource name %q", name)
		}
		writes[lwm2m.ResourceID(id)] = record
	}
	return writes, nil
}

func (w resourceWrites) boolValue(id lwm2m.ResourceID) (bool, bool) {
	record, ok := w[id]
	if !ok {
		return false, false
	}
	if record.BoolValue != nil {
		return *record.BoolValue, true
	}
	// Some writers encode booleans as numbers or strings.
	if record.Value != nil {
		return *record.Value != 0, true
	}
	if record.StringValue != "" {
		if on, err := strconv.ParseBool(record.StringValue); err == nil {
			return on, true
		}
	}
	return false, false
}

func (w resourceWrites) intValue(id lwm2m.ResourceID) (int, bool) {
	record, ok := w[id]
	if !ok {
		return 0, false
	}
	if record.Value != nil {
		return int(*record.Value), true
	}
	if record.StringValue != "" {
		if v, err := strconv.Atoi(record.StringValue); err == nil {
			return v, true
		}
	}
	return 0, false
}
