package homeassistant

// Components in discovery topic paths.
const (
	ComponentLight        = "light"
	ComponentBinarySensor = "binary_sensor"
)

// Device groups entities under a single device in the Home Assistant device
// registry.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
	HwVersion    string   `json:"hw_version,omitempty"`
	// ViaDevice names the bridge device so the registry shows devices as
	// connected through it.
	ViaDevice string `json:"via_device,omitempty"`
}

// BridgeDevice is the registry entry for the bridge itself, the parent every
// bridged device points at through via_device.
func BridgeDevice(prefix string) *Device {
	return &Device{
		Identifiers:  []string{prefix},
		Name:         "Leshan LwM2M bridge",
		Manufacturer: "leshan2mqtt",
		Model:        "Bridge",
	}
}

// Availability points at a topic that decides whether an entity shows as
// available. Payloads default to "online"/"offline" on the Home Assistant
// side, so they are only serialized when set.
type Availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}
