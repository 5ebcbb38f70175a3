package homeassistant

// BinarySensorConfiguration represents a Home Assistant binary sensor, as
// used during sensor registration over MQTT discovery.
type BinarySensorConfiguration struct {
	ConfigTopic string `json:"-"`

	Name             string         `json:"name"`
	UniqueId         string         `json:"unique_id"`
	StateTopic       string         `json:"state_topic"`
	PayloadOn        string         `json:"payload_on"`
	PayloadOff       string         `json:"payload_off"`
	Icon             string         `json:"icon,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Device           *Device        `json:"device,omitempty"`
}

func NewBinarySensorConfiguration(topics Topics, endpoint string, name string, uniqueId string, device *Device) *BinarySensorConfiguration {
	return &BinarySensorConfiguration{
		ConfigTopic:      topics.Config(ComponentBinarySensor, uniqueId),
		Name:             name,
		UniqueId:         uniqueId,
		StateTopic:       topics.State(uniqueId),
		PayloadOn:        PayloadOn,
		PayloadOff:       PayloadOff,
		Icon:             "mdi:light-switch",
		Availability:     topics.availability(endpoint),
		AvailabilityMode: "all",
		Device:           device,
	}
}

// NewBridgeConfiguration registers the bridge itself: a connectivity sensor
// fed straight from the bridge availability topic.
func NewBridgeConfiguration(topics Topics) *BinarySensorConfiguration {
	uniqueId := topics.Prefix + "_bridge"
	return &BinarySensorConfiguration{
		ConfigTopic:    topics.Config(ComponentBinarySensor, uniqueId),
		Name:           "Bridge",
		UniqueId:       uniqueId,
		StateTopic:     topics.BridgeAvailability(),
		PayloadOn:      PayloadOnline,
		PayloadOff:     PayloadOffline,
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		Device:         BridgeDevice(topics.Prefix),
	}
}
