package homeassistant

// DefaultBrightnessScale is Home Assistant's native brightness range.
const DefaultBrightnessScale = 255

// LightConfiguration represents a Home Assistant light, as used during light
// registration over MQTT discovery. Uses the json schema so state and
// brightness travel in a single payload.
type LightConfiguration struct {
	ConfigTopic string `json:"-"`

	Name             string         `json:"name"`
	UniqueId         string         `json:"unique_id"`
	CommandTopic     string         `json:"command_topic"`
	StateTopic       string         `json:"state_topic"`
	Schema           string         `json:"schema"`
	Brightness       bool           `json:"brightness"`
	BrightnessScale  int            `json:"brightness_scale,omitempty"`
	Icon             string         `json:"icon,omitempty"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Device           *Device        `json:"device,omitempty"`
}

func NewLightConfiguration(topics Topics, endpoint string, name string, uniqueId string, brightnessScale int, device *Device) *LightConfiguration {
	configuration := &LightConfiguration{
		ConfigTopic:      topics.Config(ComponentLight, uniqueId),
		Name:             name,
		UniqueId:         uniqueId,
		CommandTopic:     topics.Command(uniqueId),
		StateTopic:       topics.State(uniqueId),
		Schema:           "json",
		Brightness:       true,
		Icon:             "mdi:lightbulb-variant-outline",
		Availability:     topics.availability(endpoint),
		AvailabilityMode: "all",
		Device:           device,
	}

	// The default scale is implicit on the Home Assistant side.
	if brightnessScale != DefaultBrightnessScale {
		configuration.BrightnessScale = brightnessScale
	}

	return configuration
}
