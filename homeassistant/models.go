// Package homeassistant holds the MQTT payloads and topic layout used to
// integrate with Home Assistant through MQTT discovery.
package homeassistant

// State payloads understood by Home Assistant.
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// LightState represents light state on Home Assistant. Either as current
// state in the state topic, or requested state in the command topic.
type LightState struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
}

// On reports whether the payload asks for, or reports, a lit light.
func (s *LightState) On() bool {
	return s.State == PayloadOn
}
