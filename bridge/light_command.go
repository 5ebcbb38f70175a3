package bridge

import (
	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
	"leshan2mqtt/lwm2m"
)

// commandWrites converts an incoming light command into the resource writes
// to apply. Brightness is clamped into the configured scale. An OFF command
// writes only the on/off resource and leaves the dimmer untouched; a bare ON
// without brightness restores the last known dimmer level instead of leaving
// the level to chance.
func commandWrites(command *homeassistant.LightState, scale, lastDimmer int) []leshan.ResourceValue {
	if !command.On() {
		return []leshan.ResourceValue{leshan.Boolean(lwm2m.LightOnOff, false)}
	}

	writes := []leshan.ResourceValue{leshan.Boolean(lwm2m.LightOnOff, true)}

	brightness := command.Brightness
	if brightness > scale {
		brightness = scale
	}
	if brightness < 0 {
		brightness = 0
	}

	switch {
	case brightness > 0:
		writes = append(writes, leshan.Integer(lwm2m.LightDimmer, dimmerFromBrightness(brightness, scale)))
	case lastDimmer > 0:
		writes = append(writes, leshan.Integer(lwm2m.LightDimmer, clampDimmer(lastDimmer)))
	}
	return writes
}
