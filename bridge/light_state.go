package bridge

import (
	"encoding/json"
	"fmt"

	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
	"leshan2mqtt/lwm2m"
)

// brightnessFromDimmer converts a dimmer percentage to Home Assistant
// brightness. Rounds up so any lit dimmer level stays visibly lit.
func brightnessFromDimmer(dimmer, scale int) int {
	if dimmer <= 0 {
		return 0
	}
	if dimmer >= lwm2m.DimmerMax {
		return scale
	}
	return (dimmer*scale + lwm2m.DimmerMax - 1) / lwm2m.DimmerMax
}

// dimmerFromBrightness converts Home Assistant brightness to a dimmer
// percentage. At the default scale this is the exact inverse of
// brightnessFromDimmer, so states echoed back as commands write the level
// the device already has.
func dimmerFromBrightness(brightness, scale int) int {
	if brightness <= 0 {
		return 0
	}
	if brightness >= scale {
		return lwm2m.DimmerMax
	}
	if level := (brightness*lwm2m.DimmerMax + scale/2) / scale; level > 0 {
		return level
	}
	// Any nonzero brightness keeps the light lit.
	return 1
}

func clampDimmer(dimmer int) int {
	if dimmer < 0 {
		return 0
	}
	if dimmer > lwm2m.DimmerMax {
		return lwm2m.DimmerMax
	}
	return dimmer
}

// marshalLightState converts an entity state to the MQTT payload published
// for lights.
func marshalLightState(state entityState, scale int) ([]byte, error) {
	payload := &homeassistant.LightState{
		Brightness: brightnessFromDimmer(state.dimmer, scale),
	}
	if state.on {
		payload.State = homeassistant.PayloadOn
	} else {
		payload.State = homeassistant.PayloadOff
	}
	return json.Marshal(payload)
}

// lightStateFromValues extracts on/off and dimmer level from an instance
// read. Lights without a dimmer resource read back at level zero.
func lightStateFromValues(values []leshan.ResourceValue) (entityState, error) {
	var state entityState
	seenOnOff := false
	for _, value := range values {
		switch value.ID {
		case lwm2m.LightOnOff:
			if on, ok := value.Bool(); ok {
				state.on = on
				seenOnOff = true
			}
		case lwm2m.LightDimmer:
			if level, ok := value.Int(); ok {
				state.dimmer = clampDimmer(level)
			}
		}
	}
	if !seenOnOff {
		return state, fmt.Errorf("no usable on/off resource")
	}
	return state, nil
}

// switchStateFromValues extracts the digital input state from an instance
// read.
func switchStateFromValues(values []leshan.ResourceValue) (entityState, error) {
	for _, value := range values {
		if value.ID == lwm2m.SwitchDigitalInputState {
			if on, ok := value.Bool(); ok {
				return entityState{on: on}, nil
			}
		}
	}
	return entityState{}, fmt.Errorf("no usable digital input state resource")
}
