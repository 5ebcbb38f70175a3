package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
	"leshan2mqtt/lwm2m"
)

func TestCommandWritesOff(t *testing.T) {
	writes := commandWrites(&homeassistant.LightState{State: homeassistant.PayloadOff}, 255, 60)

	// Off leaves the dimmer untouched so the level survives for the next on.
	require.Len(t, writes, 1)
	assert.Equal(t, leshan.Boolean(lwm2m.LightOnOff, false), writes[0])
}

func TestCommandWritesOnWithBrightness(t *testing.T) {
	command := &homeassistant.LightState{State: homeassistant.PayloadOn, Brightness: 153}

	writes := commandWrites(command, 255, 20)

	require.Len(t, writes, 2)
	assert.Equal(t, leshan.Boolean(lwm2m.LightOnOff, true), writes[0])
	assert.Equal(t, leshan.Integer(lwm2m.LightDimmer, 60), writes[1])
}

func TestCommandWritesBareOnRestoresLastDimmer(t *testing.T) {
	command := &homeassistant.LightState{State: homeassistant.PayloadOn}

	writes := commandWrites(command, 255, 60)

	require.Len(t, writes, 2)
	assert.Equal(t, leshan.Boolean(lwm2m.LightOnOff, true), writes[0])
	assert.Equal(t, leshan.Integer(lwm2m.LightDimmer, 60), writes[1])
}

func TestCommandWritesBareOnWithoutHistory(t *testing.T) {
	command := &homeassistant.LightState{State: homeassistant.PayloadOn}

	writes := commandWrites(command, 255, 0)

	require.Len(t, writes, 1)
	assert.Equal(t, leshan.Boolean(lwm2m.LightOnOff, true), writes[0])
}

func TestCommandWritesClampsBrightness(t *testing.T) {
	command := &homeassistant.LightState{State: homeassistant.PayloadOn, Brightness: 400}

	writes := commandWrites(command, 255, 0)

	require.Len(t, writes, 2)
	assert.Equal(t, leshan.Integer(lwm2m.LightDimmer, 100), writes[1])
}

func TestCommandWritesMinimumBrightnessStaysLit(t *testing.T) {
	command := &homeassistant.LightState{State: homeassistant.PayloadOn, Brightness: 1}

	writes := commandWrites(command, 255, 0)

	require.Len(t, writes, 2)
	assert.Equal(t, leshan.Integer(lwm2m.LightDimmer, 1), writes[1])
}

// A published state echoed back as a command must write the dimmer level the
// state was derived from, otherwise every Home Assistant scene recall would
// drift the light.
func TestStateCommandRoundTrip(t *testing.T) {
	for _, scale := range []int{255, 100} {
		for dimmer := 1; dimmer <= lwm2m.DimmerMax; dimmer++ {
			payload, err := marshalLightState(entityState{on: true, dimmer: dimmer}, scale)
			require.NoError(t, err)

			command := &homeassistant.LightState{}
			require.NoError(t, json.Unmarshal(payload, command))

			writes := commandWrites(command, scale, 0)
			require.Len(t, writes, 2, "scale %v dimmer %v", scale, dimmer)
			level, ok := writes[1].Int()
			require.True(t, ok)
			assert.Equal(t, dimmer, level, "scale %v dimmer %v", scale, dimmer)
		}
	}
}
