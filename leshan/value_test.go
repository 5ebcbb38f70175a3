package leshan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leshan2mqtt/lwm2m"
)

func TestDecodeValueBoolean(t *testing.T) {
	for _, raw := range []string{`true`, `"true"`} {
		value, err := decodeValue(resourceNode{ID: 5850, Type: "BOOLEAN", Value: json.RawMessage(raw)})
		require.NoError(t, err)

		assert.Equal(t, lwm2m.ResourceID(5850), value.ID)
		assert.Equal(t, TypeBoolean, value.Type)
		on, ok := value.Bool()
		assert.True(t, ok)
		assert.True(t, on)
	}
}

func TestDecodeValueBooleanRejectsGarbage(t *testing.T) {
	_, err := decodeValue(resourceNode{ID: 5850, Type: "BOOLEAN", Value: json.RawMessage(`"maybe"`)})
	assert.Error(t, err)
}

func TestDecodeValueInteger(t *testing.T) {
	for _, raw := range []string{`42`, `"42"`} {
		value, err := decodeValue(resourceNode{ID: 5851, Type: "INTEGER", Value: json.RawMessage(raw)})
		require.NoError(t, err)

		assert.Equal(t, TypeInteger, value.Type)
		level, ok := value.Int()
		assert.True(t, ok)
		assert.Equal(t, 42, level)
	}
}

func TestDecodeValueFloat(t *testing.T) {
	value, err := decodeValue(resourceNode{ID: 5700, Type: "FLOAT", Value: json.RawMessage(`"21.5"`)})
	require.NoError(t, err)

	assert.Equal(t, TypeFloat, value.Type)
	assert.Equal(t, 21.5, value.Value)
}

func TestDecodeValueString(t *testing.T) {
	value, err := decodeValue(resourceNode{ID: 5750, Type: "STRING", Value: json.RawMessage(`"Living room"`)})
	require.NoError(t, err)

	text, ok := value.Text()
	assert.True(t, ok)
	assert.Equal(t, "Living room", text)
}

func TestDecodeValueTypeCaseInsensitive(t *testing.T) {
	value, err := decodeValue(resourceNode{ID: 5500, Type: "Boolean", Value: json.RawMessage(`false`)})
	require.NoError(t, err)
	assert.Equal(t, TypeBoolean, value.Type)
}

func TestAccessorsRejectWrongType(t *testing.T) {
	boolean := Boolean(lwm2m.LightOnOff, true)

	_, ok := boolean.Int()
	assert.False(t, ok)
	_, ok = boolean.Text()
	assert.False(t, ok)

	integer := Integer(lwm2m.LightDimmer, 50)
	_, ok = integer.Bool()
	assert.False(t, ok)
}

func TestWriteRequestShape(t *testing.T) {
	request := newWriteRequest(0, []ResourceValue{
		Boolean(lwm2m.LightOnOff, true),
		Integer(lwm2m.LightDimmer, 80),
	})

	encoded, err := json.Marshal(request)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 0,
		"kind": "instance",
		"resources": [
			{"id": 5850, "kind": "singleResource", "type": "boolean", "value": true},
			{"id": 5851, "kind": "singleResource", "type": "integer", "value": 80}
		]
	}`, string(encoded))
}
