package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	state, err := s.Get("demo-light_3311_0")
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Zero(t, s.LastDimmer("demo-light_3311_0"))
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(EntityState{
		UniqueID: "demo-light_3311_0",
		Endpoint: "demo-light",
		On:       true,
		Dimmer:   60,
	}))

	state, err := s.Get("demo-light_3311_0")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "demo-light", state.Endpoint)
	assert.True(t, state.On)
	assert.Equal(t, 60, state.Dimmer)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(EntityState{UniqueID: "demo-light_3311_0", Endpoint: "demo-light", On: true, Dimmer: 60}))
	require.NoError(t, s.Put(EntityState{UniqueID: "demo-light_3311_0", Endpoint: "demo-light", On: false, Dimmer: 25}))

	state, err := s.Get("demo-light_3311_0")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.On)
	assert.Equal(t, 25, state.Dimmer)
	assert.Equal(t, 25, s.LastDimmer("demo-light_3311_0"))
}

func TestAll(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(EntityState{UniqueID: "demo-light_3311_0", Endpoint: "demo-light", On: true, Dimmer: 60}))
	require.NoError(t, s.Put(EntityState{UniqueID: "demo-switch_3342_0", Endpoint: "demo-switch", On: false}))

	states, err := s.All()
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestClear(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(EntityState{UniqueID: "demo-light_3311_0", Endpoint: "demo-light", On: true, Dimmer: 60}))
	require.NoError(t, s.Clear())

	states, err := s.All()
	require.NoError(t, err)
	assert.Empty(t, states)
}
