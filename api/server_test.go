package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leshan2mqtt/bridge"
	"leshan2mqtt/config"
	"leshan2mqtt/leshan"
)

type stubLeshan struct {
	err     error
	clients []leshan.RegisteredClient
}

func (s *stubLeshan) TestServer(context.Context) error {
	return s.err
}

func (s *stubLeshan) Clients(context.Context) ([]leshan.RegisteredClient, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.clients, nil
}

type stubBridge struct {
	infos        []bridge.EntityInfo
	disconnected bool
}

func (s *stubBridge) Entities() []bridge.EntityInfo {
	return s.infos
}

func (s *stubBridge) MQTTConnected() bool {
	return !s.disconnected
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func serve(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	server.router().ServeHTTP(recorder, request)
	return recorder
}

func TestHealthLive(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{}, &stubBridge{}, testLogger())

	recorder := serve(t, server, "/health/live")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status": "ok"}`, recorder.Body.String())
}

func TestHealthReady(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{}, &stubBridge{}, testLogger())

	recorder := serve(t, server, "/health/ready")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status": "ready", "leshan": true, "mqtt": true}`, recorder.Body.String())
}

func TestHealthReadyDegradedLeshan(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{err: errors.New("connection refused")}, &stubBridge{}, testLogger())

	recorder := serve(t, server, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"status": "degraded", "leshan": false, "mqtt": true}`, recorder.Body.String())
}

func TestHealthReadyDegradedMQTT(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{}, &stubBridge{disconnected: true}, testLogger())

	recorder := serve(t, server, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"status": "degraded", "leshan": true, "mqtt": false}`, recorder.Body.String())
}

func TestClients(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{
		clients: []leshan.RegisteredClient{{Endpoint: "living-room-light"}},
	}, &stubBridge{}, testLogger())

	recorder := serve(t, server, "/api/clients")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "living-room-light")
}

func TestClientsUpstreamError(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{err: errors.New("connection refused")}, &stubBridge{}, testLogger())

	recorder := serve(t, server, "/api/clients")

	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestEntities(t *testing.T) {
	server := NewServer(config.API{}, &stubLeshan{}, &stubBridge{
		infos: []bridge.EntityInfo{{
			UniqueID:   "living-room-light_3311_0",
			Endpoint:   "living-room-light",
			Component:  "light",
			Name:       "Ceiling",
			Path:       "/3311/0",
			Available:  true,
			On:         true,
			Brightness: 153,
		}},
	}, testLogger())

	recorder := serve(t, server, "/api/entities")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `[{
		"unique_id": "living-room-light_3311_0",
		"endpoint": "living-room-light",
		"component": "light",
		"name": "Ceiling",
		"path": "/3311/0",
		"available": true,
		"on": true,
		"brightness": 153
	}]`, recorder.Body.String())
}
