package leshan

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leshan2mqtt/lwm2m"
)

var lightInstance = ObjectInstance{ObjectID: lwm2m.LightControl, InstanceID: 0}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, 2*time.Second)
	require.NoError(t, err)
	return client
}

func TestNewClientAddsScheme(t *testing.T) {
	client, err := NewClient("leshan.local:8080", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://leshan.local:8080/api", client.BaseURL())
}

func TestNewClientRejectsGarbage(t *testing.T) {
	_, err := NewClient("http://", 0)
	assert.Error(t, err)
}

func TestClients(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "["+registrationJSON+"]")
	})

	clients, err := newTestClient(t, mux).Clients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "demo-light", clients[0].Endpoint)
	assert.Len(t, clients[0].ObjectInstances, 4)
}

func TestReadInstance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.URL.Query().Get("timeout"))
		io.WriteString(w, `{
			"status": "CONTENT(205)", "valid": true, "success": true, "failure": false,
			"content": {"id": 0, "resources": [
				{"id": 5850, "type": "BOOLEAN", "value": "true"},
				{"id": 5851, "type": "INTEGER", "value": "60"}
			]}
		}`)
	})

	values, err := newTestClient(t, mux).Read(context.Background(), "demo-light", lightInstance)
	require.NoError(t, err)
	require.Len(t, values, 2)

	on, _ := values[0].Bool()
	assert.True(t, on)
	level, _ := values[1].Int()
	assert.Equal(t, 60, level)
}

func TestReadResource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0/5851", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"status": "CONTENT(205)", "valid": true, "success": true, "failure": false,
			"content": {"id": 5851, "type": "INTEGER", "value": 60}
		}`)
	})

	value, err := newTestClient(t, mux).ReadResource(context.Background(), "demo-light", lightInstance, lwm2m.LightDimmer)
	require.NoError(t, err)

	level, ok := value.Int()
	assert.True(t, ok)
	assert.Equal(t, 60, level)
}

func TestReadEmptyContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "CONTENT(205)", "valid": true, "success": true, "failure": false}`)
	})

	_, err := newTestClient(t, mux).Read(context.Background(), "demo-light", lightInstance)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestReadDeviceFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "NOT_FOUND(404)", "valid": true, "success": false, "failure": true}`)
	})

	_, err := newTestClient(t, mux).Read(context.Background(), "demo-light", lightInstance)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpRead, opErr.Op)
	assert.Equal(t, "demo-light", opErr.Endpoint)
}

func TestWrite(t *testing.T) {
	var body []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"status": "CHANGED(204)", "valid": true, "success": true, "failure": false}`)
	})

	err := newTestClient(t, mux).Write(context.Background(), "demo-light", lightInstance,
		Boolean(lwm2m.LightOnOff, true), Integer(lwm2m.LightDimmer, 80))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": 0,
		"kind": "instance",
		"resources": [
			{"id": 5850, "kind": "singleResource", "type": "boolean", "value": true},
			{"id": 5851, "kind": "singleResource", "type": "integer", "value": 80}
		]
	}`, string(body))
}

func TestWriteRejectedByDevice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "METHOD_NOT_ALLOWED(405)", "valid": true, "success": false, "failure": true}`)
	})

	err := newTestClient(t, mux).Write(context.Background(), "demo-light", lightInstance, Boolean(lwm2m.LightOnOff, true))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 405, apiErr.StatusCode)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpWrite, opErr.Op)
}

func TestWriteNothing(t *testing.T) {
	err := newTestClient(t, http.NewServeMux()).Write(context.Background(), "demo-light", lightInstance)
	assert.Error(t, err)
}

func TestServerErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"message": "registry unavailable"}`)
	})

	_, err := newTestClient(t, mux).Clients(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "registry unavailable", apiErr.Message)
}

func TestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NewServeMux())
	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)
	server.Close()

	_, err = client.Clients(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.False(t, IsTimeout(err))
}

func TestConnectionTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = client.Clients(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestObserveAndCancel(t *testing.T) {
	var observed, cancelled bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-light/3311/0/5850/observe", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			observed = true
			io.WriteString(w, `{
				"status": "CONTENT(205)", "valid": true, "success": true, "failure": false,
				"content": {"id": 5850, "type": "BOOLEAN", "value": "true"}
			}`)
		case http.MethodDelete:
			cancelled = true
			assert.Equal(t, "true", r.URL.Query().Get("active"))
		default:
			t.Errorf("unexpected method %v", r.Method)
		}
	})
	client := newTestClient(t, mux)

	require.NoError(t, client.Observe(context.Background(), "demo-light", lightInstance, lwm2m.LightOnOff))
	assert.True(t, observed)

	require.NoError(t, client.CancelObserve(context.Background(), "demo-light", lightInstance, lwm2m.LightOnOff))
	assert.True(t, cancelled)
}

func TestStatusCodeParsing(t *testing.T) {
	assert.Equal(t, 204, statusCode("CHANGED(204)"))
	assert.Equal(t, 404, statusCode("NOT_FOUND(404)"))
	assert.Equal(t, 0, statusCode("BROKEN"))
	assert.Equal(t, 0, statusCode(""))
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &OpError{Op: OpRead, Endpoint: "demo-light", Path: "/3311/0", Err: &ConnectionError{URL: "http://x", Err: inner}}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "demo-light")
}
