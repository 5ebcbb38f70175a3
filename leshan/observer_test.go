package leshan

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leshan2mqtt/lwm2m"
)

var switchInstance = ObjectInstance{ObjectID: lwm2m.OnOffSwitch, InstanceID: 0}

func quickStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestObserverRoutesNotifications(t *testing.T) {
	var observeCalls, cancelCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-switch/3342/0/5500/observe", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			observeCalls.Add(1)
			io.WriteString(w, `{
				"status": "CONTENT(205)", "valid": true, "success": true, "failure": false,
				"content": {"id": 5500, "type": "BOOLEAN", "value": "false"}
			}`)
		case http.MethodDelete:
			cancelCalls.Add(1)
		}
	})
	mux.HandleFunc("/api/event", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo-switch", r.URL.Query().Get("ep"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `event: NOTIFICATION
data: {"ep":"demo-switch","res":"/3342/0/5500","val":{"id":5500,"kind":"singleResource","type":"BOOLEAN","value":"true"}}

`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	client := newTestClient(t, mux)
	observer := NewObserver(client, quickStreamConfig(), testLogger())
	defer observer.Close()

	pressed := make(chan bool, 1)
	err := observer.Observe(context.Background(), "demo-switch", switchInstance, lwm2m.SwitchDigitalInputState,
		func(endpoint string, path lwm2m.Path, value ResourceValue) {
			assert.Equal(t, "demo-switch", endpoint)
			assert.Equal(t, lwm2m.Path{Object: 3342, Instance: 0, Resource: 5500}, path)
			on, _ := value.Bool()
			pressed <- on
		})
	require.NoError(t, err)
	assert.Equal(t, int32(1), observeCalls.Load())

	select {
	case on := <-pressed:
		assert.True(t, on)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	require.NoError(t, observer.CancelObserve(context.Background(), "demo-switch", switchInstance, lwm2m.SwitchDigitalInputState))
	assert.Equal(t, int32(1), cancelCalls.Load())
}

func TestObserverFailedObserveRollsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-switch/3342/0/5500/observe", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "NOT_FOUND(404)", "valid": true, "success": false, "failure": true}`)
	})
	mux.HandleFunc("/api/event", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	client := newTestClient(t, mux)
	observer := NewObserver(client, quickStreamConfig(), testLogger())
	defer observer.Close()

	err := observer.Observe(context.Background(), "demo-switch", switchInstance, lwm2m.SwitchDigitalInputState,
		func(string, lwm2m.Path, ResourceValue) {})
	require.Error(t, err)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Empty(t, observer.observations)
	assert.Empty(t, observer.streams)
}

func TestObserverCancelEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/demo-switch/3342/0/5500/observe", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"status": "CONTENT(205)", "valid": true, "success": true, "failure": false,
			"content": {"id": 5500, "type": "BOOLEAN", "value": "false"}
		}`)
	})
	mux.HandleFunc("/api/event", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	client := newTestClient(t, mux)
	observer := NewObserver(client, quickStreamConfig(), testLogger())
	defer observer.Close()

	err := observer.Observe(context.Background(), "demo-switch", switchInstance, lwm2m.SwitchDigitalInputState,
		func(string, lwm2m.Path, ResourceValue) {})
	require.NoError(t, err)

	observer.CancelEndpoint("demo-switch")

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Empty(t, observer.observations)
	assert.Empty(t, observer.streams)
}
