package leshan

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"leshan2mqtt/lwm2m"
)

// NotificationFunc handles one observation notification.
type NotificationFunc func(endpoint string, path lwm2m.Path, value ResourceValue)

type observation struct {
	endpoint string
	path     lwm2m.Path
	notify   NotificationFunc
}

// Observer manages resource observations. Notifications do not arrive on the
// observe request itself but on the per-device event stream, so the observer
// keeps one stream running per device with at least one observation and
// routes incoming notifications to the registered callbacks.
type Observer struct {
	client *Client
	config EventStreamConfig
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	observations []observation
	streams      map[string]context.CancelFunc
}

// NewObserver returns an observer using the given client. Close must be
// called to stop the event streams it spawns.
func NewObserver(client *Client, config EventStreamConfig, logger *logrus.Logger) *Observer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		client:  client,
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]context.CancelFunc),
	}
}

// Observe starts observing a resource and routes its notifications to notify.
// Observing an already observed resource replaces its callback.
func (o *Observer) Observe(ctx context.Context, endpoint string, instance ObjectInstance, resource lwm2m.ResourceID, notify NotificationFunc) error {
	path := instance.Path(resource)

	o.mu.Lock()
	replaced := false
	for i := range o.observations {
		if o.observations[i].endpoint == endpoint && o.observations[i].path == path {
			o.observations[i].notify = notify
			replaced = true
			break
		}
	}
	if !replaced {
		o.observations = append(o.observations, observation{endpoint: endpoint, path: path, notify: notify})
	}
	o.ensureStreamLocked(endpoint)
	o.mu.Unlock()

	if err := o.client.Observe(ctx, endpoint, instance, resource); err != nil {
		if !replaced {
			o.remove(endpoint, path)
		}
		return err
	}
	o.logger.Debugf("Observing %v on %v", path, endpoint)
	return nil
}

// CancelObserve stops observing a resource, actively cancelling it on the
// device. Local routing for the resource is dropped even when the device
// cannot be reached.
func (o *Observer) CancelObserve(ctx context.Context, endpoint string, instance ObjectInstance, resource lwm2m.ResourceID) error {
	path := instance.Path(resource)
	o.remove(endpoint, path)
	return o.client.CancelObserve(ctx, endpoint, instance, resource)
}

// CancelEndpoint drops all observations of a device without contacting it.
// Used when the device deregisters and there is nothing left to cancel.
func (o *Observer) CancelEndpoint(endpoint string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.observations[:0]
	for _, observed := range o.observations {
		if observed.endpoint != endpoint {
			kept = append(kept, observed)
		}
	}
	o.observations = kept
	o.stopStreamLocked(endpoint)
}

// Close stops all event streams and drops all observations.
func (o *Observer) Close() {
	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = nil
	o.streams = make(map[string]context.CancelFunc)
}

func (o *Observer) remove(endpoint string, path lwm2m.Path) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.observations[:0]
	remaining := 0
	for _, observed := range o.observations {
		if observed.endpoint == endpoint && observed.path == path {
			continue
		}
		kept = append(kept, observed)
		if observed.endpoint == endpoint {
			remaining++
		}
	}
	o.observations = kept
	if remaining == 0 {
		o.stopStreamLocked(endpoint)
	}
}

// ensureStreamLocked starts the event stream for an endpoint if it is not
// running yet. Callers hold o.mu.
func (o *Observer) ensureStreamLocked(endpoint string) {
	if _, running := o.streams[endpoint]; running {
		return
	}

	streamCtx, cancel := context.WithCancel(o.ctx)
	o.streams[endpoint] = cancel

	stream := o.client.Events(endpoint, o.config, o.logger)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := stream.Run(streamCtx, o.dispatch); err != nil {
			o.logger.Errorf("Event stream for %v stopped: %v", endpoint, err)
		}
	}()
}

// stopStreamLocked stops the event stream for an endpoint. Callers hold o.mu.
func (o *Observer) stopStreamLocked(endpoint string) {
	if cancel, running := o.streams[endpoint]; running {
		cancel()
		delete(o.streams, endpoint)
	}
}

func (o *Observer) dispatch(event Event) {
	if event.Type != EventNotification {
		return
	}

	o.mu.Lock()
	var notify NotificationFunc
	for _, observed := range o.observations {
		if observed.endpoint == event.Endpoint && observed.path == event.Path {
			notify = observed.notify
			break
		}
	}
	o.mu.Unlock()

	if notify == nil {
		o.logger.Debugf("Dropping notification for unobserved %v on %v", event.Path, event.Endpoint)
		return
	}
	notify(event.Endpoint, event.Path, event.Value)
}
