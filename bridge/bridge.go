// Package bridge connects devices registered on a Leshan server to Home
// Assistant over MQTT. Light control and on/off switch object instances are
// published as MQTT discovery entities; light commands travel back as
// resource writes.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"leshan2mqtt/config"
	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
	"leshan2mqtt/lwm2m"
	"leshan2mqtt/store"
)

type Bridge struct {
	cfg      *config.Configuration
	topics   homeassistant.Topics
	scale    int
	leshan   *leshan.Client
	observer *leshan.Observer
	store    *store.Store
	logger   *logrus.Logger

	mqtt mqtt.Client

	mu        sync.Mutex
	entities  map[string]*entity
	states    map[string]entityStatus
	available map[string]bool
}

func New(cfg *config.Configuration, leshanClient *leshan.Client, observer *leshan.Observer, stateStore *store.Store, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{
		cfg:       cfg,
		topics:    cfg.Topics(),
		scale:     cfg.HomeAssistant.BrightnessScale,
		leshan:    leshanClient,
		observer:  observer,
		store:     stateStore,
		logger:    logger,
		entities:  make(map[string]*entity),
		states:    make(map[string]entityStatus),
		available: make(map[string]bool),
	}
}

// Run discovers devices, keeps their entity states published and handles
// commands until ctx is cancelled. The MQTT client must already be connected.
func (b *Bridge) Run(ctx context.Context, mqttClient mqtt.Client) error {
	b.mu.Lock()
	b.mqtt = mqttClient
	b.mu.Unlock()

	// Fail fast when the server is unreachable, rather than registering
	// entities that can never report.
	if err := b.leshan.TestServer(ctx); err != nil {
		return fmt.Errorf("leshan server not reachable: %w", err)
	}

	if err := b.publish(b.topics.BridgeAvailability(), true, homeassistant.PayloadOnline); err != nil {
		return err
	}
	if err := b.publishBridgeDevice(); err != nil {
		return err
	}

	b.seedStates()

	if err := b.syncDevices(ctx); err != nil {
		return fmt.Errorf("initial device discovery failed: %w", err)
	}

	go func() {
		stream := b.leshan.Events("", b.cfg.Leshan.EventStreamConfig(), b.logger)
		if err := stream.Run(ctx, func(event leshan.Event) { b.handleEvent(ctx, event) }); err != nil {
			b.logger.Errorf("Registration event stream stopped: %v", err)
		}
	}()

	pollTicker := time.NewTicker(b.cfg.Leshan.ScanInterval)
	defer pollTicker.Stop()
	syncTicker := time.NewTicker(b.cfg.Leshan.SyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-pollTicker.C:
			b.pollEntities(ctx)
		case <-syncTicker.C:
			if err := b.syncDevices(ctx); err != nil {
				b.logger.Errorf("Device discovery failed: %v", err)
			}
		}
	}
}

// OnMQTTConnect restores the bridge availability and command subscriptions
// after the broker connection (re)establishes. Wired as the paho OnConnect
// handler, so it also covers automatic reconnects where the last will
// already fired.
func (b *Bridge) OnMQTTConnect(client mqtt.Client) {
	if t := client.Publish(b.topics.BridgeAvailability(), 0, true, homeassistant.PayloadOnline); t.Wait() && t.Error() != nil {
		b.logger.Errorf("MQTT publish failed: %v", t.Error())
	}

	b.mu.Lock()
	var lights []*entity
	for _, e := range b.entities {
		if e.component == homeassistant.ComponentLight {
			lights = append(lights, e)
		}
	}
	availability := make(map[string]bool, len(b.available))
	for endpoint, online := range b.available {
		availability[endpoint] = online
	}
	b.mu.Unlock()

	for _, e := range lights {
		b.subscribeCommands(client, e)
	}
	for endpoint, online := range availability {
		payload := homeassistant.PayloadOffline
		if online {
			payload = homeassistant.PayloadOnline
		}
		if t := client.Publish(b.topics.DeviceAvailability(endpoint), 0, true, payload); t.Wait() && t.Error() != nil {
			b.logger.Errorf("MQTT publish failed: %v", t.Error())
		}
	}
}

// MQTTConnected reports whether the broker connection is currently open.
func (b *Bridge) MQTTConnected() bool {
	b.mu.Lock()
	client := b.mqtt
	b.mu.Unlock()
	return client != nil && client.IsConnectionOpen()
}

// Entities returns a snapshot of all bridged entities, sorted by unique id.
func (b *Bridge) Entities() []EntityInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]EntityInfo, 0, len(b.entities))
	for _, e := range b.entities {
		status := b.states[e.uniqueID]
		info := EntityInfo{
			UniqueID:  e.uniqueID,
			Endpoint:  e.endpoint,
			Component: e.component,
			Name:      e.name,
			Path:      e.instance.String(),
			Available: b.available[e.endpoint],
			On:        status.state.on,
		}
		if e.component == homeassistant.ComponentLight {
			info.Brightness = brightnessFromDimmer(status.state.dimmer, b.scale)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UniqueID < infos[j].UniqueID })
	return infos
}

func (b *Bridge) shutdown() {
	b.observer.Close()

	// Devices keep their retained availability; the bridge topic going
	// offline is enough to gray out every entity, availability mode is
	// "all".
	if err := b.publish(b.topics.BridgeAvailability(), true, homeassistant.PayloadOffline); err != nil {
		b.logger.Errorf("Failed to mark bridge offline: %v", err)
	}
}

// seedStates primes the publish-on-change tracking with the states stored by
// a previous run, whose retained publishes are still on the broker.
func (b *Bridge) seedStates() {
	states, err := b.store.All()
	if err != nil {
		b.logger.Warnf("Failed to load stored entity states: %v", err)
		return
	}

	b.mu.Lock()
	for _, stored := range states {
		b.states[stored.UniqueID] = entityStatus{
			state: entityState{on: stored.On, dimmer: stored.Dimmer},
			known: true,
		}
	}
	b.mu.Unlock()

	if len(states) > 0 {
		b.logger.Infof("Restored %v entity states", len(states))
	}
}

// syncDevices fetches the registered clients and sets up entities for every
// supported object instance. Devices that disappeared are marked offline.
func (b *Bridge) syncDevices(ctx context.Context) error {
	clients, err := b.leshan.Clients(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(clients))
	for _, client := range clients {
		seen[client.Endpoint] = true
		b.setupDevice(ctx, &client)
	}

	b.mu.Lock()
	var gone []string
	for endpoint, online := range b.available {
		if online && !seen[endpoint] {
			gone = append(gone, endpoint)
		}
	}
	b.mu.Unlock()

	for _, endpoint := range gone {
		b.logger.Infof("Device %v no longer registered", endpoint)
		b.observer.CancelEndpoint(endpoint)
		b.markAvailability(endpoint, false)
	}
	return nil
}

func (b *Bridge) setupDevice(ctx context.Context, client *leshan.RegisteredClient) {
	device := b.readDeviceInfo(ctx, client)

	for _, instance := range client.ObjectInstances {
		component := componentFor(instance.ObjectID)
		if component == "" {
			continue
		}

		e := b.registerEntity(ctx, client.Endpoint, instance, component, device)
		b.refreshEntity(ctx, e)
		if b.cfg.Leshan.UseObserve {
			b.observeEntity(ctx, e)
		}
	}

	b.markAvailability(client.Endpoint, true)
}

// registerEntity publishes the discovery configuration and subscribes to
// command topics for a new entity. Already known entities are returned as-is,
// re-registrations of a device must not duplicate discovery publishes.
func (b *Bridge) registerEntity(ctx context.Context, endpoint string, instance leshan.ObjectInstance, component string, device *homeassistant.Device) *entity {
	id := uniqueID(endpoint, instance)

	b.mu.Lock()
	if existing, ok := b.entities[id]; ok {
		b.mu.Unlock()
		return existing
	}
	b.mu.Unlock()

	e := &entity{
		endpoint:  endpoint,
		instance:  instance,
		component: component,
		name:      b.readName(ctx, endpoint, instance),
		uniqueID:  id,
		device:    device,
	}

	if err := b.publishDiscovery(e); err != nil {
		b.logger.Errorf("Error registering %v with Homeassistant: %v", e.name, err)
	} else {
		b.logger.Infof("Registered %v with Homeassistant", e.name)
	}

	if component == homeassistant.ComponentLight {
		b.subscribeCommands(b.mqtt, e)
	}

	b.mu.Lock()
	b.entities[id] = e
	b.mu.Unlock()
	return e
}

// publishBridgeDevice puts the bridge into the device registry, the parent
// every bridged device points at through via_device.
func (b *Bridge) publishBridgeDevice() error {
	configuration := homeassistant.NewBridgeConfiguration(b.topics)
	encoded, err := json.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("error marshalling configuration: %v", err)
	}
	return b.publish(configuration.ConfigTopic, true, encoded)
}

func (b *Bridge) publishDiscovery(e *entity) error {
	var topic string
	var payload any

	switch e.component {
	case homeassistant.ComponentLight:
		configuration := homeassistant.NewLightConfiguration(b.topics, e.endpoint, e.name, e.uniqueID, b.scale, e.device)
		topic, payload = configuration.ConfigTopic, configuration
	case homeassistant.ComponentBinarySensor:
		configuration := homeassistant.NewBinarySensorConfiguration(b.topics, e.endpoint, e.name, e.uniqueID, e.device)
		topic, payload = configuration.ConfigTopic, configuration
	default:
		return fmt.Errorf("unsupported component %v", e.component)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling configuration: %v", err)
	}
	return b.publish(topic, true, encoded)
}

func (b *Bridge) subscribeCommands(client mqtt.Client, e *entity) {
	topic := b.topics.Command(e.uniqueID)
	if t := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		b.handleCommand(e, msg.Payload())
	}); t.Wait() && t.Error() != nil {
		b.logger.Errorf("MQTT subscribe to %v failed: %v", topic, t.Error())
	}
}

// readName resolves the entity name from the application type resource, with
// a generic object name as fallback.
func (b *Bridge) readName(ctx context.Context, endpoint string, instance leshan.ObjectInstance) string {
	resource := lwm2m.LightApplicationType
	if instance.ObjectID == lwm2m.OnOffSwitch {
		resource = lwm2m.SwitchApplicationType
	}

	value, err := b.leshan.ReadResource(ctx, endpoint, instance, resource)
	if err != nil {
		b.logger.Debugf("No application type for %v%v: %v", endpoint, instance, err)
		return fallbackName(instance)
	}
	if name, ok := value.Text(); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	return fallbackName(instance)
}

// readDeviceInfo reads the device object for the Home Assistant device
// registry entry. Failures degrade to a bare entry, registration must not
// depend on optional metadata.
func (b *Bridge) readDeviceInfo(ctx context.Context, client *leshan.RegisteredClient) *homeassistant.Device {
	device := &homeassistant.Device{
		Identifiers: []string{client.Endpoint},
		Name:        client.Endpoint,
		ViaDevice:   b.topics.Prefix,
	}
	if !client.HasObject(lwm2m.Device) {
		return device
	}

	values, err := b.leshan.Read(ctx, client.Endpoint, leshan.ObjectInstance{ObjectID: lwm2m.Device})
	if err != nil {
		b.logger.Warnf("Failed to read device information for %v: %v", client.Endpoint, err)
		return device
	}
	for _, value := range values {
		text, ok := value.Text()
		if !ok {
			continue
		}
		switch value.ID {
		case lwm2m.DeviceManufacturer:
			device.Manufacturer = text
		case lwm2m.DeviceSerialNumber:
			device.SerialNumber = text
		case lwm2m.DeviceFirmwareVersion:
			device.SwVersion = text
		case lwm2m.DeviceHardwareVersion:
			device.HwVersion = text
		}
	}
	return device
}

// pollEntities reads the current state of every entity and publishes updates.
func (b *Bridge) pollEntities(ctx context.Context) {
	b.mu.Lock()
	entities := make([]*entity, 0, len(b.entities))
	for _, e := range b.entities {
		entities = append(entities, e)
	}
	b.mu.Unlock()

	for _, e := range entities {
		b.refreshEntity(ctx, e)
	}
}

// refreshEntity reads an entity's instance and publishes the resulting
// state. A failed read never turns into a state update, it only drops the
// device's availability.
func (b *Bridge) refreshEntity(ctx context.Context, e *entity) {
	values, err := b.leshan.Read(ctx, e.endpoint, e.instance)
	if err != nil {
		b.logger.Warnf("Failed to read %v%v: %v", e.endpoint, e.instance, err)
		b.markAvailability(e.endpoint, false)
		return
	}
	b.markAvailability(e.endpoint, true)

	state, err := b.stateFromValues(e, values)
	if err != nil {
		b.logger.Warnf("Unusable state for %v: %v", e.uniqueID, err)
		return
	}
	b.applyState(e, state)
}

func (b *Bridge) stateFromValues(e *entity, values []leshan.ResourceValue) (entityState, error) {
	if e.component == homeassistant.ComponentLight {
		return lightStateFromValues(values)
	}
	return switchStateFromValues(values)
}

func (b *Bridge) observeEntity(ctx context.Context, e *entity) {
	resources := []lwm2m.ResourceID{lwm2m.SwitchDigitalInputState}
	if e.component == homeassistant.ComponentLight {
		resources = []lwm2m.ResourceID{lwm2m.LightOnOff, lwm2m.LightDimmer}
	}

	for _, resource := range resources {
		if err := b.observer.Observe(ctx, e.endpoint, e.instance, resource, b.handleNotification); err != nil {
			b.logger.Warnf("Failed to observe %v on %v: %v", e.instance.Path(resource), e.endpoint, err)
		}
	}
}

// handleNotification merges an observation notification into the entity's
// last known state.
func (b *Bridge) handleNotification(endpoint string, path lwm2m.Path, value leshan.ResourceValue) {
	instance := leshan.ObjectInstance{ObjectID: path.Object, InstanceID: path.Instance}
	id := uniqueID(endpoint, instance)

	b.mu.Lock()
	e := b.entities[id]
	state := b.states[id].state
	b.mu.Unlock()
	if e == nil {
		b.logger.Debugf("Notification for unknown entity %v", id)
		return
	}

	switch path.Resource {
	case lwm2m.LightOnOff, lwm2m.SwitchDigitalInputState:
		on, ok := value.Bool()
		if !ok {
			b.logger.Warnf("Notification for %v carries no boolean: %v", path, value)
			return
		}
		state.on = on
	case lwm2m.LightDimmer:
		level, ok := value.Int()
		if !ok {
			b.logger.Warnf("Notification for %v carries no integer: %v", path, value)
			return
		}
		state.dimmer = clampDimmer(level)
	default:
		return
	}

	// A notification is proof of life.
	b.markAvailability(endpoint, true)
	b.applyState(e, state)
}

// handleCommand applies an incoming MQTT command to the device and reflects
// the result immediately instead of waiting for the next poll. Failed writes
// leave the published state untouched.
func (b *Bridge) handleCommand(e *entity, payload []byte) {
	command := &homeassistant.LightState{}
	if err := json.Unmarshal(payload, command); err != nil {
		b.logger.Errorf("MQTT deserialization failed: %v", err)
		return
	}

	if command.On() {
		b.logger.Infof("Turning on %v", e.name)
	} else {
		b.logger.Infof("Turning off %v", e.name)
	}

	writes := commandWrites(command, b.scale, b.store.LastDimmer(e.uniqueID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.Leshan.RequestTimeout)
	defer cancel()
	if err := b.leshan.Write(ctx, e.endpoint, e.instance, writes...); err != nil {
		b.logger.Errorf("Failed to write %v%v: %v", e.endpoint, e.instance, err)
		return
	}

	b.mu.Lock()
	state := b.states[e.uniqueID].state
	b.mu.Unlock()

	state.on = command.On()
	for _, write := range writes {
		if write.ID == lwm2m.LightDimmer {
			if level, ok := write.Int(); ok {
				state.dimmer = level
			}
		}
	}
	b.applyState(e, state)
}

// applyState publishes and stores an entity state, deduplicating unchanged
// states.
func (b *Bridge) applyState(e *entity, state entityState) {
	b.mu.Lock()
	previous := b.states[e.uniqueID]
	if previous.known && previous.state == state {
		b.mu.Unlock()
		return
	}
	b.states[e.uniqueID] = entityStatus{state: state, known: true}
	b.mu.Unlock()

	if err := b.publishState(e, state); err != nil {
		b.logger.Errorf("[%v] Publish error: %v", b.topics.State(e.uniqueID), err)
		return
	}
	b.logger.Infof("%v changed state", e.name)

	if err := b.store.Put(store.EntityState{
		UniqueID: e.uniqueID,
		Endpoint: e.endpoint,
		On:       state.on,
		Dimmer:   state.dimmer,
	}); err != nil {
		b.logger.Warnf("Failed to store state for %v: %v", e.uniqueID, err)
	}
}

func (b *Bridge) publishState(e *entity, state entityState) error {
	topic := b.topics.State(e.uniqueID)

	if e.component == homeassistant.ComponentLight {
		payload, err := marshalLightState(state, b.scale)
		if err != nil {
			return err
		}
		return b.publish(topic, true, payload)
	}

	if state.on {
		return b.publish(topic, true, homeassistant.PayloadOn)
	}
	return b.publish(topic, true, homeassistant.PayloadOff)
}

// markAvailability publishes availability transitions for a device.
func (b *Bridge) markAvailability(endpoint string, online bool) {
	b.mu.Lock()
	previous, seen := b.available[endpoint]
	if seen && previous == online {
		b.mu.Unlock()
		return
	}
	b.available[endpoint] = online
	b.mu.Unlock()

	payload := homeassistant.PayloadOffline
	if online {
		payload = homeassistant.PayloadOnline
	} else {
		b.logger.Warnf("Device %v is unavailable", endpoint)
	}
	if err := b.publish(b.topics.DeviceAvailability(endpoint), true, payload); err != nil {
		b.logger.Errorf("Failed to publish availability for %v: %v", endpoint, err)
	}
}

// handleEvent reacts to registration lifecycle events from the server's
// global event stream.
func (b *Bridge) handleEvent(ctx context.Context, event leshan.Event) {
	switch event.Type {
	case leshan.EventRegistration:
		b.logger.Infof("Device %v registered", event.Endpoint)
		b.setupDevice(ctx, event.Client)
	case leshan.EventUpdated, leshan.EventAwake:
		b.markAvailability(event.Endpoint, true)
	case leshan.EventDeregistration:
		b.logger.Infof("Device %v deregistered", event.Endpoint)
		b.observer.CancelEndpoint(event.Endpoint)
		b.markAvailability(event.Endpoint, false)
	case leshan.EventSleeping:
		b.markAvailability(event.Endpoint, false)
	}
}

func (b *Bridge) publish(topic string, retained bool, payload any) error {
	if t := b.mqtt.Publish(topic, 0, retained, payload); t.Wait() && t.Error() != nil {
		return fmt.Errorf("MQTT publish failed: %v", t.Error())
	}
	return nil
}
