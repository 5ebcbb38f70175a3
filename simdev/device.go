// Package simdev implements a small LwM2M device for exercising the bridge
// without hardware. It registers with a Leshan server over CoAP, exposes the
// device, light control and on/off switch objects, accepts writes and serves
// observations. The switch flips itself on a timer so state changes keep
// coming.
package simdev

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v2"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/plgd-dev/go-coap/v3/udp/client"
	"github.com/sirupsen/logrus"

	"leshan2mqtt/lwm2m"
)

type Config struct {
	// Server is the CoAP address of the Leshan server, host:port.
	Server   string
	Endpoint string
	Lifetime time.Duration

	// PSKIdentity enables DTLS when set. PSKKey is hex encoded.
	PSKIdentity string
	PSKKey      string

	// ToggleInterval flips the switch periodically. Zero disables it.
	ToggleInterval time.Duration

	LightName  string
	SwitchName string
}

// state is the mutable resource state of the simulated device.
type state struct {
	lightOn       bool
	dimmer        int
	switchOn      bool
	switchCounter int
}

type Device struct {
	cfg    Config
	logger *logrus.Logger

	mu    sync.Mutex
	state state

	conn     *client.Conn
	location string

	observations *observations
}

func New(cfg Config, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 5 * time.Minute
	}
	if cfg.LightName == "" {
		cfg.LightName = "Simulated Light"
	}
	if cfg.SwitchName == "" {
		cfg.SwitchName = "Simulated Switch"
	}
	return &Device{
		cfg:          cfg,
		logger:       logger,
		state:        state{lightOn: false, dimmer: 50, switchOn: false},
		observations: newObservations(),
	}
}

// Run registers the device and serves it until ctx is cancelled.
func (d *Device) Run(ctx context.Context) error {
	conn, err := d.dial()
	if err != nil {
		return fmt.Errorf("error connecting to %v: %w", d.cfg.Server, err)
	}
	d.conn = conn
	defer conn.Close()

	if err := d.register(ctx); err != nil {
		return err
	}
	d.logger.Infof("Registered as %v at %v", d.cfg.Endpoint, d.location)

	updateTicker := time.NewTicker(d.cfg.Lifetime / 2)
	defer updateTicker.Stop()

	var toggle <-chan time.Time
	if d.cfg.ToggleInterval > 0 {
		toggleTicker := time.NewTicker(d.cfg.ToggleInterval)
		defer toggleTicker.Stop()
		toggle = toggleTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.deregister()
			return nil
		case <-updateTicker.C:
			if err := d.update(ctx); err != nil {
				d.logger.Warnf("Registration update failed: %v, re-registering", err)
				if err := d.register(ctx); err != nil {
					return err
				}
			}
		case <-toggle:
			d.toggleSwitch()
		}
	}
}

func (d *Device) dial() (*client.Conn, error) {
	router := d.router()

	if d.cfg.PSKIdentity != "" {
		key, err := hex.DecodeString(d.cfg.PSKKey)
		if err != nil {
			return nil, fmt.Errorf("psk key is not valid hex: %w", err)
		}
		return dtls.Dial(d.cfg.Server, &piondtls.Config{
			PSK: func(hint []byte) ([]byte, error) {
				return key, nil
			},
			PSKIdentityHint: []byte(d.cfg.PSKIdentity),
			CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
		}, options.WithMux(router))
	}
	return udp.Dial(d.cfg.Server, options.WithMux(router))
}

// toggleSwitch flips the switch state. The counter counts rising edges.
func (d *Device) toggleSwitch() {
	d.mu.Lock()
	d.state.switchOn = !d.state.switchOn
	if d.state.switchOn {
		d.state.switchCounter++
	}
	on := d.state.switchOn
	d.mu.Unlock()

	d.logger.Infof("Switch flipped to %v", on)
	d.notifyAll(switchInstancePath, lwm2m.SwitchDigitalInputState, lwm2m.SwitchDigitalInputCounter)
}

// applyLightWrite updates the light state from decoded resource writes and
// notifies observers of the changed resources.
func (d *Device) applyLightWrite(values resourceWrites) {
	var changed []lwm2m.ResourceID

	d.mu.Lock()
	if on, ok := values.boolValue(lwm2m.LightOnOff); ok {
		d.state.lightOn = on
		changed = append(changed, lwm2m.LightOnOff)
	}
	if level, ok := values.intValue(lwm2m.LightDimmer); ok {
		if level < 0 {
			level = 0
		}
		if level > lwm2m.DimmerMax {
			level = lwm2m.DimmerMax
		}
		d.state.dimmer = level
		changed = append(changed, lwm2m.LightDimmer)
	}
	on, dimmer := d.state.lightOn, d.state.dimmer
	d.mu.Unlock()

	d.logger.Infof("Light written: on=%v dimmer=%v", on, dimmer)
	d.notifyAll(lightInstancePath, changed...)
}

func (d *Device) snapshot() state {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
