package config

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"leshan2mqtt/homeassistant"
)

type MQTT struct {
	Broker   string `mapstructure:"broker"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ClientID is suffixed randomly when empty so two bridges never fight
	// over one session.
	ClientID string `mapstructure:"client_id"`
}

// BrokerURL returns the broker address with scheme and port filled in.
func (m *MQTT) BrokerURL() string {
	scheme, host := "tcp", m.Broker
	if i := strings.Index(host, "://"); i >= 0 {
		scheme, host = host[:i], host[i+3:]
	}
	if !strings.Contains(host, ":") {
		host += ":1883"
	}
	return fmt.Sprintf("%v://%v", scheme, host)
}

// ClientOptions builds the paho client options: auto reconnecting, with the
// bridge availability topic as a retained last will so Home Assistant marks
// everything unavailable when the bridge dies.
func (m *MQTT) ClientOptions(willTopic string, logger *logrus.Logger) *mqtt.ClientOptions {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clientID := m.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("leshan2mqtt-%v", uuid.NewString()[:8])
	}

	return mqtt.NewClientOptions().
		AddBroker(m.BrokerURL()).
		SetClientID(clientID).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetWill(willTopic, homeassistant.PayloadOffline, 0, true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			logger.Errorf("MQTT connection lost: %v", err)
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			logger.Warnf("MQTT reconnecting")
		})
}
