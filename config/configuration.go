// Package config loads and validates the bridge configuration from a yaml
// file, with environment variable overrides for deployment settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"leshan2mqtt/homeassistant"
	"leshan2mqtt/leshan"
)

type Configuration struct {
	Leshan        Leshan        `mapstructure:"leshan"`
	MQTT          MQTT          `mapstructure:"mqtt"`
	HomeAssistant HomeAssistant `mapstructure:"homeassistant"`
	API           API           `mapstructure:"api"`
	Store         Store         `mapstructure:"store"`
	Log           Log           `mapstructure:"log"`
}

type Leshan struct {
	// URL of the Leshan server, scheme optional.
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// ScanInterval is how often device states are polled.
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	// SyncInterval is how often the full client list is rescanned for
	// devices that appeared or vanished without a registration event.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// UseObserve switches from polling to observations where devices
	// support them. Polling still runs as a fallback.
	UseObserve bool `mapstructure:"use_observe"`
	// Events tunes reconnection of the server-sent event streams.
	Events Events `mapstructure:"events"`
}

type Events struct {
	MinBackoff    time.Duration `mapstructure:"min_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Multiplier    float64       `mapstructure:"multiplier"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// EventStreamConfig translates the events section into the stream settings.
func (l Leshan) EventStreamConfig() leshan.EventStreamConfig {
	return leshan.EventStreamConfig{
		MinBackoff:    l.Events.MinBackoff,
		MaxBackoff:    l.Events.MaxBackoff,
		Multiplier:    l.Events.Multiplier,
		MaxReconnects: l.Events.MaxReconnects,
	}
}

type HomeAssistant struct {
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	// BrightnessScale is the brightness range announced to Home Assistant.
	// 255 is Home Assistant's native scale; 100 exposes raw dimmer values.
	BrightnessScale int `mapstructure:"brightness_scale"`
}

type API struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type Store struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	// Level is a logrus level name. Unknown values fall back to info.
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Load reads the configuration. With an empty path the usual locations are
// searched; a missing file leaves the defaults, so a fully env-driven setup
// also works.
func Load(path string) (*Configuration, error) {
	// A .env file is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/leshan2mqtt")
	}

	v.SetDefault("leshan.request_timeout", 10*time.Second)
	v.SetDefault("leshan.scan_interval", 30*time.Second)
	v.SetDefault("leshan.sync_interval", 5*time.Minute)
	v.SetDefault("leshan.use_observe", true)
	v.SetDefault("leshan.events.min_backoff", time.Second)
	v.SetDefault("leshan.events.max_backoff", 2*time.Minute)
	v.SetDefault("leshan.events.multiplier", 2.0)
	v.SetDefault("leshan.events.max_reconnects", 0)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("homeassistant.topic_prefix", "leshan2mqtt")
	v.SetDefault("homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("homeassistant.brightness_scale", homeassistant.DefaultBrightnessScale)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("store.path", "leshan2mqtt.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("leshan2mqtt")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	configuration := &Configuration{}
	if err := v.Unmarshal(configuration); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if configuration.Leshan.URL == "" {
		configuration.Leshan.URL = os.Getenv("LESHAN_URL")
	}
	if configuration.MQTT.Broker == "" {
		configuration.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if configuration.MQTT.Username == "" {
		configuration.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if configuration.MQTT.Password == "" {
		configuration.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	if err := configuration.validate(); err != nil {
		return nil, err
	}
	return configuration, nil
}

func (c *Configuration) validate() error {
	if c.Leshan.URL == "" {
		return errors.New("leshan.url is required")
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if scale := c.HomeAssistant.BrightnessScale; scale < 1 || scale > 255 {
		return fmt.Errorf("homeassistant.brightness_scale must be between 1 and 255, got %v", scale)
	}
	if c.Leshan.ScanInterval < time.Second {
		return fmt.Errorf("leshan.scan_interval %v is below 1s", c.Leshan.ScanInterval)
	}
	if c.Leshan.SyncInterval < time.Second {
		return fmt.Errorf("leshan.sync_interval %v is below 1s", c.Leshan.SyncInterval)
	}
	if c.Leshan.Events.MinBackoff <= 0 {
		return errors.New("leshan.events.min_backoff must be positive")
	}
	if c.Leshan.Events.MaxBackoff < c.Leshan.Events.MinBackoff {
		return fmt.Errorf("leshan.events.max_backoff %v is below min_backoff %v",
			c.Leshan.Events.MaxBackoff, c.Leshan.Events.MinBackoff)
	}
	if c.Leshan.Events.Multiplier < 1 {
		return fmt.Errorf("leshan.events.multiplier must be at least 1, got %v", c.Leshan.Events.Multiplier)
	}
	return nil
}

// Topics returns the MQTT topic layout derived from the configured prefixes.
func (c *Configuration) Topics() homeassistant.Topics {
	return homeassistant.Topics{
		Prefix:          c.HomeAssistant.TopicPrefix,
		DiscoveryPrefix: c.HomeAssistant.DiscoveryPrefix,
	}
}
