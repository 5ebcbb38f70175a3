package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"leshan2mqtt/api"
	"leshan2mqtt/bridge"
	"leshan2mqtt/config"
	"leshan2mqtt/leshan"
	"leshan2mqtt/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Error loading configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.Infof("Bridging Leshan server %v to MQTT broker %v", cfg.Leshan.URL, cfg.MQTT.Broker)

	leshanClient, err := leshan.NewClient(cfg.Leshan.URL, cfg.Leshan.RequestTimeout)
	if err != nil {
		logger.Fatalf("Error setting up Leshan client: %v", err)
	}

	stateStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatalf("Error opening state store: %v", err)
	}
	defer stateStore.Close()

	observer := leshan.NewObserver(leshanClient, cfg.Leshan.EventStreamConfig(), logger)

	b := bridge.New(cfg, leshanClient, observer, stateStore, logger)

	topics := cfg.Topics()
	opts := cfg.MQTT.ClientOptions(topics.BridgeAvailability(), logger)
	opts.SetOnConnectHandler(b.OnMQTTConnect)

	mqttClient := mqtt.NewClient(opts)
	if t := mqttClient.Connect(); t.Wait() && t.Error() != nil {
		logger.Fatalf("MQTT connection error: %v", t.Error())
	}
	defer mqttClient.Disconnect(250)

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, leshanClient, b, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Status API shutdown: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runBridge(ctx, b, mqttClient, logger)

	logger.Info("Shutdown complete")
}

// runBridge keeps the bridge alive until shutdown, restarting it when the
// Leshan server drops away.
func runBridge(ctx context.Context, b *bridge.Bridge, mqttClient mqtt.Client, logger *logrus.Logger) {
	for {
		err := b.Run(ctx, mqttClient)
		if err == nil {
			return
		}
		logger.Errorf("Bridge stopped: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			logger.Info("Restarting bridge")
		}
	}
}
