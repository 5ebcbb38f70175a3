package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"leshan2mqtt/simdev"
)

func main() {
	server := flag.String("server", "localhost:5683", "CoAP address of the Leshan server")
	endpoint := flag.String("endpoint", "simdev-1", "Endpoint name to register as")
	lifetime := flag.Duration("lifetime", 5*time.Minute, "Registration lifetime")
	pskIdentity := flag.String("psk-identity", "", "PSK identity, enables DTLS")
	pskKey := flag.String("psk-key", "", "PSK key in hex")
	toggle := flag.Duration("toggle", 30*time.Second, "Interval for flipping the simulated switch, 0 disables it")
	lightName := flag.String("light-name", "Simulated Light", "Application type reported for the light")
	switchName := flag.String("switch-name", "Simulated Switch", "Application type reported for the switch")
	flag.Parse()

	logger := logrus.New()

	device := simdev.New(simdev.Config{
		Server:         *server,
		Endpoint:       *endpoint,
		Lifetime:       *lifetime,
		PSKIdentity:    *pskIdentity,
		PSKKey:         *pskKey,
		ToggleInterval: *toggle,
		LightName:      *lightName,
		SwitchName:     *switchName,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := device.Run(ctx); err != nil {
		logger.Fatalf("Device stopped: %v", err)
	}
}
