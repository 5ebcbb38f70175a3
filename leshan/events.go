package leshan

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"leshan2mqtt/lwm2m"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect
// attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// EventType names a server-sent event on the event stream.
type EventType string

const (
	EventRegistration   EventType = "REGISTRATION"
	EventUpdated        EventType = "UPDATED"
	EventDeregistration EventType = "DEREGISTRATION"
	EventSleeping       EventType = "SLEEPING"
	EventAwake          EventType = "AWAKE"
	EventNotification   EventType = "NOTIFICATION"
)

// Event is a decoded server-sent event. Client is set for registration
// lifecycle events, Path and Value for observation notifications.
type Event struct {
	Type     EventType
	Endpoint string
	Client   *RegisteredClient
	Path     lwm2m.Path
	Value    ResourceValue
}

// EventFunc handles a single decoded event.
type EventFunc func(Event)

// EventStreamConfig controls event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // minimum backoff between reconnects
	MaxBackoff    time.Duration // maximum backoff between reconnects
	Multiplier    float64       // backoff multiplier
	MaxReconnects int           // max reconnect attempts, 0 = infinite
}

// DefaultEventStreamConfig returns the reconnection defaults.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff:    time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2,
		MaxReconnects: 0,
	}
}

// EventStream follows the server's SSE event feed. With an endpoint set it
// follows only that device's events, including its observation notifications.
// No Go library currently speaks the Leshan event stream, so the SSE framing
// is handled here directly on top of net/http.
type EventStream struct {
	baseURL  string
	endpoint string
	config   EventStreamConfig
	logger   *logrus.Logger

	// SSE connections are long lived, so no client timeout here.
	http *http.Client
}

// Events returns a stream over the server's event feed. An empty endpoint
// follows the global feed of all devices.
func (c *Client) Events(endpoint string, config EventStreamConfig, logger *logrus.Logger) *EventStream {
	if config.MinBackoff <= 0 {
		config = DefaultEventStreamConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventStream{
		baseURL:  c.baseURL,
		endpoint: endpoint,
		config:   config,
		logger:   logger,
		http:     &http.Client{},
	}
}

// Run follows the stream until ctx is cancelled, invoking handle for every
// decoded event. Dropped connections are reconnected with capped exponential
// backoff. Returns ErrMaxReconnectsExceeded when the attempt limit is hit.
func (e *EventStream) Run(ctx context.Context, handle EventFunc) error {
	retries := 0
	backoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.connect(ctx, handle)
		if err == nil {
			retries = 0
			backoff = e.config.MinBackoff
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		retries++
		if e.config.MaxReconnects > 0 && retries > e.config.MaxReconnects {
			e.logger.Errorf("Event stream for %v: giving up after %v reconnects", e.target(), e.config.MaxReconnects)
			return ErrMaxReconnectsExceeded
		}

		e.logger.Warnf("Event stream for %v disconnected (%v), reconnecting in %v", e.target(), err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * e.config.Multiplier)
		if backoff > e.config.MaxBackoff {
			backoff = e.config.MaxBackoff
		}
	}
}

func (e *EventStream) target() string {
	if e.endpoint == "" {
		return "all endpoints"
	}
	return e.endpoint
}

func (e *EventStream) connect(ctx context.Context, handle EventFunc) error {
	streamURL := e.baseURL + "/event"
	if e.endpoint != "" {
		streamURL += "?ep=" + url.QueryEscape(e.endpoint)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := e.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", response.StatusCode)
	}

	e.logger.Infof("Connected to event stream for %v", e.target())

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks the end of one event.
		if line == "" {
			if data.Len() > 0 {
				e.dispatch(eventName, data.String(), handle)
			}
			eventName = ""
			data.Reset()
			continue
		}
		// Lines starting with a colon are comments (keep-alives).
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventName = value
		case "data":
			data.WriteString(value)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

func (e *EventStream) dispatch(name, data string, handle EventFunc) {
	switch EventType(name) {
	case EventRegistration, EventUpdated, EventDeregistration, EventSleeping, EventAwake:
		client, err := decodeRegistration(data)
		if err != nil {
			e.logger.Warnf("Malformed %v event: %v", name, err)
			return
		}
		handle(Event{Type: EventType(name), Endpoint: client.Endpoint, Client: client})
	case EventNotification:
		event, err := decodeNotification(data)
		if err != nil {
			e.logger.Warnf("Malformed notification: %v", err)
			return
		}
		handle(event)
	default:
		e.logger.Debugf("Ignoring %v event", name)
	}
}

// decodeRegistration decodes a registration lifecycle payload. Update events
// nest the registration one level deeper.
func decodeRegistration(data string) (*RegisteredClient, error) {
	var client RegisteredClient
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		return nil, err
	}
	if client.Endpoint != "" {
		return &client, nil
	}

	var nested struct {
		Registration RegisteredClient `json:"registration"`
	}
	if err := json.Unmarshal([]byte(data), &nested); err != nil {
		return nil, err
	}
	if nested.Registration.Endpoint == "" {
		return nil, errors.New("payload carries no endpoint")
	}
	return &nested.Registration, nil
}

func decodeNotification(data string) (Event, error) {
	var notification struct {
		Ep  string       `json:"ep"`
		Res string       `json:"res"`
		Val resourceNode `json:"val"`
	}
	if err := json.Unmarshal([]byte(data), &notification); err != nil {
		return Event{}, err
	}

	path, err := lwm2m.ParsePath(notification.Res)
	if err != nil {
		return Event{}, fmt.Errorf("unsupported observation path %q: %w", notification.Res, err)
	}
	value, err := decodeValue(notification.Val)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:     EventNotification,
		Endpoint: notification.Ep,
		Path:     path,
		Value:    value,
	}, nil
}
