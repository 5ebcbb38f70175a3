// Package leshan talks to the REST API of an Eclipse Leshan LwM2M server. It
// covers the subset of the API needed to bridge devices: listing registered
// clients, reading and writing object instances and resources, and managing
// observations with their server-sent notification stream.
package leshan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leshan2mqtt/lwm2m"
)

// DefaultTimeout bounds a single request to the server, including the time
// the server spends waiting for the device to answer.
const DefaultTimeout = 10 * time.Second

// Client is a Leshan REST API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient returns a client for the server at the given address. The address
// may be a bare host:port, in which case plain http is assumed.
func NewClient(server string, timeout time.Duration) (*Client, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	parsed, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", server, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: no host", server)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/") + "/api",
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the base URL of the server REST API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Clients returns all devices currently registered with the server.
func (c *Client) Clients(ctx context.Context) ([]RegisteredClient, error) {
	var clients []RegisteredClient
	if err := c.do(ctx, http.MethodGet, "/clients", nil, nil, &clients); err != nil {
		return nil, &OpError{Op: OpList, Err: err}
	}
	return clients, nil
}

// TestServer verifies that the server is reachable and answering API calls.
func (c *Client) TestServer(ctx context.Context) error {
	_, err := c.Clients(ctx)
	return err
}

// Read reads all resources of an object instance on a device.
func (c *Client) Read(ctx context.Context, endpoint string, instance ObjectInstance) ([]ResourceValue, error) {
	fail := func(err error) ([]ResourceValue, error) {
		return nil, &OpError{Op: OpRead, Endpoint: endpoint, Path: instance.String(), Err: err}
	}

	var envelope deliveryResponse
	path := fmt.Sprintf("/clients/%v%v", url.PathEscape(endpoint), instance)
	if err := c.do(ctx, http.MethodGet, path, c.deviceQuery(), nil, &envelope); err != nil {
		return fail(err)
	}
	if err := envelope.failed(); err != nil {
		return fail(err)
	}

	var node instanceNode
	if err := envelope.decodeContent(&node); err != nil {
		return fail(err)
	}
	values := make([]ResourceValue, 0, len(node.Resources))
	for _, resource := range node.Resources {
		value, err := decodeValue(resource)
		if err != nil {
			return fail(err)
		}
		values = append(values, value)
	}
	return values, nil
}

// ReadResource reads a single resource of an object instance on a device.
func (c *Client) ReadResource(ctx context.Context, endpoint string, instance ObjectInstance, resource lwm2m.ResourceID) (ResourceValue, error) {
	fullPath := instance.Path(resource)
	fail := func(err error) (ResourceValue, error) {
		return ResourceValue{}, &OpError{Op: OpRead, Endpoint: endpoint, Path: fullPath.String(), Err: err}
	}

	var envelope deliveryResponse
	path := fmt.Sprintf("/clients/%v%v", url.PathEscape(endpoint), fullPath)
	if err := c.do(ctx, http.MethodGet, path, c.deviceQuery(), nil, &envelope); err != nil {
		return fail(err)
	}
	if err := envelope.failed(); err != nil {
		return fail(err)
	}

	var node resourceNode
	if err := envelope.decodeContent(&node); err != nil {
		return fail(err)
	}
	value, err := decodeValue(node)
	if err != nil {
		return fail(err)
	}
	return value, nil
}

// Write writes one or more resources of an object instance on a device as a
// single partial instance update. An error is returned when the device
// rejects any of the values.
func (c *Client) Write(ctx context.Context, endpoint string, instance ObjectInstance, values ...ResourceValue) error {
	fail := func(err error) error {
		return &OpError{Op: OpWrite, Endpoint: endpoint, Path: instance.String(), Err: err}
	}
	if len(values) == 0 {
		return fail(errors.New("no values to write"))
	}

	var envelope deliveryResponse
	path := fmt.Sprintf("/clients/%v%v", url.PathEscape(endpoint), instance)
	body := newWriteRequest(instance.InstanceID, values)
	if err := c.do(ctx, http.MethodPut, path, c.deviceQuery(), body, &envelope); err != nil {
		return fail(err)
	}
	if err := envelope.failed(); err != nil {
		return fail(err)
	}
	return nil
}

// Observe asks the server to observe a resource on a device. Notifications
// arrive on the server's event stream, not on this call.
func (c *Client) Observe(ctx context.Context, endpoint string, instance ObjectInstance, resource lwm2m.ResourceID) error {
	fullPath := instance.Path(resource)
	fail := func(err error) error {
		return &OpError{Op: OpObserve, Endpoint: endpoint, Path: fullPath.String(), Err: err}
	}

	var envelope deliveryResponse
	path := fmt.Sprintf("/clients/%v%v/observe", url.PathEscape(endpoint), fullPath)
	if err := c.do(ctx, http.MethodPost, path, c.deviceQuery(), nil, &envelope); err != nil {
		return fail(err)
	}
	if err := envelope.failed(); err != nil {
		return fail(err)
	}
	return nil
}

// CancelObserve actively cancels an observation of a resource on a device.
func (c *Client) CancelObserve(ctx context.Context, endpoint string, instance ObjectInstance, resource lwm2m.ResourceID) error {
	fullPath := instance.Path(resource)
	fail := func(err error) error {
		return &OpError{Op: OpCancelObserve, Endpoint: endpoint, Path: fullPath.String(), Err: err}
	}

	query := c.deviceQuery()
	query.Set("active", "true")
	path := fmt.Sprintf("/clients/%v%v/observe", url.PathEscape(endpoint), fullPath)
	if err := c.do(ctx, http.MethodDelete, path, query, nil, nil); err != nil {
		return fail(err)
	}
	return nil
}

// deviceQuery returns the query parameters shared by device operations. The
// server-side timeout is kept below the HTTP timeout so the server answers
// before the local client gives up.
func (c *Client) deviceQuery() url.Values {
	seconds := int(c.timeout.Seconds()) - 1
	if seconds < 1 {
		seconds = 1
	}
	return url.Values{"timeout": []string{strconv.Itoa(seconds)}}
}

// deliveryResponse is the envelope the server wraps device operation results
// in. A request can succeed on the HTTP layer yet fail on the device.
type deliveryResponse struct {
	Status       string          `json:"status"`
	Valid        bool            `json:"valid"`
	Success      bool            `json:"success"`
	Failure      bool            `json:"failure"`
	ErrorMessage string          `json:"errorMessage"`
	Content      json.RawMessage `json:"content"`
}

func (r *deliveryResponse) failed() error {
	if !r.Failure && r.Success {
		return nil
	}
	message := r.ErrorMessage
	if message == "" {
		message = r.Status
	}
	return &APIError{StatusCode: statusCode(r.Status), Message: message}
}

func (r *deliveryResponse) decodeContent(out any) error {
	if len(r.Content) == 0 {
		return ErrEmptyResponse
	}
	return json.Unmarshal(r.Content, out)
}

// statusCode extracts the numeric code from a status like "CHANGED(204)".
func statusCode(status string) int {
	from := strings.IndexByte(status, '(')
	to := strings.IndexByte(status, ')')
	if from < 0 || to <= from {
		return 0
	}
	code, err := strconv.Atoi(status[from+1 : to])
	if err != nil {
		return 0
	}
	return code
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return &ConnectionError{URL: target, Timeout: isTimeout(err), Err: err}
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return &ConnectionError{URL: target, Timeout: isTimeout(err), Err: err}
	}
	if response.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: response.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts a message from an error response body, which the
// server sends either as JSON or as plain text.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
