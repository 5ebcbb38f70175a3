package leshan

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the server answers with no content where
// content was expected.
var ErrEmptyResponse = errors.New("empty response from server")

// APIError is an error response from the Leshan server, either an HTTP error
// status or a failed delivery to the device reported in the response envelope
// (e.g. the device rejecting a write).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %v", e.StatusCode, e.Message)
}

// ConnectionError wraps transport failures reaching the server.
type ConnectionError struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("timeout connecting to server at %v: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("error connecting to server at %v: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Operations reported by OpError.
const (
	OpList          = "list"
	OpRead          = "read"
	OpWrite         = "write"
	OpObserve       = "observe"
	OpCancelObserve = "cancel observe"
)

// OpError tags an error with the failed operation and target, so that read
// failures stay distinguishable from write failures.
type OpError struct {
	Op       string
	Endpoint string
	Path     string
	Err      error
}

func (e *OpError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%v: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%v %v%v: %v", e.Op, e.Endpoint, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a connection timeout.
func IsTimeout(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Timeout
}
