package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the MCP package.
var (
	// ErrNotConnected is returned when a request is attempted on a
	// client that is disconnected or in the error state. Requests are
	// never queued while the session is down.
	ErrNotConnected = errors.New("mcp: server not connected")

	// ErrServerNotFound is returned when referencing a server name
	// that is not configured in the Registry.
	ErrServerNotFound = errors.New("mcp: no such server")

	// ErrInvalidConfig is returned when a ServerConfig is missing
	// required fields for its transport type.
	ErrInvalidConfig = errors.New("mcp: invalid server config")

	// ErrConnecting is returned when Connect is called while another
	// handshake is already in flight on the same client.
	ErrConnecting = errors.New("mcp: connect already in progress")
)

// ConnectionError reports a failed handshake. The client records the
// error in its state as well, so a later Snapshot can observe it.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: connect %s: %s", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RequestError reports a failed request on an established session:
// a timeout, a transport failure, or a remote protocol error.
type RequestError struct {
	Server  string
	Op      string
	Timeout bool
	Err     error
}

func (e *RequestError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("mcp: %s %s: timed out: %s", e.Op, e.Server, e.Err)
	}
	return fmt.Sprintf("mcp: %s %s: %s", e.Op, e.Server, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
