// Package mcp provides the protocol layer for connecting to remote MCP
// (Model Context Protocol) tool servers. A Client owns the session to
// exactly one server; a Registry owns all configured servers and hands
// out connected Clients on demand.
package mcp

import (
	"fmt"
	"time"
)

// TransportType identifies how the session to a server is established.
type TransportType string

const (
	// TransportSSE communicates via HTTP Server-Sent Events.
	TransportSSE TransportType = "sse"

	// TransportStreamableHTTP communicates via HTTP streaming.
	TransportStreamableHTTP TransportType = "streamable-http"
)

// ServerConfig describes how to reach a single MCP server. Values are
// immutable after construction; replace the config in the Registry
// rather than mutating fields on a stored copy.
type ServerConfig struct {
	// Transport selects the session protocol.
	Transport TransportType

	// URL is the server endpoint.
	URL string

	// Headers are extra HTTP headers sent on every request.
	Headers map[string]string

	// AuthToken, when set, is sent as a bearer Authorization header.
	AuthToken string

	// Flags are optional capability hints recorded alongside the config.
	Flags []string

	// Timeout overrides the registry-wide timeout policy for this
	// server when non-nil.
	Timeout *TimeoutPolicy
}

// Validate checks that the config is complete for its transport type.
func (c ServerConfig) Validate() error {
	switch c.Transport {
	case TransportSSE, TransportStreamableHTTP:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.URL == "" {
		return fmt.Errorf("%w: %s transport requires URL", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// requestHeaders merges Headers and AuthToken into one header map.
func (c ServerConfig) requestHeaders() map[string]string {
	if len(c.Headers) == 0 && c.AuthToken == "" {
		return nil
	}
	h := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		h[k] = v
	}
	if c.AuthToken != "" {
		h["Authorization"] = "Bearer " + c.AuthToken
	}
	return h
}

// TimeoutPolicy bounds every outbound request on a Client.
type TimeoutPolicy struct {
	// PerRequest is the deadline for a single request. Zero disables
	// the client-side deadline entirely.
	PerRequest time.Duration

	// ResetOnProgress extends the per-request deadline each time the
	// server sends a progress notification while the request is in
	// flight.
	ResetOnProgress bool

	// MaxTotal caps the cumulative elapsed time across all progress
	// extensions. Zero means no cumulative cap.
	MaxTotal time.Duration
}

// DefaultTimeoutPolicy returns the policy used when neither the caller
// nor the server config provides one.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		PerRequest:      30 * time.Second,
		ResetOnProgress: true,
		MaxTotal:        5 * time.Minute,
	}
}
