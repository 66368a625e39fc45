package mcp

import (
	"context"
	"encoding/json"
)

// Notification is a server-pushed message outside the request/response
// cycle, identified by its JSON-RPC method name.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Well-known notification methods the client reacts to.
const (
	methodProgress = "notifications/progress"
	methodLogging  = "notifications/message"
)

// ToolDescriptor describes one tool exposed by a server, with its raw
// (unsanitized) input schema.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolResult is the outcome of invoking a remote tool.
type ToolResult struct {
	Content string
	IsError bool
}

// Capabilities is the capability set negotiated during the handshake.
type Capabilities struct {
	Tools           bool
	Resources       bool
	Prompts         bool
	ProtocolVersion string
	ServerName      string
	ServerVersion   string
}

// Session is the transport primitive beneath a Client. It is owned
// exclusively by the Client that dialed it and is closed on disconnect.
// The two supported transports differ only in how the session is
// constructed; everything above this interface is transport-agnostic.
type Session interface {
	// Initialize performs the protocol handshake and returns the
	// server's negotiated capability set.
	Initialize(ctx context.Context) (*Capabilities, error)

	// ListTools fetches the server's tool descriptors.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool by its server-side name. Argument keys
	// must be the original names the server declared.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// OnNotification registers the handler for server-pushed
	// notifications. At most one handler is active per session.
	OnNotification(fn func(Notification))

	// Close tears down the session. Safe to call more than once.
	Close() error
}

// SessionDialer opens a transport session for a server config. The
// Registry injects DialSession in production; tests inject fakes.
type SessionDialer func(ctx context.Context, cfg ServerConfig) (Session, error)
