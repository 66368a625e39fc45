package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// Client identity reported during the protocol handshake.
const (
	clientName    = "mcp-agent-go"
	clientVersion = "1.0.0"
)

// DialSession opens a session using the transport named in the config.
// It starts the underlying stream but does not perform the handshake;
// that is the Client's job via Session.Initialize.
func DialSession(ctx context.Context, cfg ServerConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		mc  *client.Client
		err error
	)
	switch cfg.Transport {
	case TransportSSE:
		mc, err = client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.requestHeaders()))
	case TransportStreamableHTTP:
		mc, err = client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.requestHeaders()))
	default:
		return nil, ErrInvalidConfig
	}
	if err != nil {
		return nil, err
	}

	if err := mc.Start(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	return &httpSession{mc: mc}, nil
}

// httpSession adapts a mcp-go client to the Session interface. Both
// HTTP transport kinds share this wrapper.
type httpSession struct {
	mc *client.Client
}

var _ Session = (*httpSession)(nil)

func (s *httpSession) Initialize(ctx context.Context) (*Capabilities, error) {
	req := mcpproto.InitializeRequest{
		Params: struct {
			ProtocolVersion string                      `json:"protocolVersion"`
			Capabilities    mcpproto.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcpproto.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpproto.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcpproto.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcpproto.ClientCapabilities{},
		},
	}

	result, err := s.mc.Initialize(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Capabilities{
		Tools:           result.Capabilities.Tools != nil,
		Resources:       result.Capabilities.Resources != nil,
		Prompts:         result.Capabilities.Prompts != nil,
		ProtocolVersion: result.ProtocolVersion,
		ServerName:      result.ServerInfo.Name,
		ServerVersion:   result.ServerInfo.Version,
	}, nil
}

func (s *httpSession) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := s.mc.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toolSchemaMap(t),
		})
	}
	return tools, nil
}

// toolSchemaMap decodes the tool's input schema into a generic map so
// the sanitizer can work on it without knowing mcp-go's schema types.
func toolSchemaMap(t mcpproto.Tool) map[string]any {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (s *httpSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	req := mcpproto.CallToolRequest{
		Params: mcpproto.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	result, err := s.mc.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ToolResult{
		Content: flattenContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// flattenContent joins the result's content blocks into one string.
// Text blocks contribute their text; anything else is passed through
// as JSON so the completion service still sees it.
func flattenContent(blocks []mcpproto.Content) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if tc, ok := b.(mcpproto.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if raw, err := json.Marshal(b); err == nil {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}

func (s *httpSession) OnNotification(fn func(Notification)) {
	s.mc.OnNotification(func(n mcpproto.JSONRPCNotification) {
		params, err := json.Marshal(n.Params)
		if err != nil {
			params = nil
		}
		fn(Notification{Method: n.Method, Params: params})
	})
}

func (s *httpSession) Close() error {
	return s.mc.Close()
}
