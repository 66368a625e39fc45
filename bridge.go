package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/quayside-ai/mcp-agent-go/internal/schema"
	"github.com/quayside-ai/mcp-agent-go/mcp"
	"github.com/quayside-ai/mcp-agent-go/permission"
)

// BridgedToolName builds the name a remote tool is declared under to
// the completion API: "mcp__{server}__{tool}", with both parts run
// through the same character sanitization as schema keys.
func BridgedToolName(server, tool string) string {
	return "mcp__" + schema.SanitizeKey(server) + "__" + schema.SanitizeKey(tool)
}

// bridgedTool carries what Dispatch needs to call one remote tool: the
// server's original tool name and the sanitized-to-original mapping for
// its top-level argument keys. The model only ever sees sanitized key
// names, so arguments it produces must be translated back before they
// reach the server.
type bridgedTool struct {
	original string
	keyMap   map[string]string
}

func (bt bridgedTool) restoreKeys(args map[string]any) map[string]any {
	restored := make(map[string]any, len(args))
	for k, v := range args {
		if orig, ok := bt.keyMap[k]; ok {
			restored[orig] = v
			continue
		}
		restored[k] = v
	}
	return restored
}

// toolBridge exposes one connected server's tools, plus any locally
// registered tools, as a single dispatcher for the loop.
type toolBridge struct {
	client *mcp.Client
	local  *ToolRegistry
	rules  []permission.Rule

	decls  []anthropic.ToolUnionParam
	remote map[string]bridgedTool
}

// newToolBridge sanitizes every descriptor's schema once, up front, and
// records the key mappings needed to undo the sanitization at dispatch
// time.
func newToolBridge(client *mcp.Client, descriptors []mcp.ToolDescriptor, local *ToolRegistry, rules []permission.Rule) *toolBridge {
	b := &toolBridge{
		client: client,
		local:  local,
		rules:  rules,
		remote: make(map[string]bridgedTool, len(descriptors)),
	}

	for _, d := range descriptors {
		name := BridgedToolName(client.Name(), d.Name)
		sanitized, _ := schema.Sanitize(d.InputSchema).(map[string]any)

		keyMap := make(map[string]string)
		if props, ok := d.InputSchema["properties"].(map[string]any); ok {
			for orig := range props {
				keyMap[schema.SanitizeKey(orig)] = orig
			}
		}

		b.remote[name] = bridgedTool{original: d.Name, keyMap: keyMap}

		// Tools the rules forbid are never declared to the model.
		if !permission.Allowed(rules, name) {
			continue
		}
		b.decls = append(b.decls, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: param.NewOpt(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: sanitized["properties"],
					Required:   requiredStrings(sanitized["required"]),
				},
			},
		})
	}
	return b
}

// Declarations returns the sanitized remote declarations followed by
// the local tools.
func (b *toolBridge) Declarations() []anthropic.ToolUnionParam {
	decls := append([]anthropic.ToolUnionParam(nil), b.decls...)
	if b.local != nil {
		decls = append(decls, b.local.ListForAPI()...)
	}
	return decls
}

// Dispatch routes a tool call to the local registry or the remote
// server. Remote arguments are translated back to the server's
// original key names before the call.
func (b *toolBridge) Dispatch(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if !permission.Allowed(b.rules, name) {
		return "", false, fmt.Errorf("tool %q is not permitted", name)
	}

	if b.local != nil && b.local.has(name) {
		raw, err := json.Marshal(args)
		if err != nil {
			return "", false, err
		}
		out, err := b.local.Execute(ctx, name, raw)
		if err != nil {
			return "", false, err
		}
		return out.Content, out.IsError, nil
	}

	bt, ok := b.remote[name]
	if !ok {
		return "", false, fmt.Errorf("unknown tool: %s", name)
	}
	result, err := b.client.CallTool(ctx, bt.original, bt.restoreKeys(args))
	if err != nil {
		return "", false, err
	}
	return result.Content, result.IsError, nil
}

func requiredStrings(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, entry := range req {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
