package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/quayside-ai/mcp-agent-go/internal/schema"
)

// Tool is the generic interface for locally registered tools, served to
// the model alongside the remote MCP tools. The type parameter T
// defines the input struct deserialized from the model's arguments.
type Tool[T any] interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input T) (*ToolOutput, error)
}

// ToolOutput is the result of a local tool execution.
type ToolOutput struct {
	Content string
	IsError bool
}

// TextOutput is a convenience constructor for a successful result.
func TextOutput(text string) *ToolOutput {
	return &ToolOutput{Content: text}
}

// ErrorOutput is a convenience constructor for an error result.
func ErrorOutput(text string) *ToolOutput {
	return &ToolOutput{Content: text, IsError: true}
}

// toolEntry is the type-erased wrapper stored in the registry.
type toolEntry struct {
	name        string
	description string
	schema      anthropic.ToolInputSchemaParam
	execute     func(ctx context.Context, raw json.RawMessage) (*ToolOutput, error)
}

// ToolRegistry manages locally registered tools. It is concurrent-safe.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*toolEntry
	order []string // preserve registration order
}

// NewToolRegistry creates a new empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*toolEntry),
	}
}

// RegisterTool registers a generic tool into the registry.
// The input type T is used to auto-generate a JSON Schema.
func RegisterTool[T any](r *ToolRegistry, tool Tool[T]) {
	s := schema.Generate[T]()
	entry := &toolEntry{
		name:        tool.Name(),
		description: tool.Description(),
		schema:      s,
		execute: func(ctx context.Context, raw json.RawMessage) (*ToolOutput, error) {
			var input T
			if err := json.Unmarshal(raw, &input); err != nil {
				return ErrorOutput(fmt.Sprintf("invalid input: %s", err.Error())), nil
			}
			return tool.Execute(ctx, input)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[entry.name]; !exists {
		r.order = append(r.order, entry.name)
	}
	r.tools[entry.name] = entry
}

// Execute runs a tool by name with the given raw JSON input.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (*ToolOutput, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return entry.execute(ctx, input)
}

// ListForAPI returns the registered tools in the format expected by the
// Anthropic API.
func (r *ToolRegistry) ListForAPI() []anthropic.ToolUnionParam {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]anthropic.ToolUnionParam, 0, len(r.tools))
	for _, name := range r.order {
		entry := r.tools[name]
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        entry.name,
				Description: param.NewOpt(entry.description),
				InputSchema: entry.schema,
			},
		})
	}
	return result
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

func (r *ToolRegistry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}
