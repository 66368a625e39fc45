package agent

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quayside-ai/mcp-agent-go/internal/budget"
	"github.com/quayside-ai/mcp-agent-go/internal/engine"
	"github.com/quayside-ai/mcp-agent-go/mcp"
)

// CompletionService abstracts the Anthropic Messages API. Inject a
// custom implementation with WithCompletionService; the default wraps
// the real client.
type CompletionService = engine.CompletionService

// Update is one incremental event pushed to the query's streaming
// observer.
type Update = engine.Update

// UpdateKind tags a streaming update.
type UpdateKind = engine.UpdateKind

const (
	UpdateText       = engine.UpdateText
	UpdateToolNotice = engine.UpdateToolNotice
	UpdateWarning    = engine.UpdateWarning
	UpdateError      = engine.UpdateError
)

// Stop describes why a query's loop ended.
type Stop = engine.Stop

const (
	StopEndTurn       = engine.StopEndTurn
	StopMaxIterations = engine.StopMaxIterations
	StopBudget        = engine.StopBudget
	StopError         = engine.StopError
)

// Agent runs agentic queries against the tool servers held in an
// mcp.Registry. It is stateless across queries and safe for concurrent
// use; each Query builds its own transcript and budget.
type Agent struct {
	api      engine.CompletionService
	registry *mcp.Registry
	tools    *ToolRegistry
	opts     agentOptions
}

// New creates an Agent over the given registry. Credentials for the
// Anthropic API come from the environment (ANTHROPIC_API_KEY) unless a
// completion service is injected via WithCompletionService.
func New(registry *mcp.Registry, opts ...Option) *Agent {
	resolved := resolveOptions(opts)

	api := resolved.completions
	if api == nil {
		client := anthropic.NewClient()
		api = engine.NewCompletionService(&client.Messages)
	}

	return &Agent{
		api:      api,
		registry: registry,
		tools:    NewToolRegistry(),
		opts:     resolved,
	}
}

// Tools returns the registry for locally implemented tools, served to
// the model alongside the remote server's tools.
func (a *Agent) Tools() *ToolRegistry { return a.tools }

// Registry returns the server registry the agent queries against.
func (a *Agent) Registry() *mcp.Registry { return a.registry }

// QueryRequest describes one query.
type QueryRequest struct {
	// Server names the tool server to run against. Empty picks the
	// first connected server, by name order.
	Server string

	Prompt string

	// System overrides the agent-level system prompt for this query.
	System string

	// OnUpdate receives incremental text and tool notices while the
	// query runs. May be nil.
	OnUpdate func(Update)
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	ID         string
	Output     string
	Iterations int
	Stop       Stop

	CostUSD      decimal.Decimal
	InputTokens  int64
	OutputTokens int64

	// Transcript is the full turn sequence of the query, in order.
	Transcript []anthropic.MessageParam
}

// Query resolves a connected server, fetches and sanitizes its tool
// declarations, and runs the tool-use loop to completion. A non-nil
// result is returned even on error when partial output was produced.
func (a *Agent) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}

	client, err := a.resolveClient(ctx, req.Server)
	if err != nil {
		return nil, err
	}

	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	bridge := newToolBridge(client, descriptors, a.tools, a.opts.toolRules)

	tracker := budget.NewTracker(a.opts.maxBudget, nil)

	system := req.System
	if system == "" {
		system = a.opts.systemPrompt
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}

	res := engine.RunLoop(ctx, engine.LoopConfig{
		Completions:   a.api,
		Tools:         bridge,
		Model:         a.opts.model,
		MaxTokens:     a.opts.maxOutputTokens,
		MaxIterations: a.opts.maxIterations,
		System:        system,
		Messages:      &messages,
		OnUpdate:      req.OnUpdate,
		Budget:        &trackerAdapter{tracker},
	})

	return &QueryResult{
		ID:           uuid.NewString(),
		Output:       res.Output,
		Iterations:   res.Iterations,
		Stop:         res.Stop,
		CostUSD:      tracker.TotalCost(),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Transcript:   messages,
	}, res.Err
}

// resolveClient picks the query's server: the named one, or the first
// connected one when no name is given.
func (a *Agent) resolveClient(ctx context.Context, server string) (*mcp.Client, error) {
	if server != "" {
		return a.registry.EnsureConnected(ctx, server)
	}
	for _, info := range a.registry.Snapshot() {
		if info.State == mcp.StateConnected {
			return a.registry.EnsureConnected(ctx, info.Name)
		}
	}
	return nil, ErrNoServer
}

// trackerAdapter exposes a budget.Tracker to the loop.
type trackerAdapter struct {
	tracker *budget.Tracker
}

func (t *trackerAdapter) Record(model anthropic.Model, usage anthropic.Usage) {
	t.tracker.Record(model, budget.Usage{
		InputTokens:              usage.InputTokens,
		OutputTokens:             usage.OutputTokens,
		CacheReadInputTokens:     usage.CacheReadInputTokens,
		CacheCreationInputTokens: usage.CacheCreationInputTokens,
	})
}

func (t *trackerAdapter) Exhausted() bool { return t.tracker.Exhausted() }
