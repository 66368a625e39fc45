package agent

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"

	"github.com/quayside-ai/mcp-agent-go/permission"
)

// Option configures an Agent via the functional options pattern.
type Option func(*agentOptions)

// agentOptions holds all configurable fields set via Option functions.
type agentOptions struct {
	model           anthropic.Model
	maxOutputTokens int64
	maxIterations   int
	maxBudget       decimal.Decimal
	systemPrompt    string
	toolRules       []permission.Rule

	// completions overrides the real API client; used by tests.
	completions CompletionService
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (o *agentOptions) applyDefaults() {
	if o.model == "" {
		o.model = DefaultModel
	}
	if o.maxOutputTokens == 0 {
		o.maxOutputTokens = DefaultMaxOutputTokens
	}
	if o.maxIterations == 0 {
		o.maxIterations = DefaultMaxIterations
	}
}

// resolveOptions applies all option functions and fills defaults.
func resolveOptions(opts []Option) agentOptions {
	var o agentOptions
	for _, fn := range opts {
		fn(&o)
	}
	o.applyDefaults()
	return o
}

// WithModel sets the Claude model to use.
// Use constants from anthropic-sdk-go, e.g. anthropic.ModelClaudeSonnet4_5.
func WithModel(model anthropic.Model) Option {
	return func(o *agentOptions) { o.model = model }
}

// WithMaxOutputTokens sets the maximum output tokens per completion
// response.
func WithMaxOutputTokens(tokens int64) Option {
	return func(o *agentOptions) { o.maxOutputTokens = tokens }
}

// WithMaxIterations bounds the completion calls per query.
func WithMaxIterations(n int) Option {
	return func(o *agentOptions) { o.maxIterations = n }
}

// WithBudget sets the maximum spend in USD per query. Zero means
// unlimited.
func WithBudget(maxUSD decimal.Decimal) Option {
	return func(o *agentOptions) { o.maxBudget = maxUSD }
}

// WithSystemPrompt sets the default system prompt, overridable per
// query.
func WithSystemPrompt(prompt string) Option {
	return func(o *agentOptions) { o.systemPrompt = prompt }
}

// WithToolRules restricts which tools the loop may dispatch. Remote
// tools are matched by their bridged names ("mcp__server__tool").
func WithToolRules(rules ...permission.Rule) Option {
	return func(o *agentOptions) { o.toolRules = rules }
}

// WithCompletionService replaces the API client. Tests use this to
// inject a mock completion service.
func WithCompletionService(svc CompletionService) Option {
	return func(o *agentOptions) { o.completions = svc }
}
