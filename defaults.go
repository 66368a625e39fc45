package agent

// Loop and model defaults.
const (
	// DefaultModel is used when no model is specified.
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxOutputTokens is the maximum output tokens per
	// completion response.
	DefaultMaxOutputTokens = 16_384

	// DefaultMaxIterations bounds the completion calls per query. Each
	// iteration is one completion call plus the tool dispatches it
	// requested.
	DefaultMaxIterations = 10
)
