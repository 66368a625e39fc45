package agent

import "errors"

// Sentinel errors returned by Query.
var (
	ErrEmptyPrompt = errors.New("agent: empty prompt")
	ErrNoServer    = errors.New("agent: no connected server available")
)
