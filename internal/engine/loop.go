// Package engine contains the agentic tool-use loop: it alternates
// completion calls with tool dispatches until the model stops asking
// for tools, an iteration ceiling is hit, or the budget runs out.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// CompletionService abstracts the Anthropic Messages API so the loop
// can be tested with a mock. Production code passes the real
// client.Messages wrapped by NewCompletionService.
type CompletionService interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

type messageServiceAdapter struct {
	svc *anthropic.MessageService
}

func (a *messageServiceAdapter) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return a.svc.New(ctx, params)
}

// NewCompletionService wraps a real anthropic.MessageService as a
// CompletionService.
func NewCompletionService(svc *anthropic.MessageService) CompletionService {
	return &messageServiceAdapter{svc: svc}
}

// ToolDispatcher supplies the sanitized tool declarations shown to the
// model and executes the tool calls it requests. Dispatch receives the
// argument keys exactly as the model produced them; mapping sanitized
// keys back to the server's original names is the dispatcher's job.
type ToolDispatcher interface {
	Declarations() []anthropic.ToolUnionParam
	Dispatch(ctx context.Context, name string, args map[string]any) (content string, isError bool, err error)
}

// BudgetChecker lets the loop record per-call usage and stop early when
// a spending cap is exhausted. Optional.
type BudgetChecker interface {
	Record(model anthropic.Model, usage anthropic.Usage)
	Exhausted() bool
}

// UpdateKind tags a streaming update.
type UpdateKind string

const (
	// UpdateText is a plain-text segment from the assistant.
	UpdateText UpdateKind = "text"
	// UpdateToolNotice announces a tool invocation attempt (name and
	// arguments), emitted before the call regardless of its outcome.
	UpdateToolNotice UpdateKind = "tool_notice"
	// UpdateWarning reports an early termination (iteration ceiling or
	// exhausted budget).
	UpdateWarning UpdateKind = "warning"
	// UpdateError reports a terminal completion-service failure.
	UpdateError UpdateKind = "error"
)

// Update is one incremental event pushed to the streaming observer.
type Update struct {
	Kind UpdateKind
	Text string
}

// UpdateFunc receives updates as the loop runs. May be nil.
type UpdateFunc func(Update)

// Stop describes why the loop ended.
type Stop string

const (
	StopEndTurn       Stop = "end_turn"
	StopMaxIterations Stop = "max_iterations"
	StopBudget        Stop = "budget_exhausted"
	StopError         Stop = "error"
)

// LoopConfig holds everything one loop invocation needs.
type LoopConfig struct {
	Completions CompletionService
	Tools       ToolDispatcher
	Model       anthropic.Model
	MaxTokens   int64

	// MaxIterations bounds the number of completion calls. Must be
	// positive.
	MaxIterations int

	System string

	// Messages is the mutable transcript, seeded with the user turn.
	// The loop appends to it in strict chronological order.
	Messages *[]anthropic.MessageParam

	OnUpdate UpdateFunc
	Budget   BudgetChecker
}

// Result is the outcome of one loop invocation.
type Result struct {
	// Output is the accumulated assistant text, including any warning
	// appended on early termination.
	Output     string
	Iterations int
	Stop       Stop

	// Err is set only for StopError; partial output already emitted is
	// kept.
	Err error

	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
}

// RunLoop executes the tool-use loop in the calling goroutine. Each
// iteration issues one completion call, emits text segments as they
// arrive, dispatches any requested tool calls in order, and feeds the
// results back into the transcript. A failed tool call becomes an
// error turn the model can react to; only a failed completion call is
// terminal.
func RunLoop(ctx context.Context, cfg LoopConfig) Result {
	res := Result{Stop: StopEndTurn}
	var output strings.Builder

	emit := func(kind UpdateKind, text string) {
		if cfg.OnUpdate != nil {
			cfg.OnUpdate(Update{Kind: kind, Text: text})
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			emit(UpdateError, err.Error())
			res.Err = err
			res.Stop = StopError
			res.Output = output.String()
			return res
		}

		params := anthropic.MessageNewParams{
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Messages:  *cfg.Messages,
		}
		if cfg.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: cfg.System}}
		}
		if tools := cfg.Tools.Declarations(); len(tools) > 0 {
			params.Tools = tools
		}

		msg, err := cfg.Completions.CreateMessage(ctx, params)
		if err != nil {
			emit(UpdateError, err.Error())
			res.Err = fmt.Errorf("completion call failed: %w", err)
			res.Stop = StopError
			res.Output = output.String()
			return res
		}
		res.Iterations++

		res.InputTokens += msg.Usage.InputTokens
		res.OutputTokens += msg.Usage.OutputTokens
		res.CacheReadInputTokens += msg.Usage.CacheReadInputTokens
		res.CacheCreationInputTokens += msg.Usage.CacheCreationInputTokens
		if cfg.Budget != nil {
			cfg.Budget.Record(cfg.Model, msg.Usage)
		}

		*cfg.Messages = append(*cfg.Messages, msg.ToParam())

		// Partition content blocks in response order: text segments
		// stream out immediately, tool requests queue for dispatch.
		var toolUses []anthropic.ToolUseBlock
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					emit(UpdateText, block.Text)
					output.WriteString(block.Text)
				}
			case "tool_use":
				// Read the union's flattened fields directly: AsToolUse
				// rehydrates from the stored raw JSON, which is absent on
				// values not decoded from the wire.
				toolUses = append(toolUses, anthropic.ToolUseBlock{
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				})
			}
		}

		if len(toolUses) == 0 {
			res.Stop = StopEndTurn
			res.Output = output.String()
			return res
		}

		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, tu := range toolUses {
			emit(UpdateToolNotice, fmt.Sprintf("calling tool %s with %s", tu.Name, string(tu.Input)))

			args, perr := decodeArguments(tu.Input)
			if perr != nil {
				results = append(results, anthropic.NewToolResultBlock(tu.ID, perr.Error(), true))
				continue
			}

			content, isError, derr := cfg.Tools.Dispatch(ctx, tu.Name, args)
			if derr != nil {
				results = append(results, anthropic.NewToolResultBlock(tu.ID, fmt.Sprintf("error: %s", derr.Error()), true))
				continue
			}
			results = append(results, anthropic.NewToolResultBlock(tu.ID, content, isError))
		}
		*cfg.Messages = append(*cfg.Messages, anthropic.NewUserMessage(results...))

		if res.Iterations >= cfg.MaxIterations {
			warning := fmt.Sprintf("stopped after reaching the limit of %d tool iterations", cfg.MaxIterations)
			*cfg.Messages = append(*cfg.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(warning)))
			emit(UpdateWarning, warning)
			output.WriteString(warning)
			res.Stop = StopMaxIterations
			res.Output = output.String()
			return res
		}

		if cfg.Budget != nil && cfg.Budget.Exhausted() {
			warning := "stopped after exhausting the query budget"
			*cfg.Messages = append(*cfg.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(warning)))
			emit(UpdateWarning, warning)
			output.WriteString(warning)
			res.Stop = StopBudget
			res.Output = output.String()
			return res
		}
	}
}

// decodeArguments parses a tool_use input payload, rejecting anything
// that is not a JSON object before it reaches the network.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object, got %s", string(raw))
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
