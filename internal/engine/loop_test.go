package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

// mockCompletions implements CompletionService, returning pre-built
// messages for successive calls.
type mockCompletions struct {
	mu         sync.Mutex
	responses  []*anthropic.Message
	repeatLast bool
	err        error
	calls      int
}

func (m *mockCompletions) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	if m.err != nil && idx >= len(m.responses) {
		return nil, m.err
	}
	if idx >= len(m.responses) {
		if m.repeatLast && len(m.responses) > 0 {
			return m.responses[len(m.responses)-1], nil
		}
		return nil, fmt.Errorf("no more mock responses")
	}
	return m.responses[idx], nil
}

func (m *mockCompletions) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type dispatchCall struct {
	name string
	args map[string]any
}

// mockDispatcher implements ToolDispatcher for testing.
type mockDispatcher struct {
	mu    sync.Mutex
	decls []anthropic.ToolUnionParam
	fn    func(name string, args map[string]any) (string, bool, error)
	calls []dispatchCall
}

func (m *mockDispatcher) Declarations() []anthropic.ToolUnionParam { return m.decls }

func (m *mockDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, dispatchCall{name: name, args: args})
	m.mu.Unlock()
	if m.fn == nil {
		return "ok", false, nil
	}
	return m.fn(name, args)
}

func (m *mockDispatcher) dispatched() []dispatchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatchCall(nil), m.calls...)
}

// updateCollector records every streaming update.
type updateCollector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *updateCollector) fn(u Update) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
}

func (c *updateCollector) ofKind(kind UpdateKind) []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Update
	for _, u := range c.updates {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// --- Message builders ---

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Role:       "assistant",
		StopReason: anthropic.StopReasonEndTurn,
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
		Usage: anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolUseMessage(id, name, input string) *anthropic.Message {
	return &anthropic.Message{
		Role:       "assistant",
		StopReason: anthropic.StopReasonToolUse,
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(input)},
		},
		Usage: anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func baseConfig(svc CompletionService, tools ToolDispatcher, msgs *[]anthropic.MessageParam) LoopConfig {
	return LoopConfig{
		Completions:   svc,
		Tools:         tools,
		Model:         anthropic.ModelClaudeSonnet4_5,
		MaxTokens:     1024,
		MaxIterations: 10,
		Messages:      msgs,
	}
}

func seedMessages(prompt string) []anthropic.MessageParam {
	return []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
}

// --- Tests ---

func TestRunLoopTextOnly(t *testing.T) {
	svc := &mockCompletions{responses: []*anthropic.Message{textMessage("hello there")}}
	tools := &mockDispatcher{}
	msgs := seedMessages("hi")
	collector := &updateCollector{}

	cfg := baseConfig(svc, tools, &msgs)
	cfg.OnUpdate = collector.fn
	res := RunLoop(context.Background(), cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, StopEndTurn, res.Stop)
	assert.Equal(t, "hello there", res.Output)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, int64(10), res.InputTokens)
	assert.Equal(t, int64(5), res.OutputTokens)
	assert.Empty(t, tools.dispatched())

	texts := collector.ofKind(UpdateText)
	require.Len(t, texts, 1)
	assert.Equal(t, "hello there", texts[0].Text)

	// Transcript: user turn + assistant turn.
	assert.Len(t, msgs, 2)
}

func TestRunLoopDispatchesTools(t *testing.T) {
	svc := &mockCompletions{responses: []*anthropic.Message{
		toolUseMessage("toolu_1", "echo", `{"value":"ping"}`),
		textMessage("done"),
	}}
	tools := &mockDispatcher{
		fn: func(name string, args map[string]any) (string, bool, error) {
			return "pong", false, nil
		},
	}
	msgs := seedMessages("call echo")
	collector := &updateCollector{}

	cfg := baseConfig(svc, tools, &msgs)
	cfg.OnUpdate = collector.fn
	res := RunLoop(context.Background(), cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, StopEndTurn, res.Stop)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, 2, res.Iterations)

	calls := tools.dispatched()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].name)
	assert.Equal(t, map[string]any{"value": "ping"}, calls[0].args)

	notices := collector.ofKind(UpdateToolNotice)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Text, "echo")

	// user, assistant(tool_use), user(tool_result), assistant(text)
	require.Len(t, msgs, 4)
	require.Len(t, msgs[2].Content, 1)
	result := msgs[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "toolu_1", result.ToolUseID)
	assert.False(t, result.IsError.Value)
}

func TestRunLoopTerminationBound(t *testing.T) {
	// The model always asks for another tool call; the loop must stop
	// after exactly MaxIterations completion calls.
	svc := &mockCompletions{
		responses:  []*anthropic.Message{toolUseMessage("toolu_1", "spin", `{}`)},
		repeatLast: true,
	}
	tools := &mockDispatcher{}
	msgs := seedMessages("go")
	collector := &updateCollector{}

	cfg := baseConfig(svc, tools, &msgs)
	cfg.MaxIterations = 3
	cfg.OnUpdate = collector.fn
	res := RunLoop(context.Background(), cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, StopMaxIterations, res.Stop)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, svc.callCount())
	assert.Contains(t, res.Output, "tool iterations")

	warnings := collector.ofKind(UpdateWarning)
	require.Len(t, warnings, 1)

	// The warning turn is appended after the last tool-result turn.
	last := msgs[len(msgs)-1]
	require.Len(t, last.Content, 1)
	require.NotNil(t, last.Content[0].OfText)
	assert.Contains(t, last.Content[0].OfText.Text, "tool iterations")
}

func TestRunLoopToolFailureIsNotFatal(t *testing.T) {
	svc := &mockCompletions{responses: []*anthropic.Message{
		toolUseMessage("toolu_1", "flaky", `{"n":1}`),
		textMessage("recovered"),
	}}
	tools := &mockDispatcher{
		fn: func(name string, args map[string]any) (string, bool, error) {
			return "", false, errors.New("backend unavailable")
		},
	}
	msgs := seedMessages("try it")

	res := RunLoop(context.Background(), baseConfig(svc, tools, &msgs))

	require.NoError(t, res.Err)
	assert.Equal(t, StopEndTurn, res.Stop)
	assert.Equal(t, "recovered", res.Output)
	assert.Equal(t, 2, svc.callCount(), "loop must issue another completion call after a failed tool")

	result := msgs[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError.Value)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].OfText.Text, "backend unavailable")
}

func TestRunLoopRejectsNonObjectArguments(t *testing.T) {
	svc := &mockCompletions{responses: []*anthropic.Message{
		toolUseMessage("toolu_1", "echo", `[1,2,3]`),
		textMessage("ok"),
	}}
	tools := &mockDispatcher{}
	msgs := seedMessages("go")

	res := RunLoop(context.Background(), baseConfig(svc, tools, &msgs))

	require.NoError(t, res.Err)
	assert.Empty(t, tools.dispatched(), "malformed arguments must be rejected before dispatch")

	result := msgs[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError.Value)
	assert.Contains(t, result.Content[0].OfText.Text, "JSON object")
}

func TestRunLoopCompletionFailureIsTerminal(t *testing.T) {
	svc := &mockCompletions{
		responses: []*anthropic.Message{toolUseMessage("toolu_1", "echo", `{}`)},
		err:       errors.New("service unavailable"),
	}
	tools := &mockDispatcher{}
	collector := &updateCollector{}
	msgs := seedMessages("go")

	cfg := baseConfig(svc, tools, &msgs)
	cfg.OnUpdate = collector.fn
	res := RunLoop(context.Background(), cfg)

	require.Error(t, res.Err)
	assert.Equal(t, StopError, res.Stop)
	assert.ErrorContains(t, res.Err, "service unavailable")
	assert.Equal(t, 2, svc.callCount())

	errs := collector.ofKind(UpdateError)
	require.Len(t, errs, 1)
}

type fixedBudget struct {
	mu        sync.Mutex
	recorded  int
	exhausted bool
}

func (b *fixedBudget) Record(model anthropic.Model, usage anthropic.Usage) {
	b.mu.Lock()
	b.recorded++
	b.mu.Unlock()
}

func (b *fixedBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted
}

func TestRunLoopStopsOnExhaustedBudget(t *testing.T) {
	svc := &mockCompletions{
		responses:  []*anthropic.Message{toolUseMessage("toolu_1", "spin", `{}`)},
		repeatLast: true,
	}
	tools := &mockDispatcher{}
	msgs := seedMessages("go")
	budget := &fixedBudget{exhausted: true}

	cfg := baseConfig(svc, tools, &msgs)
	cfg.Budget = budget
	res := RunLoop(context.Background(), cfg)

	require.NoError(t, res.Err)
	assert.Equal(t, StopBudget, res.Stop)
	assert.Equal(t, 1, svc.callCount())
	assert.Equal(t, 1, budget.recorded)
	assert.Contains(t, res.Output, "budget")
}

func TestRunLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &mockCompletions{responses: []*anthropic.Message{textMessage("never")}}
	msgs := seedMessages("go")

	res := RunLoop(ctx, baseConfig(svc, &mockDispatcher{}, &msgs))

	assert.Equal(t, StopError, res.Stop)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, svc.callCount())
}
