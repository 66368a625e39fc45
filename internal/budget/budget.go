// Package budget tracks cumulative token usage and USD cost across the
// completion calls of a query, enforcing an optional spending cap.
package budget

import (
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// Usage holds token counts for a single completion call.
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
}

// ModelPricing holds per-model token prices in USD per million tokens.
type ModelPricing struct {
	InputPerMTok      decimal.Decimal
	OutputPerMTok     decimal.Decimal
	CacheWritePerMTok decimal.Decimal
	CacheReadPerMTok  decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// cost computes the USD cost of one call at this pricing.
func (p ModelPricing) cost(u Usage) decimal.Decimal {
	c := decimal.NewFromInt(u.InputTokens).Mul(p.InputPerMTok).Div(million)
	c = c.Add(decimal.NewFromInt(u.OutputTokens).Mul(p.OutputPerMTok).Div(million))
	c = c.Add(decimal.NewFromInt(u.CacheReadInputTokens).Mul(p.CacheReadPerMTok).Div(million))
	c = c.Add(decimal.NewFromInt(u.CacheCreationInputTokens).Mul(p.CacheWritePerMTok).Div(million))
	return c
}

// DefaultPricing contains built-in pricing for Claude models
// (USD per million tokens).
var DefaultPricing = map[anthropic.Model]ModelPricing{
	anthropic.ModelClaudeOpus4_6: {
		InputPerMTok:      decimal.NewFromFloat(5),
		OutputPerMTok:     decimal.NewFromFloat(25),
		CacheWritePerMTok: decimal.NewFromFloat(6.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.5),
	},
	anthropic.ModelClaudeSonnet4_5: {
		InputPerMTok:      decimal.NewFromFloat(3),
		OutputPerMTok:     decimal.NewFromFloat(15),
		CacheWritePerMTok: decimal.NewFromFloat(3.75),
		CacheReadPerMTok:  decimal.NewFromFloat(0.3),
	},
	anthropic.ModelClaudeHaiku4_5: {
		InputPerMTok:      decimal.NewFromFloat(1),
		OutputPerMTok:     decimal.NewFromFloat(5),
		CacheWritePerMTok: decimal.NewFromFloat(1.25),
		CacheReadPerMTok:  decimal.NewFromFloat(0.1),
	},
}

// Tracker accumulates usage and cost. Safe for concurrent use. A max
// budget of zero means unlimited.
type Tracker struct {
	mu         sync.Mutex
	maxBudget  decimal.Decimal
	totalCost  decimal.Decimal
	totalUsage Usage
	pricing    map[anthropic.Model]ModelPricing
}

// NewTracker creates a tracker with the given cap and pricing table.
func NewTracker(maxBudget decimal.Decimal, pricing map[anthropic.Model]ModelPricing) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Tracker{maxBudget: maxBudget, totalCost: decimal.Zero, pricing: pricing}
}

// Record adds one call's usage to the running totals. Unknown models
// have their tokens counted but contribute no cost.
func (t *Tracker) Record(model anthropic.Model, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalUsage.InputTokens += u.InputTokens
	t.totalUsage.OutputTokens += u.OutputTokens
	t.totalUsage.CacheReadInputTokens += u.CacheReadInputTokens
	t.totalUsage.CacheCreationInputTokens += u.CacheCreationInputTokens

	pricing, ok := t.pricing[model]
	if !ok {
		return
	}
	t.totalCost = t.totalCost.Add(pricing.cost(u))
}

// TotalCost returns the cumulative cost so far.
func (t *Tracker) TotalCost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// TotalUsage returns the cumulative token usage so far.
func (t *Tracker) TotalUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUsage
}

// Exhausted reports whether the cap has been reached. Always false
// when the cap is zero (unlimited).
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxBudget.IsZero() {
		return false
	}
	return t.totalCost.GreaterThanOrEqual(t.maxBudget)
}
