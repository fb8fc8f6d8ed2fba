package token

import (
	"sort"
	"strings"
	"sync"
)

// ModelPricing contains pricing information for a specific model.
type ModelPricing struct {
	Model           string
	InputPer1M      float64 // USD per 1M input tokens
	OutputPer1M     float64 // USD per 1M output tokens
	CachedPer1M     float64 // USD per 1M cached input tokens
	SupportsCaching bool
}

// Cost is the computed USD cost of a single call.
type Cost struct {
	InputCost  float64
	OutputCost float64
	CachedCost float64
	TotalCost  float64
}

// PriceTable resolves per-model prices. Unknown exact model strings fall
// back to the longest registered prefix match, then to the default model's
// prices; lookups never fail.
type PriceTable struct {
	pricing      map[string]*ModelPricing
	defaultModel string
	mu           sync.RWMutex
}

// DefaultModel is the pricing fallback when no prefix matches.
const DefaultModel = "gpt-4o-mini"

// NewPriceTable creates a price table with default pricing loaded.
func NewPriceTable() *PriceTable {
	t := &PriceTable{
		pricing:      make(map[string]*ModelPricing),
		defaultModel: DefaultModel,
	}
	t.loadDefaults()
	return t
}

// loadDefaults seeds pricing for common models.
// Prices as of early 2025 - update periodically.
func (t *PriceTable) loadDefaults() {
	models := []*ModelPricing{
		{Model: "gpt-4", InputPer1M: 30.0, OutputPer1M: 60.0},
		{Model: "gpt-4-turbo", InputPer1M: 10.0, OutputPer1M: 30.0},
		{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0, CachedPer1M: 1.25, SupportsCaching: true},
		{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60, CachedPer1M: 0.075, SupportsCaching: true},
		{Model: "gpt-3.5-turbo", InputPer1M: 0.5, OutputPer1M: 1.5},
		{Model: "o1-preview", InputPer1M: 15.0, OutputPer1M: 60.0},
		{Model: "o1-mini", InputPer1M: 3.0, OutputPer1M: 12.0},
		{Model: "claude-3-opus", InputPer1M: 15.0, OutputPer1M: 75.0, CachedPer1M: 1.5, SupportsCaching: true},
		{Model: "claude-3-5-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0, CachedPer1M: 0.3, SupportsCaching: true},
		{Model: "claude-3-5-haiku", InputPer1M: 1.0, OutputPer1M: 5.0, CachedPer1M: 0.1, SupportsCaching: true},
		{Model: "gemini-1.5-pro", InputPer1M: 1.25, OutputPer1M: 5.0, CachedPer1M: 0.3125, SupportsCaching: true},
		{Model: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.3, CachedPer1M: 0.01875, SupportsCaching: true},
	}
	for _, p := range models {
		t.pricing[p.Model] = p
	}
}

// Add adds or updates pricing for a model.
func (t *PriceTable) Add(p *ModelPricing) {
	if p == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[p.Model] = p
}

// Lookup resolves pricing for a model: exact match, then longest registered
// prefix, then the default model. Always returns a copy.
func (t *PriceTable) Lookup(model string) *ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.pricing[model]; ok {
		cp := *p
		return &cp
	}

	// Longest prefix first for deterministic matching.
	keys := make([]string, 0, len(t.pricing))
	for k := range t.pricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		if strings.HasPrefix(model, key) {
			cp := *t.pricing[key]
			return &cp
		}
	}

	if p, ok := t.pricing[t.defaultModel]; ok {
		cp := *p
		return &cp
	}
	// Table without the default model registered; charge nothing rather
	// than fail the caller.
	return &ModelPricing{Model: model}
}

// CostFor computes the USD cost of a call. Cached tokens are billed at the
// cached rate when the model supports caching, otherwise at the input rate
// (they were counted inside inputTokens to begin with).
func (t *PriceTable) CostFor(model string, inputTokens, outputTokens, cachedTokens int) Cost {
	p := t.Lookup(model)

	billableInput := inputTokens
	var c Cost
	if cachedTokens > 0 && p.SupportsCaching {
		if cachedTokens > billableInput {
			cachedTokens = billableInput
		}
		billableInput -= cachedTokens
		c.CachedCost = float64(cachedTokens) / 1_000_000 * p.CachedPer1M
	}
	if billableInput > 0 {
		c.InputCost = float64(billableInput) / 1_000_000 * p.InputPer1M
	}
	if outputTokens > 0 {
		c.OutputCost = float64(outputTokens) / 1_000_000 * p.OutputPer1M
	}
	c.TotalCost = c.InputCost + c.OutputCost + c.CachedCost
	return c
}

// Models returns all models with registered pricing.
func (t *PriceTable) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models := make([]string, 0, len(t.pricing))
	for m := range t.pricing {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
