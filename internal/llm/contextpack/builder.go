// Package contextpack assembles the bounded prompt sent to the model.
// Sections are laid out in a fixed order so the leading bytes stay
// identical across calls and qualify for provider-side prefix caching;
// goals land at the very end to exploit recency bias.
package contextpack

import (
	"strings"
	"sync"

	"github.com/ctxforge-dev/ctxforge/internal/llm/token"
	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
	"github.com/ctxforge-dev/ctxforge/pkg/workspace"
)

// Budget split of the available window (limit minus response reserve).
// The remaining 5% is an unallocated buffer.
const (
	stableShare  = 0.15
	domainShare  = 0.15
	historyShare = 0.55
	goalsShare   = 0.10
)

// goalsFallbackMax caps the reduced goals render when the full render
// busts its budget.
const goalsFallbackMax = 5

// ModelWindow describes a model's context window.
type ModelWindow struct {
	ContextLimit    int
	ResponseReserve int
}

// Metrics reports how a built context used its budget.
type Metrics struct {
	StablePromptTokens  int
	DomainContextTokens int
	WorkspaceTokens     int
	HistoryTokens       int
	GoalsTokens         int
	TotalTokens         int
	// Utilization is total tokens over the model's context limit.
	Utilization float64
	// CacheHitFraction estimates the share of the prompt the provider
	// can serve from its prefix cache: stable tokens over total.
	CacheHitFraction float64
	HistoryLinesKept int
	HistoryLinesSeen int
}

// Input carries everything a build draws from.
type Input struct {
	StablePrompt  string
	DomainContext string
	Events        []*eventlog.Event
	Goals         []*goals.Goal
	WorkspaceRefs []*workspace.File
	Model         string
}

// Builder assembles prompts under per-model token budgets.
// Builder is read-mostly and safe for concurrent use.
type Builder struct {
	counter *token.Counter
	prices  *token.PriceTable

	mu      sync.RWMutex
	windows map[string]ModelWindow
	defWin  ModelWindow
}

// NewBuilder creates a context builder.
func NewBuilder(counter *token.Counter, prices *token.PriceTable) *Builder {
	return &Builder{
		counter: counter,
		prices:  prices,
		windows: make(map[string]ModelWindow),
		defWin:  ModelWindow{ContextLimit: 128000, ResponseReserve: 4096},
	}
}

// SetWindow registers a model's context window.
func (b *Builder) SetWindow(model string, w ModelWindow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows[model] = w
}

// SetDefaultWindow sets the window used for unregistered models.
func (b *Builder) SetDefaultWindow(w ModelWindow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defWin = w
}

// Window resolves the window for a model.
func (b *Builder) Window(model string) ModelWindow {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if w, ok := b.windows[model]; ok {
		return w
	}
	return b.defWin
}

// Build assembles the prompt text. The section order never changes:
// stable prompt, domain context, workspace references, compressed history,
// goals. The returned text never exceeds limit minus reserve.
func (b *Builder) Build(in Input) (string, *Metrics, error) {
	w := b.Window(in.Model)
	available := w.ContextLimit - w.ResponseReserve
	if available < 0 {
		available = 0
	}

	stableBudget := int(float64(available) * stableShare)
	domainBudget := int(float64(available) * domainShare)
	historyBudget := int(float64(available) * historyShare)
	goalsBudget := int(float64(available) * goalsShare)

	m := &Metrics{}
	var sections []string

	// Stable prefix: byte-identical across consecutive calls for the same
	// session configuration. Oversized prompts are cut at the budget, but
	// deterministically, so the prefix stays stable.
	if in.StablePrompt != "" {
		stable := b.truncateToBudget(in.StablePrompt, in.Model, stableBudget)
		m.StablePromptTokens = b.counter.Count(stable, in.Model)
		sections = append(sections, stable)
	}

	if in.DomainContext != "" {
		domain := b.truncateToBudget(in.DomainContext, in.Model, domainBudget)
		m.DomainContextTokens = b.counter.Count(domain, in.Model)
		sections = append(sections, domain)
	}

	// Workspace references ride inside the domain share: keys and
	// summaries only, never content. Whatever the domain context left
	// unused bounds the ref listing.
	if refsBudget := domainBudget - m.DomainContextTokens; len(in.WorkspaceRefs) > 0 && refsBudget > 0 {
		refs := b.truncateToBudget(renderRefs(in.WorkspaceRefs), in.Model, refsBudget)
		if refs != "" {
			m.WorkspaceTokens = b.counter.Count(refs, in.Model)
			sections = append(sections, refs)
		}
	}

	history, kept, seen := b.buildHistory(in.Events, in.Model, historyBudget)
	m.HistoryLinesKept = kept
	m.HistoryLinesSeen = seen
	if history != "" {
		m.HistoryTokens = b.counter.Count(history, in.Model)
		sections = append(sections, history)
	}

	// Goals always come last.
	if len(in.Goals) > 0 {
		rendered := goals.Render(in.Goals)
		if b.counter.Count(rendered, in.Model) > goalsBudget {
			rendered = goals.RenderActive(in.Goals, goalsFallbackMax)
		}
		if b.counter.Count(rendered, in.Model) > goalsBudget {
			rendered = b.truncateToBudget(rendered, in.Model, goalsBudget)
		}
		if rendered != "" {
			m.GoalsTokens = b.counter.Count(rendered, in.Model)
			sections = append(sections, rendered)
		}
	}

	text := strings.Join(sections, "\n\n")
	m.TotalTokens = b.counter.Count(text, in.Model)
	if w.ContextLimit > 0 {
		m.Utilization = float64(m.TotalTokens) / float64(w.ContextLimit)
	}
	if m.TotalTokens > 0 {
		m.CacheHitFraction = float64(m.StablePromptTokens) / float64(m.TotalTokens)
	}
	return text, m, nil
}

// buildHistory compresses events and appends lines greedily in
// chronological order until the next line would exceed the budget.
func (b *Builder) buildHistory(events []*eventlog.Event, model string, budget int) (string, int, int) {
	if len(events) == 0 {
		return "", 0, 0
	}
	lines := Compress(events, keepRecentDefault)

	var kept []string
	used := 0
	for _, line := range lines {
		cost := b.counter.Count(line.Text+"\n", model)
		if used+cost > budget {
			break
		}
		kept = append(kept, line.Text)
		used += cost
	}
	if len(kept) == 0 {
		return "", 0, len(lines)
	}
	return "## History\n" + strings.Join(kept, "\n"), len(kept), len(lines)
}

// truncateToBudget cuts text so it fits the token budget. The cut is
// deterministic for identical input.
func (b *Builder) truncateToBudget(text, model string, budget int) string {
	if b.counter.Count(text, model) <= budget {
		return text
	}
	// Binary search the longest prefix that fits.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.counter.Count(text[:mid], model) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return text[:lo]
}

// EstimateCacheSavings projects the USD cost delta of serving stableTokens
// of a totalTokens prompt from the provider's prefix cache instead of at
// the full input rate.
func (b *Builder) EstimateCacheSavings(stableTokens, totalTokens int, model string) float64 {
	if stableTokens <= 0 || totalTokens <= 0 {
		return 0
	}
	if stableTokens > totalTokens {
		stableTokens = totalTokens
	}
	uncached := b.prices.CostFor(model, totalTokens, 0, 0)
	cached := b.prices.CostFor(model, totalTokens, 0, stableTokens)
	return uncached.TotalCost - cached.TotalCost
}

func renderRefs(refs []*workspace.File) string {
	var sb strings.Builder
	sb.WriteString("## Workspace\n")
	for _, f := range refs {
		sb.WriteString("- " + f.ReferenceKey)
		if f.Summary != "" {
			sb.WriteString(": " + f.Summary)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
