package contextpack

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge-dev/ctxforge/internal/llm/token"
	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
	"github.com/ctxforge-dev/ctxforge/pkg/workspace"
)

// The test model has no tokenizer, so counts are deterministic len/4
// estimates.
const testModel = "test-model"

func newTestBuilder() *Builder {
	return NewBuilder(token.NewCounter(), token.NewPriceTable())
}

func TestBuildSectionOrder(t *testing.T) {
	b := newTestBuilder()

	out, m, err := b.Build(Input{
		StablePrompt:  "SYSTEM INSTRUCTIONS HERE",
		DomainContext: "DOMAIN FACTS HERE",
		Events:        []*eventlog.Event{mkEvent(1, eventlog.KindUser, "earlier question")},
		Goals:         []*goals.Goal{{ID: "g1", Text: "finish the draft", Status: goals.StatusPending}},
		WorkspaceRefs: []*workspace.File{{ReferenceKey: "notes.md", Summary: "meeting notes"}},
		Model:         testModel,
	})
	require.NoError(t, err)

	stable := strings.Index(out, "SYSTEM INSTRUCTIONS HERE")
	domain := strings.Index(out, "DOMAIN FACTS HERE")
	refs := strings.Index(out, "notes.md")
	history := strings.Index(out, "earlier question")
	goalsIdx := strings.Index(out, "finish the draft")

	require.GreaterOrEqual(t, stable, 0)
	assert.True(t, stable < domain, "stable prompt first")
	assert.True(t, domain < refs, "domain before workspace refs")
	assert.True(t, refs < history, "refs before history")
	assert.True(t, history < goalsIdx, "goals always last")

	assert.Positive(t, m.StablePromptTokens)
	assert.Positive(t, m.GoalsTokens)
}

func TestBuildStablePromptVerbatimWhenItFits(t *testing.T) {
	b := newTestBuilder()
	prompt := "You are a careful assistant. Follow the house rules."

	out, _, err := b.Build(Input{StablePrompt: prompt, Model: testModel})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, prompt), "stable prompt must stay byte-identical at the front")
}

func TestBuildRespectsTotalBudget(t *testing.T) {
	b := newTestBuilder()
	b.SetWindow(testModel, ModelWindow{ContextLimit: 400, ResponseReserve: 100})

	var events []*eventlog.Event
	for i := 1; i <= 200; i++ {
		events = append(events, mkEvent(i, eventlog.KindUser, fmt.Sprintf("a fairly long message body number %d with padding text", i)))
	}

	_, m, err := b.Build(Input{
		StablePrompt:  strings.Repeat("stable instructions ", 100),
		DomainContext: strings.Repeat("domain facts ", 100),
		Events:        events,
		Goals:         []*goals.Goal{{ID: "g1", Text: "only goal", Status: goals.StatusPending}},
		Model:         testModel,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, m.TotalTokens, 400-100, "output must fit the window minus the reserve")
	assert.Less(t, m.HistoryLinesKept, m.HistoryLinesSeen, "history must have been cut")
}

func TestBuildBoundsWorkspaceRefs(t *testing.T) {
	b := newTestBuilder()
	b.SetWindow(testModel, ModelWindow{ContextLimit: 400, ResponseReserve: 100})

	refs := make([]*workspace.File, 200)
	for i := range refs {
		refs[i] = &workspace.File{
			ReferenceKey: fmt.Sprintf("file-%03d.txt", i),
			Summary:      "a long summary of the stored payload for this entry",
		}
	}

	_, m, err := b.Build(Input{
		StablePrompt:  "SYSTEM",
		DomainContext: "DOMAIN",
		WorkspaceRefs: refs,
		Model:         testModel,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, m.TotalTokens, 400-100, "a large ref list must not bust the window")
	assert.Positive(t, m.WorkspaceTokens, "some refs still render")
}

func TestBuildOversizedStablePromptTruncatedDeterministically(t *testing.T) {
	b := newTestBuilder()
	b.SetWindow(testModel, ModelWindow{ContextLimit: 200, ResponseReserve: 50})
	prompt := strings.Repeat("instruction block ", 200)

	out1, _, err := b.Build(Input{StablePrompt: prompt, Model: testModel})
	require.NoError(t, err)
	out2, _, err := b.Build(Input{StablePrompt: prompt, Model: testModel})
	require.NoError(t, err)

	assert.Equal(t, out1, out2, "truncation must be deterministic so the prefix stays cacheable")
	assert.Less(t, len(out1), len(prompt))
}

func TestBuildGoalsFallBackToActiveList(t *testing.T) {
	b := newTestBuilder()
	b.SetWindow(testModel, ModelWindow{ContextLimit: 600, ResponseReserve: 0})

	var gs []*goals.Goal
	for i := 0; i < 50; i++ {
		gs = append(gs, &goals.Goal{
			ID:     fmt.Sprintf("g%d", i),
			Text:   fmt.Sprintf("goal item number %d with some descriptive text", i),
			Status: goals.StatusPending,
		})
	}

	out, m, err := b.Build(Input{Goals: gs, Model: testModel})
	require.NoError(t, err)
	assert.Positive(t, m.GoalsTokens)
	assert.LessOrEqual(t, strings.Count(out, "- [ ]"), goalsFallbackMax)
}

func TestBuildCacheHitFraction(t *testing.T) {
	b := newTestBuilder()
	_, m, err := b.Build(Input{
		StablePrompt: strings.Repeat("stable ", 50),
		Events:       []*eventlog.Event{mkEvent(1, eventlog.KindUser, "hi")},
		Model:        testModel,
	})
	require.NoError(t, err)
	assert.Greater(t, m.CacheHitFraction, 0.0)
	assert.LessOrEqual(t, m.CacheHitFraction, 1.0)
}

func TestEstimateCacheSavings(t *testing.T) {
	b := newTestBuilder()

	// gpt-4o supports caching at half the input rate.
	saved := b.EstimateCacheSavings(500_000, 1_000_000, "gpt-4o")
	assert.InDelta(t, 0.625, saved, 1e-9) // 500k * (2.50-1.25)/1M

	assert.Zero(t, b.EstimateCacheSavings(0, 1000, "gpt-4o"))
	assert.Zero(t, b.EstimateCacheSavings(100, 0, "gpt-4o"))
	// Models without caching support save nothing.
	assert.Zero(t, b.EstimateCacheSavings(500, 1000, "gpt-4"))
}

func TestWindowLookup(t *testing.T) {
	b := newTestBuilder()
	b.SetWindow("custom", ModelWindow{ContextLimit: 1000, ResponseReserve: 100})

	assert.Equal(t, 1000, b.Window("custom").ContextLimit)
	assert.Equal(t, 128000, b.Window("anything-else").ContextLimit)
}
