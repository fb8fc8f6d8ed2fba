package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupExactMatch(t *testing.T) {
	table := NewPriceTable()
	p := table.Lookup("gpt-4o")
	require.NotNil(t, p)
	assert.Equal(t, "gpt-4o", p.Model)
	assert.Equal(t, 2.5, p.InputPer1M)
}

func TestLookupLongestPrefix(t *testing.T) {
	table := NewPriceTable()

	// "gpt-4o-mini-2024-07-18" should match gpt-4o-mini, not gpt-4o or gpt-4.
	p := table.Lookup("gpt-4o-mini-2024-07-18")
	assert.Equal(t, "gpt-4o-mini", p.Model)

	p = table.Lookup("gpt-4o-2024-08-06")
	assert.Equal(t, "gpt-4o", p.Model)
}

func TestLookupFallsBackToDefault(t *testing.T) {
	table := NewPriceTable()
	p := table.Lookup("totally-unknown-model")
	assert.Equal(t, DefaultModel, p.Model)
}

func TestLookupReturnsCopy(t *testing.T) {
	table := NewPriceTable()
	p := table.Lookup("gpt-4o")
	p.InputPer1M = 999
	assert.Equal(t, 2.5, table.Lookup("gpt-4o").InputPer1M)
}

func TestCostForBasic(t *testing.T) {
	table := NewPriceTable()
	// gpt-4: $30/1M input, $60/1M output.
	c := table.CostFor("gpt-4", 1_000_000, 500_000, 0)
	assert.InDelta(t, 30.0, c.InputCost, 1e-9)
	assert.InDelta(t, 30.0, c.OutputCost, 1e-9)
	assert.InDelta(t, 60.0, c.TotalCost, 1e-9)
}

func TestCostForCachedDiscount(t *testing.T) {
	table := NewPriceTable()
	// gpt-4o: $2.50/1M input, $1.25/1M cached.
	c := table.CostFor("gpt-4o", 1_000_000, 0, 400_000)
	assert.InDelta(t, 1.5, c.InputCost, 1e-9)  // 600k at full rate
	assert.InDelta(t, 0.5, c.CachedCost, 1e-9) // 400k at cached rate
	assert.InDelta(t, 2.0, c.TotalCost, 1e-9)
}

func TestCostForCachedClampedToInput(t *testing.T) {
	table := NewPriceTable()
	c := table.CostFor("gpt-4o", 100, 0, 1000)
	assert.Zero(t, c.InputCost)
	assert.InDelta(t, float64(100)/1_000_000*1.25, c.CachedCost, 1e-12)
}

func TestCostForNoCachingSupport(t *testing.T) {
	table := NewPriceTable()
	// gpt-4 has no cached rate; cached tokens stay billed as input.
	c := table.CostFor("gpt-4", 1000, 0, 500)
	assert.Zero(t, c.CachedCost)
	assert.InDelta(t, float64(1000)/1_000_000*30.0, c.InputCost, 1e-12)
}

func TestAddOverride(t *testing.T) {
	table := NewPriceTable()
	table.Add(&ModelPricing{Model: "in-house-7b", InputPer1M: 0.01, OutputPer1M: 0.02})
	p := table.Lookup("in-house-7b")
	assert.Equal(t, 0.01, p.InputPer1M)
	assert.Contains(t, table.Models(), "in-house-7b")
}
