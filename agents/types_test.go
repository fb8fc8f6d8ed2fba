package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StatePlanning))
	assert.True(t, CanTransition(StateIdle, StateExecuting), "simple tasks skip planning")
	assert.True(t, CanTransition(StatePlanning, StateExecuting))
	assert.True(t, CanTransition(StateExecuting, StateVerifying))
	assert.True(t, CanTransition(StateVerifying, StateComplete))
	assert.True(t, CanTransition(StateVerifying, StateExecuting), "verification can send work back")

	assert.False(t, CanTransition(StateIdle, StateComplete), "no skipping ahead")
	assert.False(t, CanTransition(StateComplete, StatePlanning), "complete is terminal")
	assert.False(t, CanTransition(StateError, StateExecuting), "error is absorbing")
	assert.False(t, CanTransition(StateCancelled, StatePlanning))
}

func TestErrorReachableFromWorkingStates(t *testing.T) {
	for _, from := range []State{StateIdle, StatePlanning, StateExecuting, StateVerifying} {
		assert.True(t, CanTransition(from, StateError), "from %s", from)
		assert.True(t, CanTransition(from, StateCancelled), "from %s", from)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateError.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateExecuting.Terminal())
}

func TestRunTransitionEnforcesLegality(t *testing.T) {
	run := NewRun("s1", "u1", "task")
	assert.Equal(t, StateIdle, run.State())
	assert.True(t, run.Transition(StatePlanning))
	assert.False(t, run.Transition(StateComplete))
	assert.Equal(t, StatePlanning, run.State())
}

func TestPlanValidate(t *testing.T) {
	good := &Plan{Steps: []PlanStep{
		{Index: 0, Description: "a"},
		{Index: 1, Description: "b", DependsOn: []int{0}},
	}}
	assert.NoError(t, good.Validate())

	assert.Error(t, (&Plan{}).Validate(), "empty plan")

	badIndex := &Plan{Steps: []PlanStep{{Index: 1, Description: "a"}}}
	assert.Error(t, badIndex.Validate())

	forwardDep := &Plan{Steps: []PlanStep{
		{Index: 0, Description: "a", DependsOn: []int{1}},
		{Index: 1, Description: "b"},
	}}
	assert.Error(t, forwardDep.Validate(), "dependencies may only point backward")
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("Executor")
	require.True(t, ok)
	assert.Equal(t, RoleExecutor, role)

	_, ok = ParseRole("archivist")
	assert.False(t, ok, "only the closed role set parses")
}

func TestPlanLevelVerificationFlag(t *testing.T) {
	plan := &Plan{
		Steps:                []PlanStep{{Index: 0, Description: "a"}},
		RequiresVerification: true,
	}
	assert.True(t, plan.NeedsVerification())

	plan.RequiresVerification = false
	assert.False(t, plan.NeedsVerification())
}

func TestParseJSONBlock(t *testing.T) {
	var cls Classification
	text := "Sure, here is my answer:\n```json\n{\"category\": \"research\", \"confidence\": 0.9, \"reasoning\": \"ok\"}\n```\nHope that helps."
	require.NoError(t, parseJSONBlock(text, &cls))
	assert.Equal(t, "research", cls.Category)
	assert.Equal(t, 0.9, cls.Confidence)

	assert.Error(t, parseJSONBlock("no json here", &cls))
}

func TestParseJSONBlockNested(t *testing.T) {
	var plan Plan
	text := `{"steps": [{"index": 0, "description": "x", "action_type": "general", "requires_verification": false}], "notes": "n"}`
	require.NoError(t, parseJSONBlock(text, &plan))
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "x", plan.Steps[0].Description)
}
