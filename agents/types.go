// Package agents implements the four-role pipeline that turns a user task
// into classified, planned, executed, and verified work.
package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is a pipeline run's lifecycle stage.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateVerifying State = "verifying"
	StateComplete  State = "complete"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// transitions lists the legal forward moves. Error is absorbing and
// reachable from any working state; cancellation is tracked separately.
var transitions = map[State][]State{
	StateIdle:      {StatePlanning, StateExecuting, StateError, StateCancelled},
	StatePlanning:  {StateExecuting, StateError, StateCancelled},
	StateExecuting: {StateVerifying, StateComplete, StateError, StateCancelled},
	StateVerifying: {StateComplete, StateExecuting, StateError, StateCancelled},
	StateComplete:  {},
	StateError:     {},
	StateCancelled: {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state accepts no further transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// RoleID identifies one of the pipeline roles.
type RoleID string

const (
	RoleClassifier RoleID = "classifier"
	RolePlanner    RoleID = "planner"
	RoleExecutor   RoleID = "executor"
	RoleVerifier   RoleID = "verifier"
)

// ParseRole maps a free-form role name onto the closed RoleID set.
func ParseRole(name string) (RoleID, bool) {
	switch RoleID(strings.ToLower(strings.TrimSpace(name))) {
	case RoleClassifier:
		return RoleClassifier, true
	case RolePlanner:
		return RolePlanner, true
	case RoleExecutor:
		return RoleExecutor, true
	case RoleVerifier:
		return RoleVerifier, true
	}
	return "", false
}

// Classification is the classifier's judgment about a task.
type Classification struct {
	Category         string   `json:"category"`
	Confidence       float64  `json:"confidence"`
	RequiresPlanning bool     `json:"requires_planning"`
	Complexity       string   `json:"complexity,omitempty"`
	SuggestedRoles   []string `json:"suggested_roles,omitempty"`
	Entities         []string `json:"entities,omitempty"`
	Reasoning        string   `json:"reasoning"`
}

// PlanStep is one ordered unit of work in a plan.
type PlanStep struct {
	Index                int    `json:"index"`
	Description          string `json:"description"`
	ActionType           string `json:"action_type"`
	DependsOn            []int  `json:"depends_on,omitempty"`
	RequiresVerification bool   `json:"requires_verification"`
}

// Plan is an ordered list of steps plus planner notes and estimates.
// Step order is preserved as given; the plan advises the executor, it is
// not a scheduled DAG.
type Plan struct {
	Steps                []PlanStep `json:"steps"`
	EstimatedTokens      int        `json:"estimated_tokens,omitempty"`
	EstimatedToolCalls   int        `json:"estimated_tool_calls,omitempty"`
	RequiresVerification bool       `json:"requires_verification"`
	Notes                string     `json:"notes"`
}

// Validate checks step indices and dependency references.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, step := range p.Steps {
		if step.Index != i {
			return fmt.Errorf("step %d has index %d", i, step.Index)
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= i {
				return fmt.Errorf("step %d depends on invalid step %d", i, dep)
			}
		}
	}
	return nil
}

// Verification is the verifier's judgment about completed work. A
// non-empty ImprovedOutput replaces the executor's answer downstream.
type Verification struct {
	Passed         bool     `json:"passed"`
	Score          float64  `json:"score"`
	Issues         []string `json:"issues,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	ImprovedOutput string   `json:"improved_output,omitempty"`
}

// Result summarizes one pipeline run.
type Result struct {
	Success        bool          `json:"success"`
	Output         string        `json:"output"`
	State          State         `json:"state"`
	Iterations     int           `json:"iterations"`
	ToolCallsMade  int           `json:"tool_calls_made"`
	TokensUsed     int           `json:"tokens_used"`
	Duration       time.Duration `json:"duration_ms"`
	GoalsCompleted []string      `json:"goals_completed,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Attachment is user-supplied content stored into the workspace before
// the pipeline runs.
type Attachment struct {
	Key     string
	Kind    string
	Summary string
	Content []byte
}

// parseJSONBlock extracts the first JSON object from model output that may
// wrap it in prose or a fenced code block.
func parseJSONBlock(text string, v any) error {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return json.Unmarshal([]byte(text[start:i+1]), v)
			}
		}
	}
	return fmt.Errorf("no JSON object found in output")
}
