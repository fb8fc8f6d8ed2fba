package agents

import (
	"context"
	"fmt"
	"log"

	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
)

const plannerSystemPrompt = `You are a task planner. Break the task into a short ordered list of concrete steps and respond with a JSON object only:
{"steps": [{"index": 0, "description": "...", "action_type": "...", "depends_on": [], "requires_verification": false}], "estimated_tokens": <int>, "estimated_tool_calls": <int>, "requires_verification": <true|false>, "notes": "..."}

Rules:
- index starts at 0 and increases by one per step
- depends_on may only reference earlier indices
- keep plans minimal; one step is fine for simple tasks
- set requires_verification true only when the output should be checked
- estimated_tokens and estimated_tool_calls are rough totals for the whole plan

Respond with the JSON object and nothing else.`

// Planner turns a task into an ordered plan and projects the plan's steps
// into tracked goals.
type Planner struct {
	provider provider.Provider
	model    string
	tracker  *goals.Tracker
}

// NewPlanner builds a planner. tracker may be nil when goal projection is
// not wanted.
func NewPlanner(p provider.Provider, model string, tracker *goals.Tracker) *Planner {
	return &Planner{provider: p, model: model, tracker: tracker}
}

// CreatePlan asks the model for a plan. When the model output cannot be
// parsed or validated, a single-step fallback plan is returned so the
// pipeline always has something to execute.
func (p *Planner) CreatePlan(ctx context.Context, task string, cls Classification) (*Plan, provider.Usage, error) {
	userMsg := task
	if cls.Category != "" {
		userMsg = fmt.Sprintf("Category: %s\n\nTask: %s", cls.Category, task)
	}

	resp, err := p.provider.Complete(ctx, provider.Request{
		Model: p.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: plannerSystemPrompt},
			{Role: provider.RoleUser, Content: userMsg},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.Usage{}, ctx.Err()
		}
		log.Printf("planner: model call failed, using fallback plan: %v", err)
		return fallbackPlan(task, err), provider.Usage{}, nil
	}

	var plan Plan
	if perr := parseJSONBlock(resp.Content, &plan); perr != nil {
		log.Printf("planner: unparseable plan, using fallback: %v", perr)
		return fallbackPlan(task, perr), resp.Usage, nil
	}
	if verr := plan.Validate(); verr != nil {
		log.Printf("planner: invalid plan, using fallback: %v", verr)
		return fallbackPlan(task, verr), resp.Usage, nil
	}
	return &plan, resp.Usage, nil
}

// fallbackPlan wraps the raw task in one generic step, noting why planning
// failed.
func fallbackPlan(task string, cause error) *Plan {
	return &Plan{
		Steps: []PlanStep{{
			Index:                0,
			Description:          task,
			ActionType:           "general",
			RequiresVerification: false,
		}},
		Notes: fmt.Sprintf("fallback plan, planning failed: %v", cause),
	}
}

// ProjectGoals records each plan step as a pending goal. Earlier steps get
// higher priority so the active-goal ordering matches plan order.
func (p *Planner) ProjectGoals(ctx context.Context, sessionID string, plan *Plan) ([]*goals.Goal, error) {
	if p.tracker == nil {
		return nil, nil
	}
	created := make([]*goals.Goal, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		g, err := p.tracker.Add(ctx, sessionID, step.Description, "", len(plan.Steps)-i)
		if err != nil {
			return created, fmt.Errorf("project step %d: %w", i, err)
		}
		created = append(created, g)
	}
	return created, nil
}
