package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ctxforge-dev/ctxforge/internal/llm/token"
	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
	"github.com/ctxforge-dev/ctxforge/pkg/observability"
	"github.com/ctxforge-dev/ctxforge/pkg/session"
	"github.com/ctxforge-dev/ctxforge/pkg/workspace"
)

// Orchestrator drives one task through classify, plan, execute, verify.
type Orchestrator struct {
	sessions   *session.Manager
	events     *eventlog.Log
	files      *workspace.Store
	tracker    *goals.Tracker
	counter    *token.Counter
	classifier *Classifier
	planner    *Planner
	verifier   *Verifier
	registry   *Registry
	metrics    *observability.Metrics
	model      string
}

// OrchestratorConfig bundles the orchestrator's collaborators.
type OrchestratorConfig struct {
	Sessions   *session.Manager
	Events     *eventlog.Log
	Files      *workspace.Store
	Tracker    *goals.Tracker
	Counter    *token.Counter
	Classifier *Classifier
	Planner    *Planner
	Verifier   *Verifier
	Registry   *Registry
	Metrics    *observability.Metrics
	Model      string
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		sessions:   cfg.Sessions,
		events:     cfg.Events,
		files:      cfg.Files,
		tracker:    cfg.Tracker,
		counter:    cfg.Counter,
		classifier: cfg.Classifier,
		planner:    cfg.Planner,
		verifier:   cfg.Verifier,
		registry:   cfg.Registry,
		metrics:    cfg.Metrics,
		model:      cfg.Model,
	}
}

// Process runs the full pipeline for one user task. The session must
// belong to userID. Attachments are stored into the workspace before the
// task runs so tools and context can reference them.
func (o *Orchestrator) Process(ctx context.Context, sessionID, userID, task string, attachments []Attachment) (*Result, error) {
	start := time.Now()

	sess, err := o.sessions.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if sess.Status != session.StatusActive {
		return nil, fmt.Errorf("session %s is %s", sessionID, sess.Status)
	}

	state, err := o.sessions.Restore(ctx, sessionID)
	if err != nil {
		log.Printf("orchestrator: restore state: %v", err)
		state = &session.State{}
	}

	for _, att := range attachments {
		if _, err := o.files.Put(ctx, sessionID, att.Content, att.Key, att.Kind, att.Summary); err != nil {
			return nil, fmt.Errorf("store attachment %s: %w", att.Key, err)
		}
	}

	if err := o.recordUserTurn(ctx, sessionID, task); err != nil {
		return nil, err
	}

	run := NewRun(sessionID, userID, task)
	run.WorkspaceRefs, err = o.files.List(ctx, sessionID)
	if err != nil {
		log.Printf("orchestrator: list workspace: %v", err)
	}

	result := o.runPipeline(ctx, run)
	result.Duration = time.Since(start)

	if err := o.sessions.Touch(ctx, sessionID); err != nil {
		log.Printf("orchestrator: touch session: %v", err)
	}
	if err := o.sessions.Save(ctx, sessionID, state); err != nil {
		log.Printf("orchestrator: save state: %v", err)
	}
	if o.metrics != nil {
		o.metrics.ObservePipelineRun(string(result.State), result.Duration)
	}
	return result, nil
}

// recordUserTurn appends the user event and tracks any goal candidates
// found in the message.
func (o *Orchestrator) recordUserTurn(ctx context.Context, sessionID, task string) error {
	payload, _ := json.Marshal(map[string]string{"text": task})
	if _, err := o.events.Append(ctx, sessionID, eventlog.KindUser, payload, nil,
		o.counter.Count(task, o.model)); err != nil {
		return fmt.Errorf("append user event: %w", err)
	}
	for _, cand := range goals.ParseCandidates(task) {
		if _, err := o.tracker.Add(ctx, sessionID, cand.Text, "", 0); err != nil {
			log.Printf("orchestrator: track candidate goal: %v", err)
		}
	}
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, run *Run) *Result {
	cls, usage, err := o.classifier.Classify(ctx, run.Task)
	if err != nil {
		return o.errorResult(run, fmt.Errorf("classify: %w", err))
	}
	run.Classification = cls
	run.AddTokens(usage.InputTokens + usage.OutputTokens)

	specialist := o.resolveSpecialist(cls)

	// Planning runs only when the classifier asked for it; simple tasks
	// go straight to the specialist.
	var plan *Plan
	if cls.RequiresPlanning && o.planner != nil {
		run.Transition(StatePlanning)
		plan, usage, err = o.planner.CreatePlan(ctx, run.Task, cls)
		if err != nil {
			return o.errorResult(run, fmt.Errorf("plan: %w", err))
		}
		run.Plan = plan
		run.AddTokens(usage.InputTokens + usage.OutputTokens)
		if _, err := o.planner.ProjectGoals(ctx, run.SessionID, plan); err != nil {
			log.Printf("orchestrator: project goals: %v", err)
		}
		o.appendPlanEvent(ctx, run.SessionID, plan)
	}

	run.Transition(StateExecuting)
	result, err := specialist.Handle(ctx, run)
	if err != nil {
		return o.errorResult(run, fmt.Errorf("execute: %w", err))
	}
	result.TokensUsed = run.TokensUsed()
	if !result.Success {
		result.State = run.State()
		return result
	}

	if o.verifier != nil && (plan == nil || plan.NeedsVerification()) {
		run.Transition(StateVerifying)
		ver, usage, err := o.verifier.Verify(ctx, run.Task, result.Output)
		if err != nil {
			return o.errorResult(run, fmt.Errorf("verify: %w", err))
		}
		run.AddTokens(usage.InputTokens + usage.OutputTokens)
		result.TokensUsed = run.TokensUsed()
		if ver.ImprovedOutput != "" {
			result.Output = ver.ImprovedOutput
		}
		if !ver.Passed {
			// The output is kept, corrected or not; verification
			// annotates it.
			result.Success = false
			result.Error = "verification failed: " + strings.Join(ver.Issues, "; ")
		}
	}

	run.Transition(StateComplete)
	result.State = run.State()
	return result
}

func (o *Orchestrator) appendPlanEvent(ctx context.Context, sessionID string, plan *Plan) {
	payload, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if _, err := o.events.Append(ctx, sessionID, eventlog.KindPlan, payload, nil,
		o.counter.Count(string(payload), o.model)); err != nil {
		log.Printf("orchestrator: append plan event: %v", err)
	}
}

func (o *Orchestrator) errorResult(run *Run, err error) *Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		run.Transition(StateCancelled)
		return &Result{State: StateCancelled, TokensUsed: run.TokensUsed(), Error: err.Error()}
	}
	run.Transition(StateError)
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	_, _ = o.events.Append(context.Background(), run.SessionID, eventlog.KindError, payload, nil, 0)
	return &Result{State: StateError, TokensUsed: run.TokensUsed(), Error: err.Error()}
}

// resolveSpecialist routes via the classifier's suggested roles. Low
// confidence or no usable suggestion lands on the fallback executor.
func (o *Orchestrator) resolveSpecialist(cls Classification) Specialist {
	if cls.Confidence < minConfidence {
		return o.registry.Fallback()
	}
	for _, name := range cls.SuggestedRoles {
		role, ok := ParseRole(name)
		if !ok {
			continue
		}
		if s, bound := o.registry.Lookup(role); bound {
			return s
		}
	}
	return o.registry.Fallback()
}

// NeedsVerification reports whether the plan or any step asked to be
// verified.
func (p *Plan) NeedsVerification() bool {
	if p.RequiresVerification {
		return true
	}
	for _, step := range p.Steps {
		if step.RequiresVerification {
			return true
		}
	}
	return false
}
