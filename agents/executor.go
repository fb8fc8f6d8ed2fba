package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ctxforge-dev/ctxforge/internal/llm/contextpack"
	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
	"github.com/ctxforge-dev/ctxforge/internal/llm/token"
	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
	"github.com/ctxforge-dev/ctxforge/pkg/observability"
)

const (
	defaultMaxIterations = 10
	defaultParallelTools = 4
	defaultToolTimeout   = 30 * time.Second
	historyWindow        = 200
)

// Executor runs the reason-act loop: build context, call the model, run
// any requested tools, feed observations back, repeat until the model
// produces a final answer or the iteration cap is hit.
type Executor struct {
	provider   provider.Provider
	model      string
	tools      *ToolRegistry
	events     *eventlog.Log
	tracker    *goals.Tracker
	builder    *contextpack.Builder
	counter    *token.Counter
	accountant *token.Accountant
	metrics    *observability.Metrics

	stablePrompt  string
	maxIterations int
	parallelTools int
	toolTimeout   time.Duration
}

// ExecutorConfig bundles the executor's collaborators and limits.
type ExecutorConfig struct {
	Provider   provider.Provider
	Model      string
	Tools      *ToolRegistry
	Events     *eventlog.Log
	Tracker    *goals.Tracker
	Builder    *contextpack.Builder
	Counter    *token.Counter
	Accountant *token.Accountant
	Metrics    *observability.Metrics

	StablePrompt  string
	MaxIterations int
	ParallelTools int
	ToolTimeout   time.Duration
}

// NewExecutor builds an executor. Zero limits take defaults.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		provider:      cfg.Provider,
		model:         cfg.Model,
		tools:         cfg.Tools,
		events:        cfg.Events,
		tracker:       cfg.Tracker,
		builder:       cfg.Builder,
		counter:       cfg.Counter,
		accountant:    cfg.Accountant,
		metrics:       cfg.Metrics,
		stablePrompt:  cfg.StablePrompt,
		maxIterations: cfg.MaxIterations,
		parallelTools: cfg.ParallelTools,
		toolTimeout:   cfg.ToolTimeout,
	}
	if e.maxIterations <= 0 {
		e.maxIterations = defaultMaxIterations
	}
	if e.parallelTools <= 0 {
		e.parallelTools = defaultParallelTools
	}
	if e.toolTimeout <= 0 {
		e.toolTimeout = defaultToolTimeout
	}
	if e.tools == nil {
		e.tools = NewToolRegistry()
	}
	return e
}

func (e *Executor) Role() RoleID { return RoleExecutor }

// Handle implements Specialist.
func (e *Executor) Handle(ctx context.Context, run *Run) (*Result, error) {
	start := time.Now()
	toolCallsMade := 0

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		if ctx.Err() != nil {
			return e.cancelled(run, iteration-1, toolCallsMade, start), nil
		}

		resp, err := e.step(ctx, run)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(run, iteration, toolCallsMade, start), nil
			}
			run.Transition(StateError)
			return &Result{
				State:         StateError,
				Iterations:    iteration,
				ToolCallsMade: toolCallsMade,
				TokensUsed:    run.TokensUsed(),
				Duration:      time.Since(start),
				Error:         err.Error(),
			}, nil
		}

		if len(resp.ToolCalls) == 0 {
			return e.finish(ctx, run, resp.Content, iteration, toolCallsMade, start)
		}

		made, err := e.runTools(ctx, run, resp.ToolCalls)
		toolCallsMade += made
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(run, iteration, toolCallsMade, start), nil
			}
			run.Transition(StateError)
			return &Result{
				State:         StateError,
				Iterations:    iteration,
				ToolCallsMade: toolCallsMade,
				TokensUsed:    run.TokensUsed(),
				Duration:      time.Since(start),
				Error:         err.Error(),
			}, nil
		}
	}

	// Iteration cap: terminal error state, never an endless loop.
	run.Transition(StateError)
	return &Result{
		State:         StateError,
		Iterations:    e.maxIterations,
		ToolCallsMade: toolCallsMade,
		TokensUsed:    run.TokensUsed(),
		Duration:      time.Since(start),
		Error:         fmt.Sprintf("iteration limit %d reached without a final answer", e.maxIterations),
	}, nil
}

// step builds the packed context and makes one model call.
func (e *Executor) step(ctx context.Context, run *Run) (*provider.Response, error) {
	events, err := e.events.Recent(ctx, run.SessionID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	allGoals, err := e.tracker.All(ctx, run.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read goals: %w", err)
	}

	packed, buildMetrics, err := e.builder.Build(contextpack.Input{
		StablePrompt:  e.stablePrompt,
		DomainContext: run.DomainContext,
		Events:        events,
		Goals:         allGoals,
		WorkspaceRefs: run.WorkspaceRefs,
		Model:         e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveContext(buildMetrics.TotalTokens, buildMetrics.CacheHitFraction)
	}

	resp, err := e.provider.Complete(ctx, provider.Request{
		Model: e.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: packed},
			{Role: provider.RoleUser, Content: run.Task},
		},
		Temperature:       0.3,
		Tools:             e.tools.Specs(),
		ParallelToolCalls: true,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	run.AddTokens(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	if e.accountant != nil {
		rec, aerr := e.accountant.Record(ctx, run.SessionID, run.UserID, e.model, "executor",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CachedTokens)
		if aerr != nil {
			log.Printf("executor: record usage: %v", aerr)
		} else if e.metrics != nil {
			e.metrics.ObserveCost(rec.Cost)
		}
	}
	return resp, nil
}

// runTools executes the model's tool calls with bounded parallelism and
// records action and observation events. Observations are appended in the
// order the model requested the calls, regardless of completion order.
func (e *Executor) runTools(ctx context.Context, run *Run, calls []provider.ToolCall) (int, error) {
	for _, call := range calls {
		payload, _ := json.Marshal(map[string]any{
			"tool":      call.Name,
			"arguments": json.RawMessage(argsOrNull(call.Arguments)),
		})
		if _, err := e.events.Append(ctx, run.SessionID, eventlog.KindAction, payload, nil,
			e.counter.Count(string(payload), e.model)); err != nil {
			return 0, fmt.Errorf("append action: %w", err)
		}
	}

	type outcome struct {
		result string
		err    error
	}
	outcomes := make([]outcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.parallelTools))
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			outcomes[i].result, outcomes[i].err = e.invoke(gctx, call)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(calls), fmt.Errorf("run tools: %w", err)
	}

	for i, call := range calls {
		if e.metrics != nil {
			e.metrics.ObserveToolCall(call.Name, outcomes[i].err == nil)
		}
		fields := map[string]any{"tool": call.Name}
		if outcomes[i].err != nil {
			fields["error"] = outcomes[i].err.Error()
		} else {
			fields["result"] = outcomes[i].result
		}
		payload, _ := json.Marshal(fields)
		if _, err := e.events.Append(ctx, run.SessionID, eventlog.KindObservation, payload, nil,
			e.counter.Count(string(payload), e.model)); err != nil {
			return len(calls), fmt.Errorf("append observation: %w", err)
		}
	}
	return len(calls), nil
}

// invoke runs a single tool under its timeout. Failures are data, not
// control flow: they come back as error outcomes for the model to see.
func (e *Executor) invoke(ctx context.Context, call provider.ToolCall) (string, error) {
	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	tctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	result, err := tool.Handler(tctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("%s: %w", call.Name, err)
	}
	return result, nil
}

// finish records the final answer, completes any goals the reply covers,
// and returns a successful result. Losing the answer from the log is an
// infrastructure failure, not a recoverable one.
func (e *Executor) finish(ctx context.Context, run *Run, answer string, iterations, toolCalls int, start time.Time) (*Result, error) {
	payload, _ := json.Marshal(map[string]string{"text": answer})
	if _, err := e.events.Append(ctx, run.SessionID, eventlog.KindAssistant, payload, nil,
		e.counter.Count(answer, e.model)); err != nil {
		run.Transition(StateError)
		return &Result{
			State:         StateError,
			Output:        answer,
			Iterations:    iterations,
			ToolCallsMade: toolCalls,
			TokensUsed:    run.TokensUsed(),
			Duration:      time.Since(start),
			Error:         fmt.Sprintf("append answer: %v", err),
		}, nil
	}

	completed := e.completeGoals(ctx, run.SessionID, answer)

	return &Result{
		Success:        true,
		Output:         answer,
		State:          run.State(),
		Iterations:     iterations,
		ToolCallsMade:  toolCalls,
		TokensUsed:     run.TokensUsed(),
		Duration:       time.Since(start),
		GoalsCompleted: completed,
	}, nil
}

// completeGoals marks active goals whose text appears in the reply as
// completed and returns their texts.
func (e *Executor) completeGoals(ctx context.Context, sessionID, reply string) []string {
	active, err := e.tracker.Active(ctx, sessionID)
	if err != nil {
		log.Printf("executor: read active goals: %v", err)
		return nil
	}
	var completed []string
	for _, g := range goals.MatchCandidates(active, reply) {
		if _, err := e.tracker.SetStatus(ctx, g.ID, goals.StatusCompleted); err != nil {
			log.Printf("executor: complete goal %s: %v", g.ID, err)
			continue
		}
		completed = append(completed, g.Text)
	}
	return completed
}

func (e *Executor) cancelled(run *Run, iterations, toolCalls int, start time.Time) *Result {
	run.Transition(StateCancelled)
	return &Result{
		State:         StateCancelled,
		Iterations:    iterations,
		ToolCallsMade: toolCalls,
		TokensUsed:    run.TokensUsed(),
		Duration:      time.Since(start),
		Error:         "cancelled",
	}
}

func argsOrNull(args json.RawMessage) []byte {
	if len(args) == 0 {
		return []byte("null")
	}
	return args
}
