// Package ctxforge wires the context engine together: durable session
// storage, the token accountant, the budgeted context builder, and the
// classify/plan/execute/verify pipeline.
package ctxforge

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/ctxforge-dev/ctxforge/agents"
	"github.com/ctxforge-dev/ctxforge/internal/llm/contextpack"
	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
	"github.com/ctxforge-dev/ctxforge/internal/llm/token"
	"github.com/ctxforge-dev/ctxforge/pkg/config"
	"github.com/ctxforge-dev/ctxforge/pkg/eventlog"
	"github.com/ctxforge-dev/ctxforge/pkg/goals"
	"github.com/ctxforge-dev/ctxforge/pkg/observability"
	"github.com/ctxforge-dev/ctxforge/pkg/session"
	"github.com/ctxforge-dev/ctxforge/pkg/store"
	"github.com/ctxforge-dev/ctxforge/pkg/workspace"
)

// Engine is the assembled system. Construct one with New and close it
// when done.
type Engine struct {
	cfg *config.Config
	db  *store.DB

	Sessions     *session.Manager
	Events       *eventlog.Log
	Workspace    *workspace.Store
	Goals        *goals.Tracker
	Accountant   *token.Accountant
	Builder      *contextpack.Builder
	Metrics      *observability.Metrics
	Tools        *agents.ToolRegistry
	Orchestrator *agents.Orchestrator

	sweeper *session.Sweeper
	blobs   workspace.BlobStore
}

// Option customizes engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	provider provider.Provider
}

// WithProvider substitutes the model backend, mainly for tests.
func WithProvider(p provider.Provider) Option {
	return func(o *engineOptions) { o.provider = p }
}

// New builds an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{cfg: cfg, db: db}
	if err := e.build(cfg, options); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(cfg *config.Config, options *engineOptions) error {
	e.Metrics = observability.NewMetrics()

	prices := token.NewPriceTable()
	for _, p := range cfg.Models.Prices {
		prices.Add(&token.ModelPricing{
			Model:           p.Model,
			InputPer1M:      p.InputPer1M,
			OutputPer1M:     p.OutputPer1M,
			CachedPer1M:     p.CachedPer1M,
			SupportsCaching: p.SupportsCaching,
		})
	}
	counter := token.NewCounter()
	e.Accountant = token.NewAccountant(e.db, prices)

	e.Builder = contextpack.NewBuilder(counter, prices)
	for model, w := range cfg.Models.Windows {
		e.Builder.SetWindow(model, contextpack.ModelWindow{
			ContextLimit:    w.ContextLimit,
			ResponseReserve: w.ResponseReserve,
		})
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.blobs = workspace.NewRedisBlobStore(client, "")
	} else {
		blobs, err := workspace.NewSQLiteBlobStore(e.db)
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
		e.blobs = blobs
	}
	e.Workspace = workspace.New(e.db, e.blobs)

	e.Sessions = session.NewManager(e.db, cfg.Session.TTL)
	e.Events = eventlog.New(e.db)
	e.Goals = goals.NewTracker(e.db)

	backend := options.provider
	if backend == nil {
		p, err := provider.NewOpenAI(cfg.OpenAI.APIKey,
			provider.WithBaseURL(cfg.OpenAI.BaseURL),
			provider.WithRateLimit(cfg.OpenAI.RPS, cfg.OpenAI.Burst))
		if err != nil {
			return fmt.Errorf("openai provider: %w", err)
		}
		backend = p
	}
	backend = provider.Instrument(backend, e.Metrics)

	e.Tools = agents.NewToolRegistry()
	executor := agents.NewExecutor(agents.ExecutorConfig{
		Provider:      backend,
		Model:         cfg.Models.Default,
		Tools:         e.Tools,
		Events:        e.Events,
		Tracker:       e.Goals,
		Builder:       e.Builder,
		Counter:       counter,
		Accountant:    e.Accountant,
		Metrics:       e.Metrics,
		StablePrompt:  cfg.Pipeline.StablePrompt,
		MaxIterations: cfg.Pipeline.MaxIterations,
		ParallelTools: cfg.Pipeline.ParallelTools,
		ToolTimeout:   cfg.Pipeline.ToolTimeout,
	})

	registry := agents.NewRegistry(executor)
	e.Orchestrator = agents.NewOrchestrator(agents.OrchestratorConfig{
		Sessions:   e.Sessions,
		Events:     e.Events,
		Files:      e.Workspace,
		Tracker:    e.Goals,
		Counter:    counter,
		Classifier: agents.NewClassifier(backend, cfg.Models.ModelFor("classifier"), cfg.Pipeline.Categories),
		Planner:    agents.NewPlanner(backend, cfg.Models.ModelFor("planner"), e.Goals),
		Verifier:   agents.NewVerifier(backend, cfg.Models.ModelFor("verifier")),
		Registry:   registry,
		Metrics:    e.Metrics,
		Model:      cfg.Models.Default,
	})

	e.sweeper = session.NewSweeper(e.Sessions, cfg.Session.Retention)
	return nil
}

// StartSweeper begins periodic session expiry on the configured schedule.
func (e *Engine) StartSweeper() error {
	return e.sweeper.Start(e.cfg.Session.SweepSpec)
}

// Process runs one task through the pipeline.
func (e *Engine) Process(ctx context.Context, sessionID, userID, task string, attachments []agents.Attachment) (*agents.Result, error) {
	return e.Orchestrator.Process(ctx, sessionID, userID, task, attachments)
}

// Cleanup runs a one-off session sweep, returning expired then deleted
// counts.
func (e *Engine) Cleanup(ctx context.Context) (int, int, error) {
	expired, err := e.Sessions.ExpireStale(ctx)
	if err != nil {
		return 0, 0, err
	}
	deleted, err := e.Sessions.CleanupExpired(ctx, e.cfg.Session.Retention)
	if err != nil {
		return expired, 0, err
	}
	return expired, deleted, nil
}

// HealthCheck pings the database.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.SQL().PingContext(ctx)
}

// Close stops the sweeper and releases storage.
func (e *Engine) Close() error {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.blobs != nil {
		if err := e.blobs.Close(); err != nil {
			log.Printf("close blob store: %v", err)
		}
	}
	return e.db.Close()
}
