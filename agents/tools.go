package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ctxforge-dev/ctxforge/internal/llm/provider"
)

// ToolHandler executes one tool invocation. A returned error becomes an
// error observation for the model; it does not abort the run.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a schema the model sees with the handler that runs it.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     ToolHandler
}

// ToolRegistry holds the tools available to the executor.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool requires a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s requires a handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Get looks a tool up by name.
func (r *ToolRegistry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns provider tool specs sorted by name so the prompt prefix
// stays stable across calls.
func (r *ToolRegistry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]provider.ToolSpec, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return specs
}

// Len reports how many tools are registered.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
