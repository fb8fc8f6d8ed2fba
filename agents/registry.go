package agents

import (
	"context"
	"sync"
)

// Specialist handles tasks routed to a classification category.
type Specialist interface {
	// Role identifies the specialist for logs and routing.
	Role() RoleID
	// Handle runs the specialist against a classified task and returns
	// the run result.
	Handle(ctx context.Context, run *Run) (*Result, error)
}

// Registry maps the closed RoleID set onto specialists. Unknown or
// unbound roles fall back to the default executor, never a lookup miss.
type Registry struct {
	mu          sync.RWMutex
	specialists map[RoleID]Specialist
	fallback    Specialist
}

// NewRegistry creates a registry with the given fallback specialist.
func NewRegistry(fallback Specialist) *Registry {
	return &Registry{
		specialists: make(map[RoleID]Specialist),
		fallback:    fallback,
	}
}

// Bind routes a role to a specialist.
func (r *Registry) Bind(role RoleID, s Specialist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specialists[role] = s
}

// Lookup returns the specialist bound to a role, if any.
func (r *Registry) Lookup(role RoleID) (Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specialists[role]
	return s, ok
}

// Resolve returns the specialist for a role, or the fallback when no
// binding exists.
func (r *Registry) Resolve(role RoleID) Specialist {
	if s, ok := r.Lookup(role); ok {
		return s
	}
	return r.Fallback()
}

// Fallback returns the default specialist.
func (r *Registry) Fallback() Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}
