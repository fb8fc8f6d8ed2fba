package agents

import (
	"sync"

	"github.com/ctxforge-dev/ctxforge/pkg/workspace"
)

// Run carries the shared state of one pipeline invocation between roles.
type Run struct {
	SessionID      string
	UserID         string
	Task           string
	Classification Classification
	Plan           *Plan
	DomainContext  string
	WorkspaceRefs  []*workspace.File

	mu         sync.Mutex
	state      State
	tokensUsed int
}

// NewRun starts a run in the idle state.
func NewRun(sessionID, userID, task string) *Run {
	return &Run{
		SessionID: sessionID,
		UserID:    userID,
		Task:      task,
		state:     StateIdle,
	}
}

// Transition moves the run to a new state if the move is legal.
func (r *Run) Transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		return false
	}
	r.state = to
	return true
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// AddTokens accumulates token usage across roles.
func (r *Run) AddTokens(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokensUsed += n
}

// TokensUsed returns the accumulated token usage.
func (r *Run) TokensUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokensUsed
}
