package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// State is the serialized snapshot of in-flight multi-turn flows that
// would otherwise live only in process memory. After a crash, Restore
// reproduces the state that existed at the last successful Save.
type State struct {
	// PendingDisambiguation holds choices offered to the user that have
	// not been answered yet.
	PendingDisambiguation *Disambiguation `json:"pendingDisambiguation,omitempty"`
	// PendingRecommendation is a recommendation awaiting approval.
	PendingRecommendation *Recommendation `json:"pendingRecommendation,omitempty"`
	// PendingFlow is a multi-step flow's current stage and accumulated
	// selections.
	PendingFlow *Flow `json:"pendingFlow,omitempty"`
	// LastLocation is the most recently resolved location reference.
	LastLocation string `json:"lastLocation,omitempty"`
	// ActiveSegments is the currently selected segment set.
	ActiveSegments []string `json:"activeSegments,omitempty"`
}

// Disambiguation is a pending multiple-choice question.
type Disambiguation struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
	AskedAt  time.Time `json:"askedAt"`
}

// Recommendation is a pending suggestion awaiting user approval.
type Recommendation struct {
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Flow tracks a multi-step flow in progress.
type Flow struct {
	Name       string            `json:"name"`
	Stage      string            `json:"stage"`
	Selections map[string]string `json:"selections,omitempty"`
}

// Save serializes state and upserts the session's cache row.
func (m *Manager) Save(ctx context.Context, sessionID string, state *State) error {
	if state == nil {
		state = &State{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	res, err := m.db.SQL().ExecContext(ctx,
		`INSERT INTO session_state_cache (session_id, state, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at_ms = excluded.updated_at_ms`,
		sessionID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// Restore loads and deserializes the state cache. A corrupt sub-field is
// dropped rather than failing the whole restore; only a missing cache row
// is an error.
func (m *Manager) Restore(ctx context.Context, sessionID string) (*State, error) {
	var raw string
	err := m.db.SQL().QueryRowContext(ctx,
		`SELECT state FROM session_state_cache WHERE session_id = ?`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeState([]byte(raw)), nil
}

// decodeState deserializes field by field so one corrupt field cannot take
// down the rest of the snapshot.
func decodeState(raw []byte) *State {
	state := &State{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Whole blob unreadable; start clean.
		return state
	}

	if f, ok := fields["pendingDisambiguation"]; ok {
		var v Disambiguation
		if json.Unmarshal(f, &v) == nil {
			state.PendingDisambiguation = &v
		}
	}
	if f, ok := fields["pendingRecommendation"]; ok {
		var v Recommendation
		if json.Unmarshal(f, &v) == nil {
			state.PendingRecommendation = &v
		}
	}
	if f, ok := fields["pendingFlow"]; ok {
		var v Flow
		if json.Unmarshal(f, &v) == nil {
			state.PendingFlow = &v
		}
	}
	if f, ok := fields["lastLocation"]; ok {
		var v string
		if json.Unmarshal(f, &v) == nil {
			state.LastLocation = v
		}
	}
	if f, ok := fields["activeSegments"]; ok {
		var v []string
		if json.Unmarshal(f, &v) == nil {
			state.ActiveSegments = v
		}
	}
	return state
}
