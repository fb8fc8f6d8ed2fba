// Package goals tracks the hierarchical goal forest for a session and
// renders it as the todo-list fragment the context builder appends.
package goals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// Status is a goal's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Goal is one node in a session's goal forest. A goal has at most one
// parent; the structure is a tree, never a DAG.
type Goal struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	ParentID    string     `json:"parentId,omitempty"`
	Text        string     `json:"text"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Tracker manages goals. Safe for concurrent use; status transitions on a
// single goal are last-writer-wins, but CompletedAt is always set/cleared
// consistently with the status.
type Tracker struct {
	db *store.DB
}

// NewTracker creates a goal tracker over db.
func NewTracker(db *store.DB) *Tracker {
	return &Tracker{db: db}
}

// Add creates a goal. parentID may be empty for a top-level goal.
func (t *Tracker) Add(ctx context.Context, sessionID, text, parentID string, priority int) (*Goal, error) {
	g := &Goal{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ParentID:  parentID,
		Text:      text,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}

	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err := t.db.SQL().ExecContext(ctx,
		`INSERT INTO goals (id, session_id, parent_id, text, status, priority, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.SessionID, parent, g.Text, string(g.Status), g.Priority, g.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

// SetStatus transitions a goal. Entering completed stamps CompletedAt;
// leaving it (status regression) clears the stamp.
func (t *Tracker) SetStatus(ctx context.Context, goalID string, status Status) (*Goal, error) {
	var g *Goal
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanGoal(tx.QueryRowContext(ctx, goalColumns+` FROM goals WHERE id = ?`, goalID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("goal %s: %w", goalID, store.ErrNotFound)
			}
			return fmt.Errorf("load goal: %w", err)
		}

		cur.Status = status
		if status == StatusCompleted {
			now := time.Now().UTC()
			cur.CompletedAt = &now
		} else {
			cur.CompletedAt = nil
		}

		var completedMS any
		if cur.CompletedAt != nil {
			completedMS = cur.CompletedAt.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE goals SET status = ?, completed_at_ms = ? WHERE id = ?`,
			string(status), completedMS, goalID); err != nil {
			return fmt.Errorf("update goal: %w", err)
		}
		g = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Get loads a single goal.
func (t *Tracker) Get(ctx context.Context, goalID string) (*Goal, error) {
	g, err := scanGoal(t.db.SQL().QueryRowContext(ctx, goalColumns+` FROM goals WHERE id = ?`, goalID))
	if err != nil {
		return nil, fmt.Errorf("goal %s: %w", goalID, store.ErrNotFound)
	}
	return g, nil
}

// Active returns all pending and in-progress goals for a session, ordered
// by priority descending, then earliest creation first.
func (t *Tracker) Active(ctx context.Context, sessionID string) ([]*Goal, error) {
	return t.query(ctx,
		`FROM goals WHERE session_id = ? AND status IN (?, ?)
		 ORDER BY priority DESC, created_at_ms ASC`,
		sessionID, string(StatusPending), string(StatusInProgress))
}

// All returns every goal for a session in creation order.
func (t *Tracker) All(ctx context.Context, sessionID string) ([]*Goal, error) {
	return t.query(ctx,
		`FROM goals WHERE session_id = ? ORDER BY created_at_ms ASC`, sessionID)
}

// RecentlyCompleted returns the most recently completed goals, newest first.
func (t *Tracker) RecentlyCompleted(ctx context.Context, sessionID string, limit int) ([]*Goal, error) {
	return t.query(ctx,
		`FROM goals WHERE session_id = ? AND status = ?
		 ORDER BY completed_at_ms DESC LIMIT ?`,
		sessionID, string(StatusCompleted), limit)
}

func (t *Tracker) query(ctx context.Context, tail string, args ...any) ([]*Goal, error) {
	rows, err := t.db.SQL().QueryContext(ctx, goalColumns+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var out []*Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const goalColumns = `SELECT id, session_id, COALESCE(parent_id, ''), text, status, priority, created_at_ms, completed_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*Goal, error) {
	var (
		g           Goal
		status      string
		createdMS   int64
		completedMS sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.SessionID, &g.ParentID, &g.Text, &status,
		&g.Priority, &createdMS, &completedMS); err != nil {
		return nil, err
	}
	g.Status = Status(status)
	g.CreatedAt = time.UnixMilli(createdMS).UTC()
	if completedMS.Valid {
		ts := time.UnixMilli(completedMS.Int64).UTC()
		g.CompletedAt = &ts
	}
	return &g, nil
}
