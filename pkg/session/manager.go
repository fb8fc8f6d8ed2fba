// Package session owns session lifecycle and the crash-recovery state
// snapshot. Every externally facing operation restores pending-flow state
// before use and saves it after mutation, so a crash between two requests
// loses at most the in-flight request.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Session is one long-lived conversation.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	FolderID     string    `json:"folderId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Status       Status    `json:"status"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CachedTokens int64     `json:"cachedTokens"`
	TotalCost    float64   `json:"totalCost"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Manager manages session lifecycle. Safe for concurrent use.
type Manager struct {
	db         *store.DB
	defaultTTL time.Duration
}

// NewManager creates a session manager. ttl is the default session
// lifetime applied at creation.
func NewManager(db *store.DB, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{db: db, defaultTTL: ttl}
}

// Create creates a session and its empty state cache.
func (m *Manager) Create(ctx context.Context, userID, folderID, title string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now().UTC()
	s := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		FolderID:     folderID,
		Title:        title,
		Status:       StatusActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
	}

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, folder_id, title, status, created_at_ms, expires_at_ms, last_activity_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.UserID, s.FolderID, s.Title, string(s.Status),
			now.UnixMilli(), s.ExpiresAt.UnixMilli(), now.UnixMilli()); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_state_cache (session_id, state, updated_at_ms) VALUES (?, '{}', ?)`,
			s.ID, now.UnixMilli()); err != nil {
			return fmt.Errorf("insert state cache: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get loads a session. When userID is non-empty, an ownership mismatch is
// reported as not-found; existence is never leaked to other callers.
func (m *Manager) Get(ctx context.Context, sessionID, userID string) (*Session, error) {
	s, err := scanSession(m.db.SQL().QueryRowContext(ctx,
		sessionColumns+` FROM sessions WHERE id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if userID != "" && s.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return s, nil
}

// List returns a user's sessions, most recently active first.
func (m *Manager) List(ctx context.Context, userID string, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.SQL().QueryContext(ctx,
		sessionColumns+` FROM sessions WHERE user_id = ?
		 ORDER BY last_activity_ms DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a session's lifecycle state.
func (m *Manager) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	res, err := m.db.SQL().ExecContext(ctx,
		`UPDATE sessions SET status = ?, last_activity_ms = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// Touch extends a session's activity timestamp.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	_, err := m.db.SQL().ExecContext(ctx,
		`UPDATE sessions SET last_activity_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), sessionID)
	return err
}

// ExpireStale soft-expires every active session past its expiry time.
// Returns the number of sessions expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	res, err := m.db.SQL().ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE status = ? AND expires_at_ms < ?`,
		string(StatusExpired), string(StatusActive), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expire stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupExpired hard-deletes expired sessions older than the retention
// window. Child rows (events, goals, workspace files, state cache, usage)
// cascade. Returns the number of sessions removed.
func (m *Manager) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := m.db.SQL().ExecContext(ctx,
		`DELETE FROM sessions WHERE status = ? AND last_activity_ms < ?`,
		string(StatusExpired), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Delete removes one session and all of its child rows.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	res, err := m.db.SQL().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

const sessionColumns = `SELECT id, user_id, folder_id, title, status, input_tokens, output_tokens, cached_tokens, total_cost, created_at_ms, expires_at_ms, last_activity_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s                                Session
		status                           string
		createdMS, expiresMS, activityMS int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.FolderID, &s.Title, &status,
		&s.InputTokens, &s.OutputTokens, &s.CachedTokens, &s.TotalCost,
		&createdMS, &expiresMS, &activityMS); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.CreatedAt = time.UnixMilli(createdMS).UTC()
	s.ExpiresAt = time.UnixMilli(expiresMS).UTC()
	s.LastActivity = time.UnixMilli(activityMS).UTC()
	return &s, nil
}
