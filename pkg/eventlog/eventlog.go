// Package eventlog is the append-only, strictly ordered store of session
// events. It is the sole source of conversational history: entries are
// only ever appended, never edited or reordered.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// Kind classifies an event.
type Kind string

const (
	KindUser        Kind = "user"
	KindAssistant   Kind = "assistant"
	KindAction      Kind = "action"
	KindObservation Kind = "observation"
	KindPlan        Kind = "plan"
	KindError       Kind = "error"
)

// Event is one entry in a session's log. Immutable once written.
type Event struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionId"`
	SequenceNum      int64           `json:"sequenceNum"`
	Kind             Kind            `json:"kind"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	TokenCount       int             `json:"tokenCount"`
	CachedTokenCount int             `json:"cachedTokenCount"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// lockStripes bounds the lock table so memory stays flat no matter how
// many sessions a process sees.
const lockStripes = 64

// Log appends and reads session events. Sequence numbers for one session
// are assigned under a striped lock keyed by session ID so concurrent
// appends to the same session can never race; appends to sessions on
// different stripes proceed in parallel. Log is safe for concurrent use.
type Log struct {
	db    *store.DB
	locks [lockStripes]sync.Mutex
}

// New creates an event log over db.
func New(db *store.DB) *Log {
	return &Log{db: db}
}

func (l *Log) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &l.locks[h.Sum32()%lockStripes]
}

// Append writes a new event with the next sequence number for the session.
// Payload is opaque at this layer; Append only fails if the session does
// not exist or the store is unavailable.
func (l *Log) Append(ctx context.Context, sessionID string, kind Kind, payload, metadata json.RawMessage, tokenCount int) (*Event, error) {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ev := &Event{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Kind:       kind,
		Payload:    payload,
		Metadata:   metadata,
		TokenCount: tokenCount,
		CreatedAt:  time.Now().UTC(),
	}

	err := l.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM events WHERE session_id = ?`,
			sessionID).Scan(&ev.SequenceNum); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		// UNIQUE(session_id, sequence_num) backs the mutex: a racing
		// writer that slipped past it fails here instead of corrupting
		// the order.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, session_id, sequence_num, kind, payload, metadata, token_count, cached_token_count, created_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			ev.ID, ev.SessionID, ev.SequenceNum, string(ev.Kind),
			string(ev.Payload), string(ev.Metadata), ev.TokenCount,
			ev.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// SetCachedTokens fills in the cached-token count on an event after the
// fact, from provider usage feedback.
func (l *Log) SetCachedTokens(ctx context.Context, eventID string, cachedTokens int) error {
	res, err := l.db.SQL().ExecContext(ctx,
		`UPDATE events SET cached_token_count = ? WHERE id = ?`, cachedTokens, eventID)
	if err != nil {
		return fmt.Errorf("set cached tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", eventID, store.ErrNotFound)
	}
	return nil
}

// Read returns events in ascending sequence order, with the total count of
// matching events before limit/offset.
func (l *Log) Read(ctx context.Context, sessionID string, limit, offset int, kinds ...Kind) ([]*Event, int, error) {
	where := `session_id = ?`
	args := []any{sessionID}
	if len(kinds) > 0 {
		where += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}

	var total int
	if err := l.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := `SELECT id, session_id, sequence_num, kind, payload, metadata, token_count, cached_token_count, created_at_ms
		 FROM events WHERE ` + where + ` ORDER BY sequence_num ASC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	events, err := l.scan(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Recent returns the most recent limit events, still in ascending order
// (a tail window).
func (l *Log) Recent(ctx context.Context, sessionID string, limit int, kinds ...Kind) ([]*Event, error) {
	where := `session_id = ?`
	args := []any{sessionID}
	if len(kinds) > 0 {
		where += ` AND kind IN (` + placeholders(len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	args = append(args, limit)

	events, err := l.scan(ctx,
		`SELECT id, session_id, sequence_num, kind, payload, metadata, token_count, cached_token_count, created_at_ms
		 FROM (
			SELECT * FROM events WHERE `+where+` ORDER BY sequence_num DESC LIMIT ?
		 ) ORDER BY sequence_num ASC`, args...)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (l *Log) scan(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := l.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			ev                Event
			kind              string
			payload, metadata string
			createdMS         int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.SequenceNum, &kind,
			&payload, &metadata, &ev.TokenCount, &ev.CachedTokenCount, &createdMS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Payload = json.RawMessage(payload)
		ev.Metadata = json.RawMessage(metadata)
		ev.CreatedAt = time.UnixMilli(createdMS).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func placeholders(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "?"
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
