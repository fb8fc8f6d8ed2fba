// Package workspace is the content-addressed external memory for sessions.
// Large payloads (parsed files, raw tool responses) are written once,
// deduplicated by content hash, and referenced from context by a short key
// instead of being inlined.
package workspace

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// File is the metadata record for one stored payload.
type File struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ReferenceKey string    `json:"referenceKey"`
	ContentHash  string    `json:"contentHash"`
	Size         int64     `json:"size"`
	Summary      string    `json:"summary,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is the content-addressed workspace. Safe for concurrent use.
type Store struct {
	db    *store.DB
	blobs BlobStore
}

// New creates a workspace store over db with the given blob backend.
func New(db *store.DB, blobs BlobStore) *Store {
	return &Store{db: db, blobs: blobs}
}

// Hash returns the hex BLAKE3 digest of content.
func Hash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Put stores content under key. If the session already holds a file with
// the same content hash, only the reference key and summary are updated;
// the bytes are never written twice. Storing is idempotent per
// (session, hash).
func (s *Store) Put(ctx context.Context, sessionID string, content []byte, key, kind, summary string) (*File, error) {
	hash := Hash(content)
	now := time.Now().UTC()

	var f *File
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
		}

		existing, err := scanFile(tx.QueryRowContext(ctx,
			fileColumns+` FROM workspace_files WHERE session_id = ? AND content_hash = ?`,
			sessionID, hash))
		switch {
		case err == nil:
			// Dedup: same bytes already stored for this session;
			// the reference key reflects the most recent call. Any
			// other record holding the key gives it up first.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM workspace_files WHERE session_id = ? AND reference_key = ? AND id != ?`,
				sessionID, key, existing.ID); err != nil {
				return fmt.Errorf("replace keyed file: %w", err)
			}
			existing.ReferenceKey = key
			existing.Summary = summary
			existing.Kind = kind
			existing.UpdatedAt = now
			if _, err := tx.ExecContext(ctx,
				`UPDATE workspace_files SET reference_key = ?, summary = ?, kind = ?, updated_at_ms = ? WHERE id = ?`,
				key, summary, kind, now.UnixMilli(), existing.ID); err != nil {
				return fmt.Errorf("update file: %w", err)
			}
			f = existing
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// A re-used key pointing at new bytes replaces the old record.
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM workspace_files WHERE session_id = ? AND reference_key = ?`,
				sessionID, key); err != nil {
				return fmt.Errorf("replace keyed file: %w", err)
			}
			f = &File{
				ID:           uuid.New().String(),
				SessionID:    sessionID,
				ReferenceKey: key,
				ContentHash:  hash,
				Size:         int64(len(content)),
				Summary:      summary,
				Kind:         kind,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workspace_files (id, session_id, reference_key, content_hash, size, summary, kind, created_at_ms, updated_at_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.SessionID, f.ReferenceKey, f.ContentHash, f.Size,
				f.Summary, f.Kind, now.UnixMilli(), now.UnixMilli()); err != nil {
				return fmt.Errorf("insert file: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("lookup file: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Put(ctx, hash, content); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the content and metadata stored under key.
func (s *Store) Get(ctx context.Context, sessionID, key string) ([]byte, *File, error) {
	f, err := scanFile(s.db.SQL().QueryRowContext(ctx,
		fileColumns+` FROM workspace_files WHERE session_id = ? AND reference_key = ?`,
		sessionID, key))
	if err != nil {
		return nil, nil, fmt.Errorf("workspace file %s: %w", key, store.ErrNotFound)
	}
	content, err := s.blobs.Get(ctx, f.ContentHash)
	if err != nil {
		return nil, nil, err
	}
	return content, f, nil
}

// List returns all files for a session, most recently updated first.
func (s *Store) List(ctx context.Context, sessionID string) ([]*File, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		fileColumns+` FROM workspace_files WHERE session_id = ? ORDER BY updated_at_ms DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Delete removes one file record, and its backing bytes if no other
// session references them. Reports whether a record was removed.
func (s *Store) Delete(ctx context.Context, sessionID, key string) (bool, error) {
	f, err := scanFile(s.db.SQL().QueryRowContext(ctx,
		fileColumns+` FROM workspace_files WHERE session_id = ? AND reference_key = ?`,
		sessionID, key))
	if err != nil {
		return false, nil
	}
	if _, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM workspace_files WHERE id = ?`, f.ID); err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	if err := s.deleteUnreferenced(ctx, f.ContentHash); err != nil {
		return false, err
	}
	return true, nil
}

// Purge removes all files for a session and their backing bytes, returning
// the number of records removed. Used on session teardown.
func (s *Store) Purge(ctx context.Context, sessionID string) (int, error) {
	files, err := s.List(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM workspace_files WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("purge files: %w", err)
	}
	for _, f := range files {
		if err := s.deleteUnreferenced(ctx, f.ContentHash); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

func (s *Store) deleteUnreferenced(ctx context.Context, hash string) error {
	var refs int
	if err := s.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_files WHERE content_hash = ?`, hash).Scan(&refs); err != nil {
		return fmt.Errorf("count refs: %w", err)
	}
	if refs == 0 {
		return s.blobs.Delete(ctx, hash)
	}
	return nil
}

const fileColumns = `SELECT id, session_id, reference_key, content_hash, size, summary, kind, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*File, error) {
	var (
		f                    File
		createdMS, updatedMS int64
	)
	if err := row.Scan(&f.ID, &f.SessionID, &f.ReferenceKey, &f.ContentHash,
		&f.Size, &f.Summary, &f.Kind, &createdMS, &updatedMS); err != nil {
		return nil, err
	}
	f.CreatedAt = time.UnixMilli(createdMS).UTC()
	f.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return &f, nil
}
