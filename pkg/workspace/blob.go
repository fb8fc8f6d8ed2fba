package workspace

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// BlobStore holds the backing bytes of workspace files, keyed by content
// hash. Writes are idempotent: two writers racing to store identical
// content are storing identical bytes, so last writer wins harmlessly.
type BlobStore interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
	Delete(ctx context.Context, hash string) error
	Close() error
}

// sqliteBlobStore keeps blobs in the workspace_blobs table,
// zstd-compressed at rest.
type sqliteBlobStore struct {
	db  *store.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSQLiteBlobStore creates a blob store backed by the shared database.
func NewSQLiteBlobStore(db *store.DB) (BlobStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &sqliteBlobStore{db: db, enc: enc, dec: dec}, nil
}

func (s *sqliteBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	compressed := s.enc.EncodeAll(data, nil)
	if _, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO workspace_blobs (content_hash, data) VALUES (?, ?)
		 ON CONFLICT(content_hash) DO NOTHING`,
		hash, compressed); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (s *sqliteBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	var compressed []byte
	err := s.db.SQL().QueryRowContext(ctx,
		`SELECT data FROM workspace_blobs WHERE content_hash = ?`, hash).Scan(&compressed)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", hash, store.ErrNotFound)
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *sqliteBlobStore) Delete(ctx context.Context, hash string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM workspace_blobs WHERE content_hash = ?`, hash)
	return err
}

func (s *sqliteBlobStore) Close() error {
	s.enc.Close()
	s.dec.Close()
	return nil
}

// redisBlobStore keeps blobs in Redis, suitable when workspace bytes
// should live off the relational store in multi-node deployments.
type redisBlobStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBlobStore creates a blob store over an existing Redis client.
func NewRedisBlobStore(client *redis.Client, prefix string) BlobStore {
	if prefix == "" {
		prefix = "ctxforge:blob:"
	}
	return &redisBlobStore{client: client, prefix: prefix}
}

func (r *redisBlobStore) key(hash string) string {
	return r.prefix + hash
}

func (r *redisBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	if err := r.client.Set(ctx, r.key(hash), data, 0).Err(); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (r *redisBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(hash)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("blob %s: %w", hash, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

func (r *redisBlobStore) Delete(ctx context.Context, hash string) error {
	return r.client.Del(ctx, r.key(hash)).Err()
}

func (r *redisBlobStore) Close() error {
	return r.client.Close()
}
