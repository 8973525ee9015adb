// Package postgres provides a PostgreSQL-backed implementation of
// [store.SourceStore].
//
// All operations share a single [pgxpool.Pool]. [New] runs the schema
// migration via CREATE TABLE IF NOT EXISTS, so pointing the store at an empty
// database is enough.
package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelops/voxnote/pkg/store"
)

// Compile-time assertion that Store satisfies the SourceStore interface.
var _ store.SourceStore = (*Store)(nil)

const ddlSources = `
CREATE TABLE IF NOT EXISTS sources (
    id             TEXT         PRIMARY KEY,
    title          TEXT         NOT NULL,
    mime_type      TEXT         NOT NULL DEFAULT 'text/plain',
    content        BYTEA        NOT NULL,
    extracted_text TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_created_at ON sources (created_at);
`

// Store is a PostgreSQL-backed [store.SourceStore].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and ensures the
// sources table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlSources); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Put implements [store.SourceStore].
func (s *Store) Put(ctx context.Context, source store.Source) (store.Source, error) {
	if source.ID == "" {
		id, err := generateID()
		if err != nil {
			return store.Source{}, fmt.Errorf("postgres store: generate id: %w", err)
		}
		source.ID = id
	}

	const q = `
		INSERT INTO sources (id, title, mime_type, content, extracted_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET title = $2, mime_type = $3, content = $4, extracted_text = $5
		RETURNING created_at`

	row := s.pool.QueryRow(ctx, q,
		source.ID,
		source.Title,
		source.MIMEType,
		source.Content,
		source.ExtractedText,
	)
	if err := row.Scan(&source.CreatedAt); err != nil {
		return store.Source{}, fmt.Errorf("postgres store: put: %w", err)
	}
	return source, nil
}

// Get implements [store.SourceStore].
func (s *Store) Get(ctx context.Context, id string) (store.Source, error) {
	const q = `
		SELECT id, title, mime_type, content, extracted_text, created_at
		FROM   sources
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return store.Source{}, fmt.Errorf("postgres store: get: %w", err)
	}
	src, err := pgx.CollectOneRow(rows, scanSource)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Source{}, store.ErrNotFound
	}
	if err != nil {
		return store.Source{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return src, nil
}

// List implements [store.SourceStore].
func (s *Store) List(ctx context.Context) ([]store.Source, error) {
	const q = `
		SELECT id, title, mime_type, content, extracted_text, created_at
		FROM   sources
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	sources, err := pgx.CollectRows(rows, scanSource)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return sources, nil
}

// Delete implements [store.SourceStore].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// generateID produces a random 16-byte hex string using crypto/rand.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// scanSource scans one pgx row into a Source.
func scanSource(row pgx.CollectableRow) (store.Source, error) {
	var src store.Source
	err := row.Scan(
		&src.ID,
		&src.Title,
		&src.MIMEType,
		&src.Content,
		&src.ExtractedText,
		&src.CreatedAt,
	)
	return src, err
}
