// Package knowledge is the SQLite knowledge base: chunk detail rows, the FTS5
// lexical index, persisted chunk embeddings and the structured KPI catalog
// and employee directory tables queried by the lookup tool.
//
// *Store satisfies rag.ChunkStore and rag.LexicalIndex.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/kbai-go/internal/rag"
)

var (
	_ rag.ChunkStore   = (*Store)(nil)
	_ rag.LexicalIndex = (*Store)(nil)
)

// Store is the knowledge database handle. It is safe for concurrent use.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.kbai/knowledge.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("knowledge: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbai")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("knowledge: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "knowledge.db"), nil
}

// Open opens (or creates) the knowledge database at path and runs the schema
// migration. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %s: %w", path, err)
	}
	// Single connection: serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const documentsDDL = `
CREATE TABLE IF NOT EXISTS document_chunks (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id         TEXT    NOT NULL UNIQUE,
    document_name    TEXT    NOT NULL,
    category         TEXT    NOT NULL,
    section_header   TEXT,
    retrieval_chunk  TEXT    NOT NULL,
    generation_chunk TEXT    NOT NULL,
    last_updated     TEXT,
    word_count       INTEGER NOT NULL DEFAULT 0,
    chunk_metadata   TEXT    NOT NULL DEFAULT '{}',
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks (document_name);
CREATE INDEX IF NOT EXISTS idx_document_chunks_category ON document_chunks (category);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
    chunk_id   TEXT    PRIMARY KEY,
    dimensions INTEGER NOT NULL,
    embedding  BLOB    NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
    chunk_id UNINDEXED,
    document_name,
    category,
    section_header,
    content,
    tokenize='porter unicode61'
);
`

const structuredDDL = `
CREATE TABLE IF NOT EXISTS kpi_catalog (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    kpi_name       TEXT NOT NULL UNIQUE,
    definition     TEXT NOT NULL,
    owner_team     TEXT NOT NULL,
    primary_source TEXT NOT NULL,
    last_updated   TEXT,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_kpi_catalog_owner ON kpi_catalog (owner_team);

CREATE TABLE IF NOT EXISTS directory (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL UNIQUE,
    team       TEXT NOT NULL,
    role       TEXT NOT NULL,
    timezone   TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_directory_team ON directory (team);
`

// migrate creates the schema if it does not already exist.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsDDL); err != nil {
		return fmt.Errorf("knowledge: migrate documents: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, structuredDDL); err != nil {
		return fmt.Errorf("knowledge: migrate structured: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("knowledge: ping: %w", err)
	}
	return nil
}

// ResetDocuments drops every chunk, embedding and FTS row and recreates the
// empty tables.
func (s *Store) ResetDocuments(ctx context.Context) error {
	const drop = `
DROP TABLE IF EXISTS document_chunks;
DROP TABLE IF EXISTS chunk_embeddings;
DROP TABLE IF EXISTS fts_chunks;`
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("knowledge: reset documents: %w", err)
	}
	return s.migrate(ctx)
}

// ResetStructured drops the KPI catalog and directory tables and recreates
// them empty.
func (s *Store) ResetStructured(ctx context.Context) error {
	const drop = `
DROP TABLE IF EXISTS kpi_catalog;
DROP TABLE IF EXISTS directory;`
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("knowledge: reset structured: %w", err)
	}
	return s.migrate(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("knowledge: close: %w", err)
	}
	return nil
}
