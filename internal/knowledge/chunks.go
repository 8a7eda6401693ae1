package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/54b3r/kbai-go/internal/chunker"
	"github.com/54b3r/kbai-go/internal/rag"
)

// InsertChunks writes chunks, their lexical index texts and their embeddings
// in one transaction. The three slices are parallel. Existing rows with the
// same chunk id are replaced, so re-ingesting a document is idempotent.
func (s *Store) InsertChunks(ctx context.Context, chunks []rag.Chunk, lexical []string, vectors [][]float32) error {
	if len(chunks) != len(lexical) || len(chunks) != len(vectors) {
		return fmt.Errorf("knowledge: insert chunks: %d chunks, %d lexical texts, %d vectors", len(chunks), len(lexical), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("knowledge: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertChunk = `
INSERT INTO document_chunks
    (chunk_id, document_name, category, section_header, retrieval_chunk,
     generation_chunk, last_updated, word_count, chunk_metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET
    document_name    = excluded.document_name,
    category         = excluded.category,
    section_header   = excluded.section_header,
    retrieval_chunk  = excluded.retrieval_chunk,
    generation_chunk = excluded.generation_chunk,
    last_updated     = excluded.last_updated,
    word_count       = excluded.word_count,
    chunk_metadata   = excluded.chunk_metadata`
	const deleteFTS = `DELETE FROM fts_chunks WHERE chunk_id = ?`
	const insertFTS = `
INSERT INTO fts_chunks (chunk_id, document_name, category, section_header, content)
VALUES (?, ?, ?, ?, ?)`
	const upsertEmbedding = `
INSERT INTO chunk_embeddings (chunk_id, dimensions, embedding) VALUES (?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET dimensions = excluded.dimensions, embedding = excluded.embedding`

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("knowledge: marshal metadata for %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertChunk,
			c.ID, c.DocumentName, c.Category, nullable(c.SectionHeader), c.RetrievalText,
			c.GenerationText, nullable(c.LastUpdated), c.WordCount, string(meta),
		); err != nil {
			return fmt.Errorf("knowledge: insert chunk %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, deleteFTS, c.ID); err != nil {
			return fmt.Errorf("knowledge: clear fts %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insertFTS,
			c.ID, c.DocumentName, c.Category, c.SectionHeader, lexical[i],
		); err != nil {
			return fmt.Errorf("knowledge: insert fts %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertEmbedding,
			c.ID, len(vectors[i]), encodeVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("knowledge: insert embedding %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}
	return nil
}

// GetChunk returns the chunk with the given id. ok is false when it does not exist.
func (s *Store) GetChunk(ctx context.Context, id string) (rag.Chunk, bool, error) {
	const q = `
SELECT chunk_id, document_name, category, section_header, retrieval_chunk,
       generation_chunk, last_updated, word_count, chunk_metadata
FROM   document_chunks
WHERE  chunk_id = ?`

	var (
		c                      rag.Chunk
		section, updated, meta sql.NullString
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.DocumentName, &c.Category, &section, &c.RetrievalText,
		&c.GenerationText, &updated, &c.WordCount, &meta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rag.Chunk{}, false, nil
	}
	if err != nil {
		return rag.Chunk{}, false, fmt.Errorf("knowledge: get chunk %s: %w", id, err)
	}
	c.SectionHeader = section.String
	c.LastUpdated = updated.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return rag.Chunk{}, false, fmt.Errorf("knowledge: decode metadata for %s: %w", id, err)
		}
	}
	return c, true, nil
}

// SearchLexical runs a BM25 full-text search. The raw query is reduced to
// its lexical terms, each quoted and OR-ed together, so user punctuation can
// never reach FTS5 query syntax. A query with no usable terms returns no hits.
func (s *Store) SearchLexical(ctx context.Context, query string, limit int, category string) ([]rag.Ranked, error) {
	match := MatchExpression(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if category != "" {
		const q = `
SELECT fts_chunks.chunk_id, bm25(fts_chunks) AS score
FROM   fts_chunks
JOIN   document_chunks c ON fts_chunks.chunk_id = c.chunk_id
WHERE  fts_chunks MATCH ? AND c.category = ?
ORDER  BY score
LIMIT  ?`
		rows, err = s.db.QueryContext(ctx, q, match, category, limit)
	} else {
		const q = `
SELECT chunk_id, bm25(fts_chunks) AS score
FROM   fts_chunks
WHERE  fts_chunks MATCH ?
ORDER  BY score
LIMIT  ?`
		rows, err = s.db.QueryContext(ctx, q, match, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: lexical search: %w", err)
	}
	defer rows.Close()

	var out []rag.Ranked
	for rows.Next() {
		var r rag.Ranked
		if err := rows.Scan(&r.ChunkID, &r.Score); err != nil {
			return nil, fmt.Errorf("knowledge: lexical scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: lexical rows: %w", err)
	}
	return out, nil
}

// MatchExpression converts free text into an FTS5 MATCH expression of
// quoted lexical terms joined by OR. It returns "" when nothing remains.
func MatchExpression(query string) string {
	terms := chunker.LexicalTerms(query)
	if len(terms) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// LoadEmbeddings returns every stored embedding with the chunk's category
// and document name, in insertion order.
func (s *Store) LoadEmbeddings(ctx context.Context) ([]rag.VectorRecord, error) {
	const q = `
SELECT e.chunk_id, c.document_name, c.category, e.dimensions, e.embedding
FROM   chunk_embeddings e
JOIN   document_chunks c ON c.chunk_id = e.chunk_id
ORDER  BY c.id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load embeddings: %w", err)
	}
	defer rows.Close()

	var out []rag.VectorRecord
	for rows.Next() {
		var (
			r    rag.VectorRecord
			dims int
			blob []byte
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentName, &r.Category, &dims, &blob); err != nil {
			return nil, fmt.Errorf("knowledge: embeddings scan: %w", err)
		}
		r.Vector, err = decodeVector(blob, dims)
		if err != nil {
			return nil, fmt.Errorf("knowledge: embedding %s: %w", r.ChunkID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: embeddings rows: %w", err)
	}
	return out, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(b []byte, dims int) ([]float32, error) {
	if len(b) != 4*dims {
		return nil, fmt.Errorf("blob is %d bytes, want %d", len(b), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
