// Package rag implements hybrid retrieval over the knowledge base: dense
// vector search and BM25 lexical search run side by side, are fused with
// Reciprocal Rank Fusion, hydrated into full chunks and optionally
// re-scored by a cross-encoder reranker.
//
// Backends (Qdrant, SQLite FTS5, in-memory vectors) satisfy the interfaces
// in this file so the retrieval pipeline never depends on a specific store.
package rag

import (
	"context"
	"slices"
)

// Document categories: the fixed corpus partitions.
const (
	CategoryDomain   = "domain"
	CategoryPolicies = "policies"
	CategoryRunbooks = "runbooks"
)

// Categories lists the corpus partitions in ingestion order.
var Categories = []string{CategoryDomain, CategoryPolicies, CategoryRunbooks}

// IsCategory reports whether c is a known document category.
func IsCategory(c string) bool {
	return slices.Contains(Categories, c)
}

// ChunkMetadata is the structural metadata recorded for every chunk.
type ChunkMetadata struct {
	// FilePath is the path the document was read from at ingestion.
	FilePath string `json:"file_path"`
	// DocumentTitle is the document's first H1, or its file name.
	DocumentTitle string `json:"document_title"`
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int `json:"chunk_index"`
	// TotalChunks is the number of chunks produced for the document.
	TotalChunks int `json:"total_chunks"`
	// Sections is the section title path the chunk belongs to.
	Sections []string `json:"sections"`
}

// Chunk is a retrievable unit of knowledge. It is immutable once ingested.
type Chunk struct {
	// ID is stable and derived from the document name and chunk index.
	ID string
	// DocumentName is the source file name (e.g. "returns_policy.md").
	DocumentName string
	// Category is the corpus partition: domain, policies or runbooks.
	Category string
	// SectionHeader is the title of the originating section.
	SectionHeader string
	// RetrievalText is the normalized text that was embedded.
	RetrievalText string
	// GenerationText is the full originating section, verbatim.
	GenerationText string
	// LastUpdated is the document's YYYY-MM-DD date, or "".
	LastUpdated string
	// WordCount is the token count of the retrieval unit.
	WordCount int
	// Metadata carries the structural metadata.
	Metadata ChunkMetadata
}

// Ranked is one entry of a ranked id list returned by an index. Only the
// position in the list matters to fusion; Score is kept for diagnostics.
type Ranked struct {
	// ChunkID identifies the chunk.
	ChunkID string
	// Score is the backend's raw value: a distance for vector search, a
	// bm25() value for lexical search.
	Score float64
}

// RetrievalResult is a hydrated search hit. Score semantics depend on the
// stage that produced it (RRF or reranker relevance) and must not be
// compared across stages.
type RetrievalResult struct {
	Chunk
	// Score is the fused or reranked relevance, higher is better.
	Score float64
}

// VectorRecord pairs a chunk id with its embedding for index loading.
type VectorRecord struct {
	// ChunkID identifies the chunk.
	ChunkID string
	// DocumentName is copied into the index for filtering and display.
	DocumentName string
	// Category is copied into the index for category filtering.
	Category string
	// Vector is the chunk's dense embedding.
	Vector []float32
}

// VectorIndex is nearest-neighbour search over chunk embeddings.
// Implementations must be safe for concurrent readers.
type VectorIndex interface {
	// SearchByVector returns at most limit chunk ids ordered by ascending
	// distance. An empty category searches every category.
	SearchByVector(ctx context.Context, vector []float32, limit int, category string) ([]Ranked, error)

	// Upsert stores or replaces embeddings. Not safe to run concurrently
	// with itself; ingestion is a single writer.
	Upsert(ctx context.Context, records []VectorRecord) error

	// Reset removes every stored vector.
	Reset(ctx context.Context) error

	// Close releases any resources held by the index.
	Close() error
}

// LexicalIndex is BM25 full-text search over chunk text. Implementations
// sanitize query syntax; any error they do return is treated by the
// Retriever as an empty result.
type LexicalIndex interface {
	// SearchLexical returns at most limit chunk ids, best match first.
	SearchLexical(ctx context.Context, query string, limit int, category string) ([]Ranked, error)
}

// ChunkStore resolves chunk ids into full chunk records.
type ChunkStore interface {
	// GetChunk returns the chunk for id. ok is false when the id is unknown.
	GetChunk(ctx context.Context, id string) (chunk Chunk, ok bool, err error)
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker re-scores fused candidates against the raw query.
type Reranker interface {
	// Rerank returns candidates reordered and truncated by the cross-encoder.
	// It never fails: on any error the candidates come back unchanged.
	Rerank(ctx context.Context, query string, candidates []RetrievalResult) []RetrievalResult

	// Enabled reports whether reranking is active. It is resolved once at
	// construction and drives candidate pool widening.
	Enabled() bool

	// TopN is the reranker's result count.
	TopN() int
}
