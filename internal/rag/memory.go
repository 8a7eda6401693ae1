package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine VectorIndex held in process memory.
// It backs VECTOR_BACKEND=sqlite, where embeddings persist in the knowledge
// database and are loaded into a MemoryIndex at startup.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
	order   []string
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]VectorRecord)}
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Upsert stores or replaces records by chunk id.
func (m *MemoryIndex) Upsert(_ context.Context, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ChunkID == "" {
			return fmt.Errorf("rag: memory index: record without chunk id")
		}
		if _, ok := m.records[r.ChunkID]; !ok {
			m.order = append(m.order, r.ChunkID)
		}
		m.records[r.ChunkID] = r
	}
	return nil
}

// SearchByVector scores every stored vector and returns the nearest limit
// ids by cosine distance.
func (m *MemoryIndex) SearchByVector(ctx context.Context, vector []float32, limit int, category string) ([]Ranked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	hits := make([]Ranked, 0, len(m.records))
	for _, id := range m.order {
		r := m.records[id]
		if category != "" && r.Category != category {
			continue
		}
		hits = append(hits, Ranked{ChunkID: id, Score: 1 - cosine(vector, r.Vector)})
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Reset drops every stored vector.
func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]VectorRecord)
	m.order = nil
	return nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
