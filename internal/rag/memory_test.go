package rag

import (
	"context"
	"testing"
)

func Test_MemoryIndex_SearchByVector(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex()
	err := idx.Upsert(ctx, []VectorRecord{
		{ChunkID: "far", Category: "domain", Vector: []float32{0, 1}},
		{ChunkID: "near", Category: "policies", Vector: []float32{1, 0.1}},
		{ChunkID: "exact", Category: "policies", Vector: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.SearchByVector(ctx, []float32{1, 0}, 2, "")
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(got) != 2 || got[0].ChunkID != "exact" || got[1].ChunkID != "near" {
		t.Fatalf("got %+v", got)
	}
	if got[0].Score > got[1].Score {
		t.Errorf("distances not ascending: %+v", got)
	}

	got, _ = idx.SearchByVector(ctx, []float32{0, 1}, 10, "policies")
	for _, h := range got {
		if h.ChunkID == "far" {
			t.Errorf("category filter leaked %q", h.ChunkID)
		}
	}
}

func Test_MemoryIndex_UpsertReplacesAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := NewMemoryIndex()
	_ = idx.Upsert(ctx, []VectorRecord{{ChunkID: "a", Vector: []float32{1, 0}}})
	_ = idx.Upsert(ctx, []VectorRecord{{ChunkID: "a", Vector: []float32{0, 1}}})
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
	if err := idx.Upsert(ctx, []VectorRecord{{Vector: []float32{1}}}); err == nil {
		t.Error("want error for record without chunk id")
	}
	if err := idx.Reset(ctx); err != nil || idx.Len() != 0 {
		t.Errorf("Reset: err=%v len=%d", err, idx.Len())
	}
}
