//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/kbai-go/internal/rag"
)

// ollamaForTest builds an embedder against OLLAMA_HOST and EMBEDDING_MODEL,
// defaulting to a local nomic-embed-text.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run Ollama ./internal/embedder/
func ollamaForTest(t *testing.T) (*OllamaEmbedder, string) {
	t.Helper()
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}
	return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), model
}

func TestOllamaEmbedder_RanksMatchingPassageFirst(t *testing.T) {
	emb, model := ollamaForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	passages := []rag.VectorRecord{
		{ChunkID: "refunds", DocumentName: "returns_policy.md", Category: "policies"},
		{ChunkID: "oncall", DocumentName: "incident_runbook.md", Category: "runbooks"},
	}
	texts := []string{
		"Refunds over $500 require approval from the payments team lead.",
		"The on-call engineer restarts the ingestion worker when the queue backs up.",
		"who approves a large refund",
	}

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v (is Ollama running with %q pulled?)", err, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d embeddings for %d texts", len(vecs), len(texts))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) != dim || dim == 0 {
			t.Fatalf("embedding %d has dim %d, want %d", i, len(v), dim)
		}
	}

	idx := rag.NewMemoryIndex()
	for i := range passages {
		passages[i].Vector = vecs[i]
	}
	if err := idx.Upsert(ctx, passages); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	hits, err := idx.SearchByVector(ctx, vecs[2], 2, "")
	if err != nil {
		t.Fatalf("SearchByVector: %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "refunds" {
		t.Errorf("hits = %+v, want refunds first", hits)
	}
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d for the qdrant backend)", model, dim, dim)
}
