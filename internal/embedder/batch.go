package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/kbai-go/internal/rag"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 100

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e rag.Embedder, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(out))
	}
	return out[0], nil
}

// EmbedBatch embeds texts in slices of batchSize and returns the vectors in
// input order. Any failed batch fails the whole call; nothing partial is
// returned. batchSize <= 0 uses DefaultBatchSize.
func EmbedBatch(ctx context.Context, e rag.Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch %d-%d returned %d embeddings", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
