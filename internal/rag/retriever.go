package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Mode selects which search legs a query runs.
type Mode string

// Search modes. Hybrid is the default and the only mode used by the
// orchestrator; the single-leg modes exist for diagnostics.
const (
	ModeHybrid  Mode = "hybrid"
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
)

// SearchRequest describes one retrieval call. Zero limits fall back to the
// Retriever's RetrievalConfig.
type SearchRequest struct {
	// Query is the raw user or model query.
	Query string
	// Category restricts both legs to one corpus partition when non-empty.
	Category string
	// Mode defaults to ModeHybrid.
	Mode Mode
	// VectorLimit is the number of vector candidates to fetch.
	VectorLimit int
	// LexicalLimit is the number of lexical candidates to fetch.
	LexicalLimit int
	// FinalLimit is the number of results returned.
	FinalLimit int
	// RRFK is the fusion smoothing constant.
	RRFK int
}

// Deps are the collaborators a Retriever searches through.
type Deps struct {
	// Embedder embeds the query once per search. Required.
	Embedder Embedder
	// Vectors is the dense index. Required.
	Vectors VectorIndex
	// Lexical is the full-text index. Required.
	Lexical LexicalIndex
	// Chunks hydrates fused ids. Required.
	Chunks ChunkStore
	// Reranker is optional; nil disables reranking.
	Reranker Reranker
	// Metrics is optional.
	Metrics *Metrics
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Retriever runs the hybrid search pipeline: embed, vector and lexical
// search in parallel, RRF fusion, hydration and optional reranking.
// It is safe for concurrent use.
type Retriever struct {
	embedder Embedder
	vectors  VectorIndex
	lexical  LexicalIndex
	chunks   ChunkStore
	reranker Reranker
	metrics  *Metrics
	log      *slog.Logger
	cfg      RetrievalConfig
}

// NewRetriever constructs a Retriever. cfg zero fields take the defaults.
func NewRetriever(d Deps, cfg RetrievalConfig) (*Retriever, error) {
	if d.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if d.Vectors == nil {
		return nil, fmt.Errorf("rag: vector index must not be nil")
	}
	if d.Lexical == nil {
		return nil, fmt.Errorf("rag: lexical index must not be nil")
	}
	if d.Chunks == nil {
		return nil, fmt.Errorf("rag: chunk store must not be nil")
	}
	if d.Reranker == nil {
		d.Reranker = NopReranker{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Retriever{
		embedder: d.Embedder,
		vectors:  d.Vectors,
		lexical:  d.Lexical,
		chunks:   d.Chunks,
		reranker: d.Reranker,
		metrics:  d.Metrics,
		log:      d.Logger,
		cfg:      cfg.withDefaults(),
	}, nil
}

// Config returns the resolved default limits.
func (r *Retriever) Config() RetrievalConfig { return r.cfg }

// RerankEnabled reports whether the reranker is active.
func (r *Retriever) RerankEnabled() bool { return r.reranker.Enabled() }

// Search returns results best-first. Embedding and vector failures are
// returned; a lexical failure is logged and treated as an empty list.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) ([]RetrievalResult, error) {
	start := time.Now()
	req = r.resolve(req)

	results, err := r.search(ctx, req)
	r.metrics.observeStage("total", time.Since(start).Seconds())
	if err != nil {
		r.metrics.searched("error", 0)
		return nil, err
	}
	r.metrics.searched("ok", len(results))
	return results, nil
}

func (r *Retriever) search(ctx context.Context, req SearchRequest) ([]RetrievalResult, error) {
	var vector []float32
	if req.Mode != ModeLexical {
		t := time.Now()
		embeddings, err := r.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			return nil, fmt.Errorf("rag: embedding query failed: %w", err)
		}
		if len(embeddings) != 1 {
			return nil, fmt.Errorf("rag: embedder returned %d vectors for one query", len(embeddings))
		}
		vector = embeddings[0]
		r.metrics.observeStage("embed", time.Since(t).Seconds())
	}

	var vectorHits, lexicalHits []Ranked
	g, gctx := errgroup.WithContext(ctx)
	if req.Mode != ModeLexical {
		g.Go(func() error {
			t := time.Now()
			hits, err := r.vectors.SearchByVector(gctx, vector, req.VectorLimit, req.Category)
			if err != nil {
				return fmt.Errorf("rag: vector search failed: %w", err)
			}
			vectorHits = hits
			r.metrics.observeStage("vector", time.Since(t).Seconds())
			return nil
		})
	}
	if req.Mode != ModeVector {
		g.Go(func() error {
			t := time.Now()
			hits, err := r.lexical.SearchLexical(gctx, req.Query, req.LexicalLimit, req.Category)
			if err != nil {
				r.metrics.degraded(reasonLexicalError)
				r.log.Warn("lexical search failed, continuing with vector results",
					slog.String("query", req.Query),
					slog.Any("error", err),
				)
				return nil
			}
			lexicalHits = hits
			r.metrics.observeStage("lexical", time.Since(t).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := FuseRRF(req.RRFK, rankedIDs(vectorHits), rankedIDs(lexicalHits))

	pool := req.FinalLimit
	if r.reranker.Enabled() {
		pool = max(req.FinalLimit, 2*r.reranker.TopN())
	}
	if len(fused) > pool {
		fused = fused[:pool]
	}

	t := time.Now()
	results, err := r.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}
	r.metrics.observeStage("hydrate", time.Since(t).Seconds())

	if r.reranker.Enabled() && len(results) > 0 {
		t = time.Now()
		results = r.reranker.Rerank(ctx, req.Query, results)
		r.metrics.observeStage("rerank", time.Since(t).Seconds())
	}
	if len(results) > req.FinalLimit {
		results = results[:req.FinalLimit]
	}
	return results, nil
}

// hydrate resolves fused ids into chunks. Unknown ids are dropped.
func (r *Retriever) hydrate(ctx context.Context, fused []Fused) ([]RetrievalResult, error) {
	results := make([]RetrievalResult, 0, len(fused))
	for _, f := range fused {
		chunk, ok, err := r.chunks.GetChunk(ctx, f.ChunkID)
		if err != nil {
			return nil, fmt.Errorf("rag: hydrate %s: %w", f.ChunkID, err)
		}
		if !ok {
			r.log.Debug("dropping dangling chunk id", slog.String("chunk_id", f.ChunkID))
			continue
		}
		results = append(results, RetrievalResult{Chunk: chunk, Score: f.Score})
	}
	return results, nil
}

// resolve fills zero request fields from the retriever defaults.
func (r *Retriever) resolve(req SearchRequest) SearchRequest {
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.VectorLimit <= 0 {
		req.VectorLimit = r.cfg.VectorLimit
	}
	if req.LexicalLimit <= 0 {
		req.LexicalLimit = r.cfg.LexicalLimit
	}
	if req.FinalLimit <= 0 {
		req.FinalLimit = r.cfg.FinalLimit
	}
	if req.RRFK <= 0 {
		req.RRFK = r.cfg.RRFK
	}
	return req
}
