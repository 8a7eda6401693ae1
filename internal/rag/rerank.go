package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reranker defaults.
const (
	DefaultRerankModel    = "rerank-v3.5"
	DefaultRerankTopN     = 5
	DefaultRerankEndpoint = "https://api.cohere.com"
	DefaultRerankTimeout  = 10 * time.Second
)

// RerankConfig configures the cross-encoder reranker.
type RerankConfig struct {
	// Enabled turns reranking on. It takes effect only when APIKey is set.
	Enabled bool
	// APIKey authenticates against the rerank endpoint.
	APIKey string
	// Model is the rerank model name (default: rerank-v3.5).
	Model string
	// TopN is the number of results to keep (default: 5).
	TopN int
	// Endpoint is the API base URL (default: https://api.cohere.com).
	Endpoint string
	// Timeout bounds each rerank call (default: 10s).
	Timeout time.Duration
}

// NewReranker resolves the reranker capability once. It returns a
// CohereReranker when enabled with credentials, otherwise a NopReranker.
func NewReranker(cfg *RerankConfig, metrics *Metrics, log *slog.Logger) Reranker {
	if cfg == nil || !cfg.Enabled {
		return NopReranker{}
	}
	if cfg.APIKey == "" {
		if log != nil {
			log.Warn("reranker enabled without an API key; reranking disabled")
		}
		return NopReranker{}
	}
	return NewCohereReranker(cfg, metrics, log)
}

// NopReranker leaves candidates untouched.
type NopReranker struct{}

// Rerank returns candidates unchanged.
func (NopReranker) Rerank(_ context.Context, _ string, candidates []RetrievalResult) []RetrievalResult {
	return candidates
}

// Enabled reports false.
func (NopReranker) Enabled() bool { return false }

// TopN reports zero.
func (NopReranker) TopN() int { return 0 }

// CohereReranker calls a Cohere-compatible /v2/rerank endpoint.
type CohereReranker struct {
	client  *resty.Client
	model   string
	topN    int
	metrics *Metrics
	log     *slog.Logger
}

// rerankRequest is the JSON body for POST /v2/rerank.
type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// rerankResponse is the subset of the /v2/rerank response that is read.
type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewCohereReranker builds a CohereReranker, applying defaults for zero fields.
func NewCohereReranker(cfg *RerankConfig, metrics *Metrics, log *slog.Logger) *CohereReranker {
	model := cfg.Model
	if model == "" {
		model = DefaultRerankModel
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = DefaultRerankTopN
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultRerankEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)

	return &CohereReranker{client: client, model: model, topN: topN, metrics: metrics, log: log}
}

// Enabled reports true.
func (c *CohereReranker) Enabled() bool { return true }

// TopN returns the configured result count.
func (c *CohereReranker) TopN() int { return c.topN }

// Rerank scores candidates by their generation text. The returned slice is
// ordered by relevance, holds at most TopN entries and carries the reranker
// score. Any failure returns candidates unchanged.
func (c *CohereReranker) Rerank(ctx context.Context, query string, candidates []RetrievalResult) []RetrievalResult {
	if len(candidates) == 0 {
		return candidates
	}
	out, err := c.rerank(ctx, query, candidates)
	if err != nil {
		c.metrics.degraded(reasonRerankError)
		c.log.Warn("rerank failed, keeping fused order", slog.Any("error", err))
		return candidates
	}
	return out
}

func (c *CohereReranker) rerank(ctx context.Context, query string, candidates []RetrievalResult) ([]RetrievalResult, error) {
	docs := make([]string, len(candidates))
	for i, cand := range candidates {
		docs[i] = cand.GenerationText
	}
	topN := min(c.topN, len(candidates))

	var body rerankResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rerankRequest{Model: c.model, Query: query, Documents: docs, TopN: topN}).
		SetResult(&body).
		Post("/v2/rerank")
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rerank: HTTP %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("rerank: empty results")
	}

	out := make([]RetrievalResult, 0, len(body.Results))
	for _, r := range body.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank: result index %d out of range", r.Index)
		}
		hit := candidates[r.Index]
		hit.Score = r.RelevanceScore
		out = append(out, hit)
	}
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
