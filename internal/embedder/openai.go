// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Each implementation talks to a
// different backend (OpenAI, Azure OpenAI, Ollama) over HTTP through a
// retrying resty client; Mock is a deterministic offline stand-in.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// model is the embedding model name, or the deployment name on Azure.
	model string
	// dimensions is the requested embedding vector length (0 = model default).
	dimensions int
	// path is the request path relative to the client's base URL.
	path string
	// client carries base URL, auth headers, timeout and retry policy.
	client *resty.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-3-small").
	// On Azure it is the deployment name.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// Timeout bounds each HTTP attempt (default: 30s).
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	client := newClient(cfg.BaseURL, cfg.Timeout, 30*time.Second)
	path := "/embeddings"
	if cfg.Azure {
		client.SetHeader("api-key", cfg.APIKey).
			SetQueryParam("api-version", cfg.APIVersion)
		path = "/deployments/" + cfg.Model + "/embeddings"
	} else {
		client.SetAuthToken(cfg.APIKey)
	}
	return &OpenAIEmbedder{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		path:       path,
		client:     client,
	}
}

// Dimensions returns the requested vector length, or 0 for the model default.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// openaiErrorResponse is the error envelope returned on non-2xx responses.
type openaiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var (
		result  openaiEmbedResponse
		failure openaiErrorResponse
	)
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}).
		SetResult(&result).
		SetError(&failure).
		Post(e.path)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %w", err)
	}
	if resp.IsError() {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode())
		if failure.Error != nil && failure.Error.Message != "" {
			msg = failure.Error.Message
		}
		return nil, fmt.Errorf("openai embedder: %s", msg)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// newClient builds the resty client shared by the HTTP embedders: JSON
// headers, a per-attempt timeout and three retries on 429 and 5xx.
func newClient(baseURL string, timeout, fallback time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = fallback
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
}
