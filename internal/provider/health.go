package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HealthChecker probes a backend without generating tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a listing endpoint that every backend
// exposes for free (model lists). Any 2xx response counts as healthy.
type httpHealthCheck struct {
	client *resty.Client
	path   string
}

// HealthCheck performs the probe.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	resp, err := h.client.R().SetContext(ctx).Get(h.path)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("provider: health check: HTTP %d", resp.StatusCode())
	}
	return nil
}

// HealthCheckFor returns a zero-cost HealthChecker for cfg's backend, or nil
// when the backend has no such endpoint (Bedrock) and the caller must fall
// back to a generate call.
func HealthCheckFor(cfg *Config) HealthChecker {
	newClient := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(strings.TrimRight(base, "/")).
			SetTimeout(5 * time.Second)
	}

	switch cfg.Backend {
	case BackendOllama:
		host := cfg.Ollama.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		return &httpHealthCheck{client: newClient(host), path: "/api/tags"}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{client: newClient(base).SetAuthToken(cfg.OpenAI.APIKey), path: "/models"}
	case BackendAzure:
		c := newClient(cfg.AzureOpenAI.Endpoint).
			SetHeader("api-key", cfg.AzureOpenAI.APIKey).
			SetQueryParam("api-version", cfg.AzureOpenAI.APIVersion)
		return &httpHealthCheck{client: c, path: "/openai/models"}
	case BackendGemini:
		c := newClient("https://generativelanguage.googleapis.com/v1beta").
			SetHeader("x-goog-api-key", cfg.Gemini.APIKey)
		return &httpHealthCheck{client: c, path: "/models"}
	}
	return nil
}
