// Package tracing wires Langfuse as a global eino callback handler so every
// chat model call made by the orchestrator is traced.
//
// Environment variables:
//
//	LANGFUSE_PUBLIC_KEY, LANGFUSE_SECRET_KEY  (both required to enable)
//	LANGFUSE_HOST                             (default: http://localhost:3000)
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// ConfigFromEnv reads the Langfuse settings.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	return cfg
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool { return c.PublicKey != "" && c.SecretKey != "" }

// Setup builds the Langfuse callback handler. The returned flush function
// must be called before process exit so buffered traces are sent. When
// Langfuse is not configured the handler and flush are nil and ok is false.
func Setup(cfg Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !cfg.Enabled() {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      cfg.Host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
	})
	return handler, flush, true
}

// Register installs the Langfuse handler globally when configured and
// returns a flush function that is always safe to call.
func Register(cfg Config) (flush func(), ok bool) {
	handler, flush, ok := Setup(cfg)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
