package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/provider"
)

// LLMPinger probes the chat backend. It prefers the backend's zero-cost
// health endpoint and falls back to a one-message Generate call only for
// backends without one.
type LLMPinger struct {
	// healthCheck is the zero-cost probe; nil for backends without one.
	healthCheck provider.HealthChecker
	// model is the fallback probe target.
	model model.BaseChatModel
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger. hc may be nil.
func NewLLMPinger(hc provider.HealthChecker, m model.BaseChatModel, name string) *LLMPinger {
	return &LLMPinger{healthCheck: hc, model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the backend.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no health probe available", p.name)
	}

	logging.FromContext(ctx).Warn("pinger: falling back to Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// DBPinger probes a local database. Both the knowledge store and the chat
// history store satisfy its target interface.
type DBPinger struct {
	db   dbPinger
	name string
}

// dbPinger is satisfied by *knowledge.Store and *store.SQLiteStore.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// NewDBPinger constructs a DBPinger labelled name.
func NewDBPinger(name string, db dbPinger) *DBPinger {
	return &DBPinger{db: db, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *DBPinger) Name() string { return p.name }

// Ping checks the database connection.
func (p *DBPinger) Ping(ctx context.Context) error { return p.db.Ping(ctx) }

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
