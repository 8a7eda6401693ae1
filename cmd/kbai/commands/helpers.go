package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbai-go/internal/agent"
	"github.com/54b3r/kbai-go/internal/embedder"
	"github.com/54b3r/kbai-go/internal/knowledge"
	"github.com/54b3r/kbai-go/internal/provider"
	"github.com/54b3r/kbai-go/internal/rag"
	"github.com/54b3r/kbai-go/internal/tools"
)

// Vector backends selectable via VECTOR_BACKEND.
const (
	vectorBackendSQLite = "sqlite"
	vectorBackendQdrant = "qdrant"
)

// knowledgeBase bundles the retrieval collaborators every command that reads
// the corpus needs.
type knowledgeBase struct {
	store    *knowledge.Store
	embedder rag.Embedder
	vectors  rag.VectorIndex
	// qdrant is set only when VECTOR_BACKEND=qdrant.
	qdrant *rag.QdrantIndex
}

// Close releases the vector index and the knowledge database.
func (kb *knowledgeBase) Close() {
	if kb.vectors != nil {
		_ = kb.vectors.Close()
	}
	_ = kb.store.Close()
}

// openKnowledgeBase opens the knowledge DB, the embedder and the configured
// vector index. With the sqlite backend the stored embeddings are loaded
// into an in-memory index.
func openKnowledgeBase(ctx context.Context, log *slog.Logger, emb rag.Embedder) (*knowledgeBase, error) {
	path, err := knowledgeDBPath()
	if err != nil {
		return nil, err
	}
	st, err := knowledge.Open(path)
	if err != nil {
		return nil, err
	}
	kb := &knowledgeBase{store: st}

	if emb == nil {
		emb, err = embedder.NewFromEnv(ctx)
		if err != nil {
			kb.Close()
			return nil, fmt.Errorf("failed to initialise embedder: %w", err)
		}
	}
	kb.embedder = emb

	switch backend := vectorBackend(); backend {
	case vectorBackendQdrant:
		q, err := rag.NewQdrantIndex(ctx, qdrantConfigFromEnv(embeddingDimensions(emb)))
		if err != nil {
			kb.Close()
			return nil, err
		}
		kb.vectors, kb.qdrant = q, q
	case vectorBackendSQLite:
		mem := rag.NewMemoryIndex()
		records, err := st.LoadEmbeddings(ctx)
		if err != nil {
			kb.Close()
			return nil, err
		}
		if err := mem.Upsert(ctx, records); err != nil {
			kb.Close()
			return nil, err
		}
		kb.vectors = mem
	default:
		kb.Close()
		return nil, fmt.Errorf("unsupported VECTOR_BACKEND %q (want %s or %s)", backend, vectorBackendSQLite, vectorBackendQdrant)
	}

	log.Info("knowledge base opened",
		slog.String("path", path),
		slog.String("vector_backend", vectorBackend()),
	)
	return kb, nil
}

// retriever builds the hybrid retriever over kb. reg may be nil.
func (kb *knowledgeBase) retriever(log *slog.Logger, reg prometheus.Registerer) (*rag.Retriever, error) {
	var metrics *rag.Metrics
	if reg != nil {
		metrics = rag.NewMetrics(reg)
	}
	return rag.NewRetriever(rag.Deps{
		Embedder: kb.embedder,
		Vectors:  kb.vectors,
		Lexical:  kb.store,
		Chunks:   kb.store,
		Reranker: rag.NewReranker(rerankConfigFromEnv(), metrics, log),
		Metrics:  metrics,
		Logger:   log,
	}, retrievalConfigFromEnv())
}

// vectorBackend returns VECTOR_BACKEND, defaulting to sqlite.
func vectorBackend() string {
	return strings.ToLower(getEnvOrDefault("VECTOR_BACKEND", vectorBackendSQLite))
}

// embeddingDimensions prefers the embedder's own size over the backend default.
func embeddingDimensions(emb rag.Embedder) int {
	if d, ok := emb.(embedder.Dimensioned); ok && d.Dimensions() > 0 {
		return d.Dimensions()
	}
	return embedder.DefaultDimensions(embedder.Backend())
}

// knowledgeDBPath returns KBAI_KNOWLEDGE_DB or ~/.kbai/knowledge.db.
func knowledgeDBPath() (string, error) {
	if p := os.Getenv("KBAI_KNOWLEDGE_DB"); p != "" {
		return p, nil
	}
	return knowledge.DefaultDBPath()
}

// historyDBPath returns KBAI_HISTORY_DB or history.db next to the default
// knowledge database.
func historyDBPath() (string, error) {
	if p := os.Getenv("KBAI_HISTORY_DB"); p != "" {
		return p, nil
	}
	kp, err := knowledge.DefaultDBPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(kp), "history.db"), nil
}

// splitList parses a comma-separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// newOrchestrator builds the chat model and binds the knowledge tools.
func newOrchestrator(ctx context.Context, kb *knowledgeBase, retriever *rag.Retriever) (*agent.Orchestrator, model.ToolCallingChatModel, *provider.Config, error) {
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	knowledgeTools := tools.New(retriever, kb.store)
	agentTools := make([]tool.InvokableTool, 0, len(knowledgeTools))
	for _, t := range knowledgeTools {
		agentTools = append(agentTools, t)
	}

	orch, err := agent.New(&agent.Config{
		ChatModel:        chatModel,
		Tools:            agentTools,
		MaxToolRounds:    getEnvInt("AGENT_MAX_TOOL_ROUNDS", agent.DefaultMaxToolRounds),
		MaxContextTokens: getEnvInt("AGENT_MAX_CONTEXT_TOKENS", 0),
		ModelName:        providerCfg.ModelName(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise agent: %w", err)
	}
	return orch, chatModel, providerCfg, nil
}
