package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbai-go/internal/auth"
	"github.com/54b3r/kbai-go/internal/logging"
	"github.com/54b3r/kbai-go/internal/provider"
	"github.com/54b3r/kbai-go/internal/server"
	"github.com/54b3r/kbai-go/internal/store"
	"github.com/54b3r/kbai-go/internal/tracing"
)

// NewServeCmd constructs the `kbai serve` command, which starts the HTTP
// chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbai HTTP chat API",
		Long: `Start the kbai HTTP server.

The server exposes the chat API (JSON and SSE streaming), chat history,
health and readiness probes, and Prometheus metrics at /metrics.

The knowledge base must be ingested first ('kbai ingest'). With
VECTOR_BACKEND=sqlite (default) embeddings are loaded into memory at start;
VECTOR_BACKEND=qdrant searches the Qdrant collection instead.

Examples:
  kbai serve
  kbai serve --port 9090
  AUTH_ENABLED=false kbai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, traced := tracing.Register(tracing.ConfigFromEnv())
			defer flush()
			log.Info("langfuse tracing", slog.Bool("enabled", traced))

			kb, err := openKnowledgeBase(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer kb.Close()

			reg := prometheus.DefaultRegisterer
			retriever, err := kb.retriever(log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			orch, chatModel, providerCfg, err := newOrchestrator(ctx, kb, retriever)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
				slog.Bool("reranker", retriever.RerankEnabled()),
			)

			historyPath, err := historyDBPath()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			history, err := store.Open(historyPath)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = history.Close() }()
			log.Info("history store opened", slog.String("path", historyPath))

			pingers := []server.Pinger{
				server.NewLLMPinger(provider.HealthCheckFor(providerCfg), chatModel, string(providerCfg.Backend)),
				server.NewDBPinger("knowledge_db", kb.store),
				server.NewDBPinger("history_db", history),
			}
			if kb.qdrant != nil {
				pingers = append(pingers, server.NewQdrantPinger(kb.qdrant.Client()))
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("KBAI_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("KBAI_PORT", port)
			}

			srv, err := server.New(orch, history, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				Auth:            auth.ConfigFromEnv(),
				CORSOrigins:     splitList(getEnvOrDefault("CORS_ORIGINS", "")),
				MetricsRegistry: reg,
				MetricsGatherer: prometheus.DefaultGatherer,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on")

	return cmd
}
